// Package input collects scan targets and list-valued flags from the
// command line.
package input

import "strings"

// StringSliceFlag is a flag.Value for repeated or comma-separated lists:
// "-checks a,b -checks c" yields [a b c]. Blank items are dropped.
type StringSliceFlag []string

func (s *StringSliceFlag) String() string {
	if s == nil {
		return ""
	}
	return strings.Join(*s, ",")
}

func (s *StringSliceFlag) Set(value string) error {
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			*s = append(*s, v)
		}
	}
	return nil
}

// Values returns the collected items, or nil when the flag was never set.
func (s StringSliceFlag) Values() []string {
	if len(s) == 0 {
		return nil
	}
	return []string(s)
}
