package cli

import (
	"fmt"
	"strconv"
	"time"
)

// secondsFlag accepts a Go duration ("90s", "2m") or a bare number of
// seconds ("90").
type secondsFlag struct{ d *time.Duration }

func (f secondsFlag) String() string {
	if f.d == nil {
		return ""
	}
	return f.d.String()
}

func (f secondsFlag) Set(s string) error {
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		if n <= 0 {
			return fmt.Errorf("must be positive, got %s", s)
		}
		*f.d = time.Duration(n * float64(time.Second))
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("not a duration or number of seconds: %q", s)
	}
	if d <= 0 {
		return fmt.Errorf("must be positive, got %s", s)
	}
	*f.d = d
	return nil
}
