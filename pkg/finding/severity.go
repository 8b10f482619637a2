package finding

import (
	"fmt"
	"strings"
)

// Severity represents the severity level of a finding.
// Values are lowercase strings; the JSON form is the same string.
type Severity string

const (
	// High represents significant impact requiring prompt fix (SQLi).
	High Severity = "high"

	// Medium represents moderate impact (reflected XSS, open redirect,
	// missing HSTS, cookies without Secure).
	Medium Severity = "medium"

	// Low represents limited impact (verbose banners, missing
	// defense-in-depth headers).
	Low Severity = "low"
)

// All returns every severity from most to least severe.
func All() []Severity {
	return []Severity{High, Medium, Low}
}

// IsValid reports whether s is a recognized severity level.
func (s Severity) IsValid() bool {
	switch s {
	case High, Medium, Low:
		return true
	}
	return false
}

// Score returns a numeric score for sorting and comparison.
// High=3, Medium=2, Low=1, Unknown=0.
func (s Severity) Score() int {
	switch s {
	case High:
		return 3
	case Medium:
		return 2
	case Low:
		return 1
	default:
		return 0
	}
}

// String returns the severity as a string.
func (s Severity) String() string {
	return string(s)
}

// ParseSeverity converts user input such as "HIGH" or " Medium " to a
// Severity. Matching is case-insensitive.
func ParseSeverity(v string) (Severity, error) {
	s := Severity(strings.ToLower(strings.TrimSpace(v)))
	if !s.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownSeverity, v)
	}
	return s, nil
}

// Max returns the more severe of a and b. Ties return a.
func Max(a, b Severity) Severity {
	if b.Score() > a.Score() {
		return b
	}
	return a
}
