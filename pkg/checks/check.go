// Package checks defines the Check capability, the registry that holds
// the process-wide catalogue of checks, and the built-in checks.
//
// A check probes one target through the Fetcher it is given and returns
// findings. Checks keep no state between runs and share nothing with
// other checks, so the scanner may run them in parallel.
package checks

import (
	"context"

	"github.com/vulnscan/vulnscan/pkg/fetcher"
	"github.com/vulnscan/vulnscan/pkg/finding"
	"github.com/vulnscan/vulnscan/pkg/target"
)

// Check is one independent vulnerability test.
type Check interface {
	// ID is stable across releases; it appears in reports and in
	// --checks selections.
	ID() string

	// Run probes t. An error means the check could not complete; any
	// findings returned alongside it are discarded.
	Run(ctx context.Context, t target.Target, f fetcher.Fetcher) ([]finding.Finding, error)
}

// Describer is implemented by checks that carry a one-line summary for
// `vulnscan checks`.
type Describer interface {
	Description() string
}

// Result is the outcome of running one check. Err non-nil means failure.
type Result struct {
	CheckID  string
	Findings []finding.Finding
	Err      error
}

// Failed reports whether the check could not complete.
func (r Result) Failed() bool { return r.Err != nil }

// RunFunc is the signature of Check.Run.
type RunFunc func(ctx context.Context, t target.Target, f fetcher.Fetcher) ([]finding.Finding, error)

// funcCheck adapts a RunFunc to Check.
type funcCheck struct {
	id   string
	desc string
	run  RunFunc
}

var (
	_ Check     = (*funcCheck)(nil)
	_ Describer = (*funcCheck)(nil)
)

// New returns a Check with the given ID backed by run.
func New(id, description string, run RunFunc) Check {
	return &funcCheck{id: id, desc: description, run: run}
}

func (c *funcCheck) ID() string          { return c.id }
func (c *funcCheck) Description() string { return c.desc }

func (c *funcCheck) Run(ctx context.Context, t target.Target, f fetcher.Fetcher) ([]finding.Finding, error) {
	return c.run(ctx, t, f)
}

// DescriptionOf returns c's description, or "" if it has none.
func DescriptionOf(c Check) string {
	if d, ok := c.(Describer); ok {
		return d.Description()
	}
	return ""
}
