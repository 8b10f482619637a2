package scanner

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vulnscan/vulnscan/pkg/checks"
)

// Sentinel errors for scan-level failures.
// Callers should use errors.Is() to check for these.
var (
	// ErrNoChecks indicates the registry holds no checks.
	ErrNoChecks = errors.New("scanner: no checks registered")

	// ErrScanCancelled indicates the caller's context ended before the
	// scan finished. It wraps the context error.
	ErrScanCancelled = errors.New("scanner: scan cancelled")

	// ErrAllChecksFailed matches any *AllChecksFailedError.
	ErrAllChecksFailed = errors.New("scanner: all checks failed")

	// ErrCheckTimeout is the failure of a check that outlived its own
	// deadline or the scan deadline.
	ErrCheckTimeout = errors.New("scanner: check timed out")
)

// AllChecksFailedError reports a scan in which no check completed. It is
// a systemic failure: the HTTP API maps it to 502 and the CLI to exit 3.
type AllChecksFailedError struct {
	Target   string
	Failures []checks.Result
}

func (e *AllChecksFailedError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.CheckID, f.Err))
	}
	return fmt.Sprintf("all %d checks failed for %s: %s", len(e.Failures), e.Target, strings.Join(parts, "; "))
}

// Unwrap exposes the per-check errors to errors.Is and errors.As.
func (e *AllChecksFailedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// Is makes errors.Is(err, ErrAllChecksFailed) true.
func (e *AllChecksFailedError) Is(target error) bool {
	return target == ErrAllChecksFailed
}

// PanicError is the failure of a check that panicked.
type PanicError struct {
	CheckID string
	Value   any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("check %s panicked: %v", e.CheckID, e.Value)
}
