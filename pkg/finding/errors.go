package finding

import "errors"

// Sentinel errors for finding validation.
// Callers should use errors.Is() to check for these.
var (
	// ErrUnknownSeverity indicates a severity string outside low/medium/high.
	ErrUnknownSeverity = errors.New("finding: unknown severity")

	// ErrInvalidFinding indicates a finding is missing its type or
	// check ID, or carries an invalid severity.
	ErrInvalidFinding = errors.New("finding: invalid finding")
)
