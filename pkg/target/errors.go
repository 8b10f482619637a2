package target

import (
	"errors"
	"fmt"
)

// Sentinel errors for target validation. Every validation failure is an
// *InvalidTargetError whose Err is one of these.
var (
	// ErrInvalidTarget matches any *InvalidTargetError via errors.Is.
	ErrInvalidTarget = errors.New("target: invalid target")

	// ErrMalformedURL indicates input that does not parse as an absolute URL.
	ErrMalformedURL = errors.New("target: malformed URL")

	// ErrSchemeNotAllowed indicates a scheme other than http or https.
	ErrSchemeNotAllowed = errors.New("target: scheme not allowed")

	// ErrBlockedHost indicates the SSRF guard refused the host or one of
	// its addresses (loopback, private, link-local, metadata, blocklist).
	ErrBlockedHost = errors.New("target: host is blocked")

	// ErrUnresolvableHost indicates the host has no DNS records.
	ErrUnresolvableHost = errors.New("target: host cannot be resolved")
)

// InvalidTargetError reports why user input was rejected. It is a user
// input fault: the HTTP API maps it to 400 and the CLI to exit code 2.
type InvalidTargetError struct {
	Input  string
	Reason string
	Err    error
}

func (e *InvalidTargetError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid target %q: %v", e.Input, e.Err)
	}
	return fmt.Sprintf("invalid target %q: %s", e.Input, e.Reason)
}

func (e *InvalidTargetError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrInvalidTarget) true for every InvalidTargetError.
func (e *InvalidTargetError) Is(target error) bool {
	return target == ErrInvalidTarget
}

func invalid(input string, err error, format string, args ...any) *InvalidTargetError {
	return &InvalidTargetError{Input: input, Reason: fmt.Sprintf(format, args...), Err: err}
}
