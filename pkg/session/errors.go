package session

import "errors"

// Sentinel errors returned by Store implementations.
// Callers should use errors.Is() to check for these.
var (
	// ErrNotFound indicates the scan ID is unknown or its entry expired.
	ErrNotFound = errors.New("session: scan not found")

	// ErrDuplicateID indicates a report with the same scan ID is stored.
	ErrDuplicateID = errors.New("session: duplicate scan id")

	// ErrInvalidReport indicates a nil report or an empty scan ID.
	ErrInvalidReport = errors.New("session: invalid report")

	// ErrClosed indicates the store was closed.
	ErrClosed = errors.New("session: store closed")
)
