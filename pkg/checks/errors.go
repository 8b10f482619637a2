package checks

import "errors"

// Sentinel errors for registry operations.
var (
	// ErrEmptyID indicates a check whose ID() is empty.
	ErrEmptyID = errors.New("checks: empty check id")

	// ErrDuplicateID indicates a second check with an ID already registered.
	ErrDuplicateID = errors.New("checks: duplicate check id")

	// ErrSealed indicates registration after the registry was sealed.
	ErrSealed = errors.New("checks: registry is sealed")

	// ErrUnknownCheck indicates a lookup of an ID that is not registered.
	ErrUnknownCheck = errors.New("checks: unknown check")
)
