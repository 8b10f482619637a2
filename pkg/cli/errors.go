package cli

import (
	"errors"

	"github.com/vulnscan/vulnscan/pkg/checks"
	"github.com/vulnscan/vulnscan/pkg/config"
	"github.com/vulnscan/vulnscan/pkg/defaults"
	"github.com/vulnscan/vulnscan/pkg/input"
	"github.com/vulnscan/vulnscan/pkg/scanner"
	"github.com/vulnscan/vulnscan/pkg/target"
)

var (
	// ErrUsage indicates bad command-line arguments.
	ErrUsage = errors.New("usage error")

	// ErrInterrupted is the cancellation cause after SIGINT or SIGTERM.
	ErrInterrupted = errors.New("interrupted")
)

// ExitCode maps a command error to a process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return defaults.ExitSuccess
	case errors.Is(err, ErrInterrupted):
		return defaults.ExitInterrupted
	case errors.Is(err, ErrUsage),
		errors.Is(err, target.ErrInvalidTarget),
		errors.Is(err, config.ErrInvalidConfig),
		errors.Is(err, config.ErrConfigNotFound),
		errors.Is(err, checks.ErrUnknownCheck),
		errors.Is(err, input.ErrNoTargets):
		return defaults.ExitUserError
	case errors.Is(err, scanner.ErrAllChecksFailed):
		return defaults.ExitNetworkError
	case errors.Is(err, scanner.ErrScanCancelled):
		return defaults.ExitInterrupted
	default:
		return defaults.ExitInternalError
	}
}
