// Package defaults provides canonical default values for the entire codebase.
// This is the SINGLE SOURCE OF TRUTH for runtime configuration defaults.
//
// Usage:
//
//	cfg.MaxConcurrency = defaults.MaxConcurrencyCap
//	req.Header.Set("User-Agent", defaults.UserAgent())
//
// DO NOT hardcode values like `MaxRedirects: 5` in other packages.
package defaults

import "fmt"

// Version is the current vulnscan version.
// Overridden at build time via -ldflags "-X .../pkg/defaults.Version=x.y.z".
var Version = "0.4.0"

// ToolName is the program name used in banners, metrics and traces.
const ToolName = "vulnscan"

// UserAgent returns the User-Agent string sent with every probe.
func UserAgent() string {
	return fmt.Sprintf("%s/%s", ToolName, Version)
}

// ============================================================================
// CONCURRENCY SETTINGS
// ============================================================================

const (
	// MaxConcurrencyCap is the ceiling on simultaneous checks per scan (20).
	// The effective default is min(registered checks, MaxConcurrencyCap).
	MaxConcurrencyCap = 20
)

// ============================================================================
// FETCH SETTINGS
// ============================================================================

const (
	// MaxRedirects is how many redirects a probe follows before failing (5).
	MaxRedirects = 5

	// MaxBodySize caps how much of a response body is kept (5MB).
	MaxBodySize int64 = 5 * 1024 * 1024

	// FetchRetries is the number of attempts for transient fetch errors (2).
	FetchRetries = 2

	// FetchRateLimit is requests per second per scanner; 0 means unlimited.
	FetchRateLimit = 0
)

// ============================================================================
// SESSION STORE SETTINGS
// ============================================================================

const (
	// SessionMaxEntries bounds the in-memory report store (10000).
	SessionMaxEntries = 10000
)

// ============================================================================
// HTTP API SETTINGS
// ============================================================================

const (
	// ListenAddr is the default address for `vulnscan serve`.
	ListenAddr = ":8080"

	// ClientRateLimit is POST /scan requests per minute per client IP (10).
	ClientRateLimit = 10

	// ClientBurst is the burst allowance for the per-client limiter (3).
	ClientBurst = 3

	// ContentTypeJSON is the response content type for API bodies.
	ContentTypeJSON = "application/json"

	// MaxFormSize bounds POST /scan request bodies (64KB).
	MaxFormSize int64 = 64 * 1024
)
