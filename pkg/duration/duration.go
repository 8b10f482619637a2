// Package duration provides canonical time constants for the entire codebase.
// This is the SINGLE SOURCE OF TRUTH for all time-based configuration.
//
// Usage:
//
//	ctx, cancel := context.WithTimeout(ctx, duration.ScanTimeout)
//
// DO NOT use hardcoded time.Duration values like `15 * time.Second` in
// other packages. Reference the appropriate constant from here.
package duration

import "time"

// ============================================================================
// FETCH TIMEOUTS
// ============================================================================

const (
	// FetchTimeout bounds one probe including redirects and body read (10s).
	FetchTimeout = 10 * time.Second

	// DialTimeout bounds TCP connection establishment (5s).
	DialTimeout = 5 * time.Second

	// TLSHandshake bounds the TLS handshake (5s).
	TLSHandshake = 5 * time.Second

	// IdleConn is how long idle pooled connections are kept (90s).
	IdleConn = 90 * time.Second

	// RetryBase is the first backoff delay between fetch attempts (250ms).
	RetryBase = 250 * time.Millisecond

	// RetryMax caps any single backoff delay (2s).
	RetryMax = 2 * time.Second

	// DNSCacheTTL is how long a successful lookup is reused (5m).
	DNSCacheTTL = 5 * time.Minute

	// DNSNegativeTTL is how long a failed lookup is remembered (30s).
	DNSNegativeTTL = 30 * time.Second
)

// ============================================================================
// SCAN TIMEOUTS
// ============================================================================

const (
	// CheckTimeout bounds a single check, independent of other checks (15s).
	CheckTimeout = 15 * time.Second

	// ScanTimeout bounds a whole scan (60s).
	ScanTimeout = 60 * time.Second
)

// ============================================================================
// SESSION STORE
// ============================================================================

const (
	// SessionTTL is how long a stored report can be fetched by scan ID (1h).
	SessionTTL = time.Hour

	// SessionSweep is how often the background sweeper runs (5m).
	SessionSweep = 5 * time.Minute
)

// ============================================================================
// SERVER / SHUTDOWN
// ============================================================================

const (
	// ServerReadHeader bounds reading request headers (10s).
	ServerReadHeader = 10 * time.Second

	// ServerWrite must exceed ScanTimeout so POST /scan can answer (90s).
	ServerWrite = 90 * time.Second

	// ServerIdle is the keep-alive idle timeout (120s).
	ServerIdle = 120 * time.Second

	// Shutdown bounds graceful server and exporter shutdown (10s).
	Shutdown = 10 * time.Second

	// SignalGrace is how long a second interrupt is awaited before a hard exit (5s).
	SignalGrace = 5 * time.Second
)
