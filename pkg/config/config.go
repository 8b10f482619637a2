// Package config loads vulnscan settings. Sources apply in order:
// built-in defaults, a YAML file, VULNSCAN_* environment variables, and
// finally command-line flags set by the caller.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vulnscan/vulnscan/pkg/defaults"
	"github.com/vulnscan/vulnscan/pkg/duration"
	"github.com/vulnscan/vulnscan/pkg/fetcher"
	"github.com/vulnscan/vulnscan/pkg/httpclient"
	"github.com/vulnscan/vulnscan/pkg/scanner"
	"github.com/vulnscan/vulnscan/pkg/target"
	"github.com/vulnscan/vulnscan/pkg/tracing"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "VULNSCAN_"

// Config holds every tunable. The YAML keys double as environment names:
// fetch_timeout is read from VULNSCAN_FETCH_TIMEOUT.
type Config struct {
	// Fetching
	FetchTimeout  time.Duration `yaml:"fetch_timeout"`
	MaxRedirects  int           `yaml:"max_redirects"`
	MaxBodySize   int64         `yaml:"max_body_size"`
	Retries       int           `yaml:"retries"`
	RateLimit     float64       `yaml:"rate_limit"` // requests per second; 0 = unlimited
	UserAgent     string        `yaml:"user_agent"`
	Proxy         string        `yaml:"proxy"`
	TLSSkipVerify bool          `yaml:"tls_skip_verify"`

	// Scanning
	CheckTimeout   time.Duration `yaml:"check_timeout"`
	ScanTimeout    time.Duration `yaml:"scan_timeout"`
	MaxConcurrency int           `yaml:"max_concurrency"`
	Checks         []string      `yaml:"checks"` // empty = all

	// SSRF guard
	AllowHosts []string `yaml:"allow_hosts"`
	BlockHosts []string `yaml:"block_hosts"`

	// Session store
	SessionTTL    time.Duration `yaml:"session_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	MaxSessions   int           `yaml:"max_sessions"`

	// HTTP API
	ListenAddr      string `yaml:"listen_addr"`
	ClientRateLimit int    `yaml:"client_rate_limit"` // POST /scan per minute per IP; 0 = unlimited
	ClientBurst     int    `yaml:"client_burst"`

	// Telemetry
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	LogLevel     string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat    string `yaml:"log_format"` // text, json
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		FetchTimeout:    duration.FetchTimeout,
		MaxRedirects:    defaults.MaxRedirects,
		MaxBodySize:     defaults.MaxBodySize,
		Retries:         defaults.FetchRetries,
		RateLimit:       defaults.FetchRateLimit,
		UserAgent:       defaults.UserAgent(),
		CheckTimeout:    duration.CheckTimeout,
		ScanTimeout:     duration.ScanTimeout,
		MaxConcurrency:  defaults.MaxConcurrencyCap,
		SessionTTL:      duration.SessionTTL,
		SweepInterval:   duration.SessionSweep,
		MaxSessions:     defaults.SessionMaxEntries,
		ListenAddr:      defaults.ListenAddr,
		ClientRateLimit: defaults.ClientRateLimit,
		ClientBurst:     defaults.ClientBurst,
		OTLPInsecure:    true,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// Load builds a Config from the defaults, the YAML file at path (skipped
// when path is empty) and the process environment, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// LoadFile overlays the YAML file at path. Keys absent from the file keep
// their current values; unknown keys are an error.
func (c *Config) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return fmt.Errorf("reading config file: %w", err)
	}
	defer f.Close()
	if err := c.Decode(f); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// Decode overlays YAML read from r.
func (c *Config) Decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// ApplyEnv overlays VULNSCAN_* variables found through lookup. Lists are
// comma-separated; durations use Go syntax ("15s").
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	env := func(key string) (string, bool) {
		v, ok := lookup(EnvPrefix + strings.ToUpper(key))
		return strings.TrimSpace(v), ok
	}
	str := func(key string, dst *string) {
		if v, ok := env(key); ok {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := env(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, strings.ToUpper(key), err))
				return
			}
			*dst = d
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := env(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, strings.ToUpper(key), err))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := env(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, strings.ToUpper(key), err))
				return
			}
			*dst = b
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := env(key); ok {
			*dst = SplitList(v)
		}
	}

	dur("fetch_timeout", &c.FetchTimeout)
	integer("max_redirects", &c.MaxRedirects)
	if v, ok := env("max_body_size"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sMAX_BODY_SIZE: %w", EnvPrefix, err))
		} else {
			c.MaxBodySize = n
		}
	}
	integer("retries", &c.Retries)
	if v, ok := env("rate_limit"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sRATE_LIMIT: %w", EnvPrefix, err))
		} else {
			c.RateLimit = f
		}
	}
	str("user_agent", &c.UserAgent)
	str("proxy", &c.Proxy)
	boolean("tls_skip_verify", &c.TLSSkipVerify)
	dur("check_timeout", &c.CheckTimeout)
	dur("scan_timeout", &c.ScanTimeout)
	integer("max_concurrency", &c.MaxConcurrency)
	list("checks", &c.Checks)
	list("allow_hosts", &c.AllowHosts)
	list("block_hosts", &c.BlockHosts)
	dur("session_ttl", &c.SessionTTL)
	dur("sweep_interval", &c.SweepInterval)
	integer("max_sessions", &c.MaxSessions)
	str("listen_addr", &c.ListenAddr)
	integer("client_rate_limit", &c.ClientRateLimit)
	integer("client_burst", &c.ClientBurst)
	str("otlp_endpoint", &c.OTLPEndpoint)
	boolean("otlp_insecure", &c.OTLPInsecure)
	str("log_level", &c.LogLevel)
	str("log_format", &c.LogFormat)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Validate reports every out-of-range value at once.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	positive := []struct {
		name string
		d    time.Duration
	}{
		{"fetch_timeout", c.FetchTimeout},
		{"check_timeout", c.CheckTimeout},
		{"scan_timeout", c.ScanTimeout},
		{"session_ttl", c.SessionTTL},
	}
	for _, p := range positive {
		if p.d <= 0 {
			bad("%s must be positive, got %s", p.name, p.d)
		}
	}
	if c.SweepInterval < 0 {
		bad("sweep_interval must not be negative, got %s", c.SweepInterval)
	}
	if c.MaxRedirects < 0 {
		bad("max_redirects must not be negative, got %d", c.MaxRedirects)
	}
	if c.MaxBodySize <= 0 {
		bad("max_body_size must be positive, got %d", c.MaxBodySize)
	}
	if c.Retries < 1 {
		bad("retries must be at least 1, got %d", c.Retries)
	}
	if c.RateLimit < 0 {
		bad("rate_limit must not be negative, got %g", c.RateLimit)
	}
	if c.MaxConcurrency < 1 {
		bad("max_concurrency must be at least 1, got %d", c.MaxConcurrency)
	}
	if c.MaxSessions < 1 {
		bad("max_sessions must be at least 1, got %d", c.MaxSessions)
	}
	if c.ClientRateLimit < 0 || c.ClientBurst < 0 {
		bad("client_rate_limit and client_burst must not be negative")
	}
	if c.Proxy != "" {
		if _, err := httpclient.ParseProxyURL(c.Proxy); err != nil {
			bad("proxy: %v", err)
		}
	}
	if _, err := target.NewGuard(c.GuardConfig()); err != nil {
		bad("%v", err)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		bad("%v", err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		bad("log_format must be text or json, got %q", c.LogFormat)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// FetcherConfig maps the fetch settings. resolve is installed as the
// dial-time guard.
func (c Config) FetcherConfig(resolve httpclient.ResolveFunc, obs fetcher.Observer) fetcher.Config {
	hc := httpclient.DefaultConfig()
	hc.UserAgent = c.UserAgent
	hc.Proxy = c.Proxy
	hc.InsecureSkipVerify = c.TLSSkipVerify
	hc.Resolve = resolve

	fc := fetcher.DefaultConfig()
	fc.HTTP = hc
	fc.Timeout = c.FetchTimeout
	fc.MaxRedirects = c.MaxRedirects
	fc.MaxBodySize = c.MaxBodySize
	fc.Attempts = c.Retries
	fc.RateLimit = c.RateLimit
	fc.Observer = obs
	return fc
}

// ScannerConfig maps the scan bounds.
func (c Config) ScannerConfig() scanner.Config {
	return scanner.Config{
		CheckTimeout:   c.CheckTimeout,
		ScanTimeout:    c.ScanTimeout,
		MaxConcurrency: c.MaxConcurrency,
	}
}

// GuardConfig maps the SSRF allow and block lists. The resolver is left
// for the caller to set.
func (c Config) GuardConfig() target.GuardConfig {
	return target.GuardConfig{Allow: c.AllowHosts, Block: c.BlockHosts}
}

// TracingConfig maps the OTLP settings.
func (c Config) TracingConfig() tracing.Config {
	return tracing.Config{Endpoint: c.OTLPEndpoint, Insecure: c.OTLPInsecure}
}

// NewLogger builds the process logger writing to w.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	level, _ := ParseLevel(c.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel maps debug, info, warn and error (any case) to slog levels.
// Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level: unknown level %q", s)
	}
	return l, nil
}

// SplitList splits a comma-separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
