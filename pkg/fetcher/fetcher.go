// Package fetcher performs the HTTP probes checks rely on. Every probe is
// bounded in time, redirects and body size, and every failure is a
// *FetchError with a Kind so callers can tell a slow target from a
// refused connection.
package fetcher

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/vulnscan/vulnscan/pkg/defaults"
	"github.com/vulnscan/vulnscan/pkg/duration"
	"github.com/vulnscan/vulnscan/pkg/httpclient"
	"github.com/vulnscan/vulnscan/pkg/iohelper"
	"github.com/vulnscan/vulnscan/pkg/retry"
)

// Fetcher issues one probe against a URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, opts Options) (*Response, error)
}

// Func adapts a function to the Fetcher interface.
type Func func(ctx context.Context, rawURL string, opts Options) (*Response, error)

// Fetch calls f.
func (f Func) Fetch(ctx context.Context, rawURL string, opts Options) (*Response, error) {
	return f(ctx, rawURL, opts)
}

// Options tune a single probe. Zero values take the fetcher's defaults.
type Options struct {
	Method  string      // default GET
	Headers http.Header // added to the request
	Body    []byte      // request body
	Form    url.Values  // urlencoded body; overrides Body and sets Content-Type

	Timeout time.Duration // per attempt (default 10s)

	NoRedirects  bool // return the first 3xx instead of following it
	MaxRedirects int  // default 5

	MaxBodySize    int64 // default 5MB; larger bodies are truncated
	StrictBodySize bool  // fail with ErrResponseTooLarge instead of truncating
}

// Response is a normalized HTTP response.
type Response struct {
	URL        string // final URL after redirects
	StatusCode int
	Header     http.Header
	Body       []byte
	Truncated  bool
	Duration   time.Duration
	Redirects  []string // URLs visited before URL, in order
}

// Cookies parses the Set-Cookie headers.
func (r *Response) Cookies() []*http.Cookie {
	return (&http.Response{Header: r.Header}).Cookies()
}

// Location returns the Location header.
func (r *Response) Location() string { return r.Header.Get("Location") }

// IsRedirect reports a 3xx status with a Location header.
func (r *Response) IsRedirect() bool {
	return r.StatusCode >= 300 && r.StatusCode < 400 && r.Location() != ""
}

// IsHTML reports whether the body is declared as HTML.
func (r *Response) IsHTML() bool {
	return strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "html")
}

// Observer receives one call per finished Fetch. kind is "" on success.
type Observer interface {
	ObserveFetch(d time.Duration, kind Kind)
}

// Config configures an HTTP fetcher.
type Config struct {
	Client         *http.Client // built from httpclient when nil
	HTTP           httpclient.Config
	Timeout        time.Duration
	MaxRedirects   int
	MaxBodySize    int64
	Attempts       int     // total attempts for connection errors and timeouts
	RateLimit      float64 // requests per second; 0 disables
	Observer       Observer
	RetryBaseDelay time.Duration
}

// DefaultConfig returns the defaults from pkg/defaults and pkg/duration.
func DefaultConfig() Config {
	return Config{
		HTTP:           httpclient.DefaultConfig(),
		Timeout:        duration.FetchTimeout,
		MaxRedirects:   defaults.MaxRedirects,
		MaxBodySize:    defaults.MaxBodySize,
		Attempts:       defaults.FetchRetries,
		RateLimit:      defaults.FetchRateLimit,
		RetryBaseDelay: duration.RetryBase,
	}
}

// HTTP is the production Fetcher. It is safe for concurrent use.
type HTTP struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// Option configures an HTTP fetcher.
type Option func(*HTTP)

// WithLogger sets a custom structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *HTTP) { h.logger = l }
}

var _ Fetcher = (*HTTP)(nil)

// New builds an HTTP fetcher. It fails only when the client cannot be
// built from cfg.HTTP.
func New(cfg Config, opts ...Option) (*HTTP, error) {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = def.MaxRedirects
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = def.MaxBodySize
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = def.RetryBaseDelay
	}

	client := cfg.Client
	if client == nil {
		hc := cfg.HTTP
		hc.FollowRedirects = true
		hc.MaxRedirects = cfg.MaxRedirects
		// The per-attempt deadline comes from the request context.
		hc.Timeout = duration.ScanTimeout
		var err error
		client, err = httpclient.New(hc)
		if err != nil {
			return nil, err
		}
	}

	h := &HTTP{
		cfg:    cfg,
		client: client,
		logger: slog.Default(),
	}
	if cfg.RateLimit > 0 {
		burst := max(int(cfg.RateLimit), 1)
		h.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Fetch performs the probe, retrying connection errors and timeouts.
func (h *HTTP) Fetch(ctx context.Context, rawURL string, opts Options) (*Response, error) {
	start := time.Now()
	resp, err := h.fetch(ctx, rawURL, opts)
	if h.cfg.Observer != nil {
		h.cfg.Observer.ObserveFetch(time.Since(start), KindOf(err))
	}
	return resp, err
}

// Close releases idle connections.
func (h *HTTP) Close() {
	httpclient.CloseIdle(h.client)
}

func (h *HTTP) fetch(ctx context.Context, rawURL string, opts Options) (*Response, error) {
	opts = h.withDefaults(opts)
	if _, err := http.NewRequest(opts.Method, rawURL, nil); err != nil {
		return nil, &FetchError{Kind: KindConnection, URL: rawURL, Err: err}
	}

	rc := retry.Config{
		Attempts:  h.cfg.Attempts,
		BaseDelay: h.cfg.RetryBaseDelay,
		MaxDelay:  duration.RetryMax,
		Jitter:    true,
		Retryable: func(err error) bool { return ctx.Err() == nil && retryable(err) },
	}

	var resp *Response
	attempt := 0
	err := retry.Do(ctx, rc, func() error {
		attempt++
		if attempt > 1 {
			h.logger.Debug("retrying fetch", slog.String("url", rawURL), slog.Int("attempt", attempt))
		}
		var err error
		resp, err = h.once(ctx, rawURL, opts)
		return err
	})
	if err != nil {
		if KindOf(err) == "" {
			err = &FetchError{Kind: classify(ctx, err), URL: rawURL, Err: err}
		}
		return nil, err
	}
	return resp, nil
}

func (h *HTTP) withDefaults(opts Options) Options {
	if opts.Method == "" {
		opts.Method = http.MethodGet
	}
	if opts.Timeout <= 0 {
		opts.Timeout = h.cfg.Timeout
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = h.cfg.MaxRedirects
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = h.cfg.MaxBodySize
	}
	return opts
}

func (h *HTTP) once(parent context.Context, rawURL string, opts Options) (*Response, error) {
	if h.limiter != nil {
		if err := h.limiter.Wait(parent); err != nil {
			return nil, &FetchError{Kind: classify(parent, err), URL: rawURL, Err: err}
		}
	}

	ctx, cancel := context.WithTimeout(parent, opts.Timeout)
	defer cancel()
	ctx = httpclient.WithRedirectLimit(ctx, !opts.NoRedirects, opts.MaxRedirects)

	var body io.Reader
	if opts.Form != nil {
		body = strings.NewReader(opts.Form.Encode())
	} else if len(opts.Body) > 0 {
		body = bytes.NewReader(opts.Body)
	}

	req, err := http.NewRequestWithContext(ctx, opts.Method, rawURL, body)
	if err != nil {
		return nil, &FetchError{Kind: KindConnection, URL: rawURL, Err: err}
	}
	for k, vs := range opts.Headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if opts.Form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	start := time.Now()
	httpResp, err := h.client.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: classify(parent, err), URL: rawURL, Err: err}
	}
	defer iohelper.DrainAndClose(httpResp.Body)

	data, truncated, err := iohelper.ReadLimited(httpResp.Body, opts.MaxBodySize)
	if err != nil {
		return nil, &FetchError{Kind: classify(parent, err), URL: rawURL, Err: err}
	}
	if truncated && opts.StrictBodySize {
		return nil, &FetchError{Kind: KindResponseTooLarge, URL: rawURL}
	}

	return &Response{
		URL:        httpResp.Request.URL.String(),
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header.Clone(),
		Body:       data,
		Truncated:  truncated,
		Duration:   time.Since(start),
		Redirects:  redirectChain(httpResp),
	}, nil
}

// redirectChain walks back from the final response to the first request.
func redirectChain(resp *http.Response) []string {
	var chain []string
	for r := resp.Request.Response; r != nil; r = r.Request.Response {
		chain = append(chain, r.Request.URL.String())
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}
