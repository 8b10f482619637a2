// Package httpclient builds the pooled HTTP clients every outbound
// request goes through. Clients carry the redirect policy and, when a
// Resolve hook is configured, a dial-time address check so that DNS
// answers and redirects cannot steer a scan into internal networks.
package httpclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"sync"
	"time"

	"github.com/vulnscan/vulnscan/pkg/defaults"
	"github.com/vulnscan/vulnscan/pkg/duration"
)

// ResolveFunc returns the addresses a connection to host may use, or an
// error when the host must not be contacted.
type ResolveFunc func(ctx context.Context, host string) ([]netip.Addr, error)

// Config holds HTTP client configuration options.
type Config struct {
	// Timeout bounds a whole request including redirects (default: 10s).
	Timeout time.Duration

	// FollowRedirects makes the client follow up to MaxRedirects hops.
	// When false the first 3xx response is returned as is.
	FollowRedirects bool

	// MaxRedirects caps the redirect chain (default: 5).
	MaxRedirects int

	// InsecureSkipVerify disables certificate verification.
	InsecureSkipVerify bool

	// Proxy is an http, https or socks5 proxy URL (optional).
	Proxy string

	// UserAgent is set on requests that carry none (default: vulnscan/<version>).
	UserAgent string

	// Resolve, when set, replaces DNS resolution at dial time. Every
	// connection, including those opened for redirects, dials only the
	// addresses it returns.
	Resolve ResolveFunc

	MaxIdleConns        int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration
	DialTimeout         time.Duration
	TLSHandshakeTimeout time.Duration
}

// DefaultConfig returns defaults tuned for short scans of a single host.
func DefaultConfig() Config {
	return Config{
		Timeout:             duration.FetchTimeout,
		FollowRedirects:     true,
		MaxRedirects:        defaults.MaxRedirects,
		UserAgent:           defaults.UserAgent(),
		MaxIdleConns:        100,
		MaxConnsPerHost:     10,
		IdleConnTimeout:     duration.IdleConn,
		DialTimeout:         duration.DialTimeout,
		TLSHandshakeTimeout: duration.TLSHandshake,
	}
}

var (
	defaultClient *http.Client
	defaultOnce   sync.Once
)

// Default returns a shared client built from DefaultConfig. It has no
// dial guard; scans build their own client with New.
func Default() *http.Client {
	defaultOnce.Do(func() {
		defaultClient, _ = New(DefaultConfig())
	})
	return defaultClient
}

// New creates a client with the given configuration. Zero fields take
// their DefaultConfig values. It fails only on an unusable proxy.
func New(cfg Config) (*http.Client, error) {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = def.MaxRedirects
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = def.MaxIdleConns
	}
	if cfg.MaxConnsPerHost <= 0 {
		cfg.MaxConnsPerHost = def.MaxConnsPerHost
	}
	if cfg.IdleConnTimeout <= 0 {
		cfg.IdleConnTimeout = def.IdleConnTimeout
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.TLSHandshakeTimeout <= 0 {
		cfg.TLSHandshakeTimeout = def.TLSHandshakeTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}

	var dial contextDialer = &net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		ForceAttemptHTTP2:     true,
		ExpectContinueTimeout: time.Second,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // opt-in for self-signed targets
			MinVersion:         tls.VersionTLS12,
		},
	}

	if cfg.Proxy != "" {
		p, err := ParseProxyURL(cfg.Proxy)
		if err != nil {
			return nil, err
		}
		if p.IsSOCKS() {
			dial, err = socksDialer(p, dial)
			if err != nil {
				return nil, err
			}
		} else {
			transport.Proxy = http.ProxyURL(p.URL)
		}
	}

	if cfg.Resolve != nil {
		dial = &guardedDialer{base: dial, resolve: cfg.Resolve}
	}
	transport.DialContext = dial.DialContext

	return &http.Client{
		Transport:     &userAgentTransport{base: transport, userAgent: cfg.UserAgent},
		Timeout:       cfg.Timeout,
		CheckRedirect: RedirectPolicy(cfg.FollowRedirects, cfg.MaxRedirects),
	}, nil
}

type redirectKey struct{}

type redirectLimit struct {
	follow bool
	max    int
}

// WithRedirectLimit overrides the client's redirect policy for requests
// made with the returned context.
func WithRedirectLimit(ctx context.Context, follow bool, max int) context.Context {
	return context.WithValue(ctx, redirectKey{}, redirectLimit{follow: follow, max: max})
}

// RedirectPolicy returns a CheckRedirect func. With follow false the
// first redirect response is returned to the caller. Otherwise hops are
// followed until max is exceeded or a URL repeats. WithRedirectLimit on
// the request context takes precedence.
func RedirectPolicy(follow bool, max int) func(*http.Request, []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		follow, max := follow, max
		if l, ok := req.Context().Value(redirectKey{}).(redirectLimit); ok {
			follow, max = l.follow, l.max
		}
		if !follow {
			return http.ErrUseLastResponse
		}
		if len(via) > max {
			return fmt.Errorf("%w: stopped after %d", ErrTooManyRedirects, max)
		}
		next := req.URL.String()
		for _, prev := range via {
			if prev.URL.String() == next {
				return fmt.Errorf("%w: %s", ErrRedirectLoop, next)
			}
		}
		return nil
	}
}

type contextDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// guardedDialer resolves through the Resolve hook and dials the
// returned addresses in order.
type guardedDialer struct {
	base    contextDialer
	resolve ResolveFunc
}

func (d *guardedDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}
	addrs, err := d.resolve(ctx, host)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrDialGuard, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: no addresses for %s", ErrDialGuard, host)
	}

	var errs []error
	for _, a := range addrs {
		conn, err := d.base.DialContext(ctx, network, net.JoinHostPort(a.String(), port))
		if err == nil {
			return conn, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Join(errs...)
}

// userAgentTransport sets a default User-Agent without mutating the
// caller's request.
type userAgentTransport struct {
	base      *http.Transport
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.base.RoundTrip(req)
	}
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(r)
}

// CloseIdle releases pooled connections held by c.
func CloseIdle(c *http.Client) {
	if c != nil {
		c.CloseIdleConnections()
	}
}

// redactURL hides proxy credentials in error messages.
func redactURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.Redacted()
}
