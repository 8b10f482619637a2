// Package target turns user input into a validated scan target and
// enforces the SSRF guard before any request leaves the process.
package target

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"net/url"
	"strings"
)

// Target is an immutable, validated absolute http(s) URL.
type Target struct {
	u     url.URL
	addrs []netip.Addr
}

// URL returns a copy of the target URL.
func (t Target) URL() *url.URL {
	u := t.u
	return &u
}

// String returns the normalized URL.
func (t Target) String() string { return t.u.String() }

// Scheme is "http" or "https".
func (t Target) Scheme() string { return t.u.Scheme }

// Host returns host[:port] as given.
func (t Target) Host() string { return t.u.Host }

// Hostname returns the host without port or brackets.
func (t Target) Hostname() string { return t.u.Hostname() }

// IsHTTPS reports whether the target uses TLS.
func (t Target) IsHTTPS() bool { return t.u.Scheme == "https" }

// Addrs returns the addresses the guard approved at validation time.
func (t Target) Addrs() []netip.Addr {
	return append([]netip.Addr(nil), t.addrs...)
}

// Origin returns scheme://host.
func (t Target) Origin() string { return t.u.Scheme + "://" + t.u.Host }

// IsZero reports whether t was never validated.
func (t Target) IsZero() bool { return t.u.Host == "" }

// WithQuery returns the target URL with key set to value, keeping the
// other query parameters.
func (t Target) WithQuery(key, value string) string {
	u := t.u
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}

// ResolveReference resolves ref (e.g. a form action) against the target.
// An unparsable ref resolves to the target itself.
func (t Target) ResolveReference(ref string) *url.URL {
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return t.URL()
	}
	return t.u.ResolveReference(r)
}

// Normalize trims input, prepends http:// when no scheme is present,
// lowercases scheme and host, and drops the fragment. It does not apply
// the guard.
func Normalize(raw string) (*url.URL, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, invalid(raw, ErrMalformedURL, "empty URL")
	}
	if strings.ContainsAny(s, " \t\r\n") {
		return nil, invalid(raw, ErrMalformedURL, "URL contains whitespace")
	}
	if !strings.Contains(s, "://") {
		if i := strings.IndexByte(s, ':'); i > 0 && !looksLikeHostPort(s) {
			return nil, invalid(raw, ErrSchemeNotAllowed, "scheme %q is not allowed", strings.ToLower(s[:i]))
		}
		s = "http://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return nil, invalid(raw, ErrMalformedURL, "cannot parse URL")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, invalid(raw, ErrSchemeNotAllowed, "scheme %q is not allowed", u.Scheme)
	}
	if u.User != nil {
		return nil, invalid(raw, ErrMalformedURL, "URL must not contain credentials")
	}
	if u.Hostname() == "" {
		return nil, invalid(raw, ErrMalformedURL, "URL has no host")
	}
	if p := u.Port(); p != "" {
		if _, err := net.LookupPort("tcp", p); err != nil || p == "0" {
			return nil, invalid(raw, ErrMalformedURL, "invalid port %q", p)
		}
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u, nil
}

// looksLikeHostPort distinguishes "example.com:8080/x" from "ftp:x".
func looksLikeHostPort(s string) bool {
	host, _, _ := strings.Cut(s, "/")
	_, port, err := net.SplitHostPort(host)
	if err != nil {
		return false
	}
	for _, c := range port {
		if c < '0' || c > '9' {
			return false
		}
	}
	return port != ""
}

// Validate normalizes raw and applies guard. A nil guard uses
// DefaultGuard. Every failure is an *InvalidTargetError.
func Validate(ctx context.Context, raw string, guard *Guard) (Target, error) {
	u, err := Normalize(raw)
	if err != nil {
		return Target{}, err
	}
	if guard == nil {
		guard = DefaultGuard()
	}

	addrs, err := guard.CheckHost(ctx, u.Hostname())
	if err != nil {
		switch {
		case errors.Is(err, ErrBlockedHost):
			return Target{}, invalid(raw, ErrBlockedHost, "%s", trimPrefix(err))
		case errors.Is(err, ErrUnresolvableHost):
			return Target{}, invalid(raw, ErrUnresolvableHost, "%s", trimPrefix(err))
		case errors.Is(err, ErrMalformedURL):
			return Target{}, invalid(raw, ErrMalformedURL, "%s", trimPrefix(err))
		default:
			return Target{}, err
		}
	}
	return Target{u: *u, addrs: addrs}, nil
}

// MustParse normalizes raw without consulting the guard and panics on
// malformed input. Intended for tests.
func MustParse(raw string) Target {
	u, err := Normalize(raw)
	if err != nil {
		panic(err)
	}
	return Target{u: *u}
}

func trimPrefix(err error) string {
	return strings.TrimPrefix(err.Error(), "target: ")
}
