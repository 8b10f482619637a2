package target

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// Resolver looks up host addresses. *net.Resolver satisfies it; tests
// pass a fake so validation never touches DNS.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// GuardConfig lists hosts that are explicitly allowed or blocked.
// Entries are hostnames ("intranet.example"), domain suffixes
// (".example.com"), IP addresses or CIDR prefixes ("10.1.0.0/16").
type GuardConfig struct {
	Allow    []string
	Block    []string
	Resolver Resolver
}

// Guard is the SSRF guard. A host is refused when it is on the blocklist,
// or when it or any of its addresses is internal (loopback, private,
// link-local, CGNAT, unspecified, multicast, cloud metadata) and it is
// not on the allowlist. The blocklist always wins.
type Guard struct {
	allow    matcher
	block    matcher
	resolver Resolver
}

// internalNames are refused by name without a DNS lookup.
var internalNames = []string{"localhost", "metadata.google.internal", "metadata"}

// cgnat is the shared address space (RFC 6598), not covered by IsPrivate.
var cgnat = netip.MustParsePrefix("100.64.0.0/10")

// NewGuard builds a Guard. It fails on list entries that are neither a
// hostname, an IP nor a CIDR.
func NewGuard(cfg GuardConfig) (*Guard, error) {
	allow, err := newMatcher(cfg.Allow)
	if err != nil {
		return nil, fmt.Errorf("allowlist: %w", err)
	}
	block, err := newMatcher(cfg.Block)
	if err != nil {
		return nil, fmt.Errorf("blocklist: %w", err)
	}
	r := cfg.Resolver
	if r == nil {
		r = net.DefaultResolver
	}
	return &Guard{allow: allow, block: block, resolver: r}, nil
}

// DefaultGuard returns a Guard with empty lists and the system resolver.
func DefaultGuard() *Guard {
	g, _ := NewGuard(GuardConfig{})
	return g
}

// CheckHost applies the guard to a hostname or IP literal and returns
// the addresses a connection may use. IP literals and internal names are
// decided without any network call.
func (g *Guard) CheckHost(ctx context.Context, host string) ([]netip.Addr, error) {
	host = strings.ToLower(strings.TrimSuffix(strings.Trim(host, "[]"), "."))
	if host == "" {
		return nil, fmt.Errorf("%w: empty host", ErrMalformedURL)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		addr = addr.Unmap()
		if err := g.CheckAddr(addr); err != nil {
			return nil, err
		}
		return []netip.Addr{addr}, nil
	}

	if g.block.matchHost(host) {
		return nil, fmt.Errorf("%w: %s is on the blocklist", ErrBlockedHost, host)
	}
	allowedByName := g.allow.matchHost(host)
	if !allowedByName && isInternalName(host) {
		return nil, fmt.Errorf("%w: %s is an internal name", ErrBlockedHost, host)
	}

	addrs, err := g.resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrUnresolvableHost, host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: %s has no addresses", ErrUnresolvableHost, host)
	}

	out := make([]netip.Addr, 0, len(addrs))
	for _, a := range addrs {
		a = a.Unmap()
		if g.block.matchAddr(a) {
			return nil, fmt.Errorf("%w: %s resolves to blocklisted %s", ErrBlockedHost, host, a)
		}
		if !allowedByName && !g.allow.matchAddr(a) && isInternalAddr(a) {
			return nil, fmt.Errorf("%w: %s resolves to internal address %s", ErrBlockedHost, host, a)
		}
		out = append(out, a)
	}
	return out, nil
}

// CheckAddr applies the guard to a single address.
func (g *Guard) CheckAddr(addr netip.Addr) error {
	addr = addr.Unmap()
	if g.block.matchAddr(addr) {
		return fmt.Errorf("%w: %s is on the blocklist", ErrBlockedHost, addr)
	}
	if g.allow.matchAddr(addr) {
		return nil
	}
	if isInternalAddr(addr) {
		return fmt.Errorf("%w: %s is an internal address", ErrBlockedHost, addr)
	}
	return nil
}

// Resolve is CheckHost shaped for httpclient.Config.Resolve so every
// dial, including redirects, passes the guard.
func (g *Guard) Resolve(ctx context.Context, host string) ([]netip.Addr, error) {
	return g.CheckHost(ctx, host)
}

func isInternalName(host string) bool {
	for _, n := range internalNames {
		if host == n || strings.HasSuffix(host, "."+n) {
			return true
		}
	}
	return false
}

func isInternalAddr(a netip.Addr) bool {
	return a.IsLoopback() ||
		a.IsPrivate() ||
		a.IsUnspecified() ||
		a.IsLinkLocalUnicast() ||
		a.IsLinkLocalMulticast() ||
		a.IsInterfaceLocalMulticast() ||
		a.IsMulticast() ||
		cgnat.Contains(a)
}

type matcher struct {
	hosts    map[string]bool
	suffixes []string
	prefixes []netip.Prefix
}

func newMatcher(entries []string) (matcher, error) {
	m := matcher{hosts: make(map[string]bool)}
	for _, raw := range entries {
		e := strings.ToLower(strings.TrimSpace(raw))
		switch {
		case e == "":
			continue
		case strings.Contains(e, "/"):
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return m, fmt.Errorf("invalid CIDR %q: %w", raw, err)
			}
			m.prefixes = append(m.prefixes, p.Masked())
		case strings.HasPrefix(e, "."):
			m.suffixes = append(m.suffixes, e)
		default:
			if a, err := netip.ParseAddr(strings.Trim(e, "[]")); err == nil {
				a = a.Unmap()
				m.prefixes = append(m.prefixes, netip.PrefixFrom(a, a.BitLen()))
				continue
			}
			if strings.ContainsAny(e, " :@?#") {
				return m, fmt.Errorf("invalid host entry %q", raw)
			}
			m.hosts[e] = true
		}
	}
	return m, nil
}

func (m matcher) matchHost(host string) bool {
	if m.hosts[host] {
		return true
	}
	for _, s := range m.suffixes {
		if strings.HasSuffix(host, s) || host == s[1:] {
			return true
		}
	}
	return false
}

func (m matcher) matchAddr(a netip.Addr) bool {
	for _, p := range m.prefixes {
		if p.Contains(a) {
			return true
		}
	}
	return false
}
