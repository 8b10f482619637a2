package httpclient

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"time"
)

// netipResolver is the lookup DNSCache wraps. *net.Resolver satisfies it.
type netipResolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// DNSCache caches lookups so that target validation and the dials that
// follow see the same answers. It satisfies target.Resolver.
type DNSCache struct {
	resolver    netipResolver
	ttl         time.Duration
	negativeTTL time.Duration
	now         func() time.Time

	mu      sync.Mutex
	entries map[string]*dnsEntry
}

type dnsEntry struct {
	addrs     []netip.Addr
	err       error
	expiresAt time.Time
}

// NewDNSCache creates a cache over r (nil means the system resolver).
// Successful answers live for ttl, failures for negativeTTL.
func NewDNSCache(r netipResolver, ttl, negativeTTL time.Duration) *DNSCache {
	if r == nil {
		r = net.DefaultResolver
	}
	return &DNSCache{
		resolver:    r,
		ttl:         ttl,
		negativeTTL: negativeTTL,
		now:         time.Now,
		entries:     make(map[string]*dnsEntry),
	}
}

// LookupNetIP returns cached addresses for host, resolving on a miss.
// Expired entries are replaced on access. Cancelled lookups are not cached.
func (d *DNSCache) LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error) {
	key := network + "|" + host
	now := d.now()

	d.mu.Lock()
	if e, ok := d.entries[key]; ok && now.Before(e.expiresAt) {
		d.mu.Unlock()
		return append([]netip.Addr(nil), e.addrs...), e.err
	}
	d.mu.Unlock()

	addrs, err := d.resolver.LookupNetIP(ctx, network, host)
	if err != nil && ctx.Err() != nil {
		return nil, err
	}

	ttl := d.ttl
	if err != nil {
		ttl = d.negativeTTL
	}
	d.mu.Lock()
	d.evictExpiredLocked(now)
	if ttl > 0 {
		d.entries[key] = &dnsEntry{addrs: addrs, err: err, expiresAt: now.Add(ttl)}
	}
	d.mu.Unlock()

	return append([]netip.Addr(nil), addrs...), err
}

// Len returns the number of cached hosts, expired ones included.
func (d *DNSCache) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

func (d *DNSCache) evictExpiredLocked(now time.Time) {
	for k, e := range d.entries {
		if !now.Before(e.expiresAt) {
			delete(d.entries, k)
		}
	}
}
