// Package session keeps finished reports by scan ID so callers can fetch
// them again without rescanning. Entries expire after a TTL; an expired
// entry is never returned.
package session

import (
	"container/list"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vulnscan/vulnscan/pkg/defaults"
	"github.com/vulnscan/vulnscan/pkg/duration"
	"github.com/vulnscan/vulnscan/pkg/report"
)

// Store maps scan IDs to reports. Implementations are safe for
// concurrent use. A stored report is owned by the store.
type Store interface {
	// Put stores r under r.ScanID and returns that ID.
	Put(r *report.Report) (string, error)
	// Get returns the report, or an error wrapping ErrNotFound.
	Get(id string) (*report.Report, error)
	// Delete removes id and reports whether it was present.
	Delete(id string) bool
	// Len returns the number of entries, expired ones included until
	// they are swept.
	Len() int
	// Close stops background work. Further calls fail with ErrClosed.
	Close() error
}

type entry struct {
	report  *report.Report
	expires time.Time
	elem    *list.Element // position in MemoryStore.order
}

// MemoryStore is an in-process Store. Expired entries are removed lazily
// on Get and by a periodic sweep. When MaxEntries is reached the oldest
// entry is evicted.
type MemoryStore struct {
	ttl        time.Duration
	sweep      time.Duration
	maxEntries int
	now        func() time.Time
	logger     *slog.Logger

	mu      sync.RWMutex
	entries map[string]*entry
	order   *list.List // scan IDs, oldest first
	closed  bool

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

var _ Store = (*MemoryStore)(nil)

// Option configures a MemoryStore.
type Option func(*MemoryStore)

// WithTTL sets how long entries live. Values <= 0 keep the default.
func WithTTL(d time.Duration) Option {
	return func(s *MemoryStore) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithSweepInterval sets how often expired entries are swept. Zero
// disables the sweep and leaves expiry to Get.
func WithSweepInterval(d time.Duration) Option {
	return func(s *MemoryStore) { s.sweep = d }
}

// WithMaxEntries caps the store size. Values <= 0 keep the default.
func WithMaxEntries(n int) Option {
	return func(s *MemoryStore) {
		if n > 0 {
			s.maxEntries = n
		}
	}
}

// WithClock replaces time.Now. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *MemoryStore) { s.now = now }
}

// WithLogger sets a custom structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *MemoryStore) { s.logger = l }
}

// NewMemoryStore creates a store and starts its sweep goroutine. Call
// Close to stop it.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		ttl:        duration.SessionTTL,
		sweep:      duration.SessionSweep,
		maxEntries: defaults.SessionMaxEntries,
		now:        time.Now,
		logger:     slog.Default(),
		entries:    make(map[string]*entry),
		order:      list.New(),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sweep > 0 {
		go s.sweepLoop()
	} else {
		close(s.done)
	}
	return s
}

// TTL returns the entry lifetime.
func (s *MemoryStore) TTL() time.Duration { return s.ttl }

// Put stores r. A second Put with the ID of an entry still held fails
// with ErrDuplicateID, even if that entry expired but was not yet
// removed. Once an entry is gone its ID is free again; uniqueness over
// the store's lifetime comes from the scan ID generator (UUIDv4).
func (s *MemoryStore) Put(r *report.Report) (string, error) {
	if r == nil || r.ScanID == "" {
		return "", ErrInvalidReport
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}
	if _, dup := s.entries[r.ScanID]; dup {
		return "", fmt.Errorf("%w: %s", ErrDuplicateID, r.ScanID)
	}

	for len(s.entries) >= s.maxEntries {
		oldest := s.order.Front()
		if oldest == nil {
			break
		}
		id := oldest.Value.(string)
		s.removeLocked(id)
		s.logger.Debug("session evicted", slog.String("scan_id", id))
	}

	e := &entry{report: r, expires: s.now().Add(s.ttl)}
	e.elem = s.order.PushBack(r.ScanID)
	s.entries[r.ScanID] = e
	return r.ScanID, nil
}

// Get returns the stored report. An expired entry is deleted and
// reported as ErrNotFound.
func (s *MemoryStore) Get(id string) (*report.Report, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrClosed
	}
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if s.now().Before(e.expires) {
		return e.report, nil
	}

	// Expired: delete only if the entry was not replaced meanwhile.
	s.mu.Lock()
	if cur, ok := s.entries[id]; ok && cur == e {
		s.removeLocked(id)
	}
	s.mu.Unlock()
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Delete removes id.
func (s *MemoryStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return false
	}
	s.removeLocked(id)
	return true
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close stops the sweep and drops all entries. It is safe to call more
// than once.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.entries = make(map[string]*entry)
		s.order.Init()
		s.mu.Unlock()
		close(s.stop)
	})
	<-s.done
	return nil
}

// Sweep removes every expired entry and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	now := s.now()

	s.mu.RLock()
	var expired []string
	for id, e := range s.entries {
		if !now.Before(e.expires) {
			expired = append(expired, id)
		}
	}
	s.mu.RUnlock()
	if len(expired) == 0 {
		return 0
	}

	removed := 0
	s.mu.Lock()
	for _, id := range expired {
		if e, ok := s.entries[id]; ok && !now.Before(e.expires) {
			s.removeLocked(id)
			removed++
		}
	}
	remaining := len(s.entries)
	s.mu.Unlock()

	s.logger.Debug("session sweep", slog.Int("removed", removed), slog.Int("remaining", remaining))
	return removed
}

func (s *MemoryStore) sweepLoop() {
	defer close(s.done)
	ticker := time.NewTicker(s.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

func (s *MemoryStore) removeLocked(id string) {
	e, ok := s.entries[id]
	if !ok {
		return
	}
	s.order.Remove(e.elem)
	delete(s.entries, id)
}
