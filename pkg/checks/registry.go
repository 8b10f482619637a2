package checks

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry holds checks in registration order. It is populated at start
// up and sealed before scanning; after Seal it is read-only and safe for
// concurrent use.
type Registry struct {
	mu     sync.RWMutex
	checks []Check
	byID   map[string]Check
	sealed bool
}

// NewRegistry returns an empty, unsealed registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Check)}
}

// Register adds c. It fails on an empty or duplicate ID, or after Seal.
func (r *Registry) Register(c Check) error {
	if c == nil || c.ID() == "" {
		return ErrEmptyID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("%w: cannot register %q", ErrSealed, c.ID())
	}
	if _, dup := r.byID[c.ID()]; dup {
		return fmt.Errorf("%w: %q", ErrDuplicateID, c.ID())
	}
	r.checks = append(r.checks, c)
	r.byID[c.ID()] = c
	return nil
}

// MustRegister is Register that panics on error. For init-time wiring.
func (r *Registry) MustRegister(cs ...Check) {
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			panic(err)
		}
	}
}

// Seal makes the registry read-only.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Sealed reports whether Seal was called.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// All returns the checks in registration order. The slice is a copy.
func (r *Registry) All() []Check {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Check(nil), r.checks...)
}

// IDs returns the registered IDs in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, len(r.checks))
	for i, c := range r.checks {
		ids[i] = c.ID()
	}
	return ids
}

// Get returns the check with the given ID.
func (r *Registry) Get(id string) (Check, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	return c, ok
}

// Len returns the number of registered checks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.checks)
}

// Subset returns a sealed registry holding only the named checks, in
// this registry's order. Unknown IDs are reported together.
func (r *Registry) Subset(ids ...string) (*Registry, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			want[id] = true
		}
	}

	var unknown []string
	for id := range want {
		if _, ok := r.Get(id); !ok {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("%w: %s", ErrUnknownCheck, strings.Join(unknown, ", "))
	}

	sub := NewRegistry()
	for _, c := range r.All() {
		if want[c.ID()] {
			sub.MustRegister(c)
		}
	}
	sub.Seal()
	return sub, nil
}

var (
	defaultRegistry *Registry
	defaultOnce     sync.Once
)

// Default returns the process-wide registry holding the built-in checks.
// It is populated once and sealed.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
		defaultRegistry.MustRegister(Builtins()...)
		defaultRegistry.Seal()
	})
	return defaultRegistry
}
