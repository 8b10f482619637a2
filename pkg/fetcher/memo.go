package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Memo wraps a Fetcher for the lifetime of one scan. Plain GET and HEAD
// probes (no headers, body or form) with identical options reach the
// target once; concurrent callers share the in-flight request. Returned
// responses are shared and must be treated as read-only.
//
// A shared request is detached from the caller that started it: it is
// bounded by the request timeout and by the Memo's own context, so one
// caller's deadline never fails another caller waiting on the same key.
type Memo struct {
	ctx   context.Context
	next  Fetcher
	group singleflight.Group

	mu      sync.Mutex
	results map[string]memoResult
	hits    int
}

type memoResult struct {
	resp *Response
	err  error
}

var _ Fetcher = (*Memo)(nil)

// Memoize returns a Memo over f. Shared requests stop when ctx ends.
func Memoize(ctx context.Context, f Fetcher) *Memo {
	return &Memo{ctx: ctx, next: f, results: make(map[string]memoResult)}
}

// Fetch serves cacheable probes from the memo and passes the rest through.
func (m *Memo) Fetch(ctx context.Context, rawURL string, opts Options) (*Response, error) {
	key, ok := memoKey(rawURL, opts)
	if !ok {
		return m.next.Fetch(ctx, rawURL, opts)
	}

	m.mu.Lock()
	if r, found := m.results[key]; found {
		m.hits++
		m.mu.Unlock()
		return r.resp, r.err
	}
	m.mu.Unlock()

	ch := m.group.DoChan(key, func() (any, error) {
		sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()
		stop := context.AfterFunc(m.ctx, cancel)
		defer stop()

		resp, err := m.next.Fetch(sctx, rawURL, opts)
		// Results cut short by the memo's lifetime are not remembered.
		if sctx.Err() == nil && !errors.Is(err, ErrCanceled) && !errors.Is(err, context.Canceled) {
			m.mu.Lock()
			m.results[key] = memoResult{resp: resp, err: err}
			m.mu.Unlock()
		}
		return resp, err
	})

	select {
	case r := <-ch:
		resp, _ := r.Val.(*Response)
		return resp, r.Err
	case <-ctx.Done():
		kind := KindTimeout
		if errors.Is(ctx.Err(), context.Canceled) {
			kind = KindCanceled
		}
		return nil, &FetchError{Kind: kind, URL: rawURL, Err: ctx.Err()}
	}
}

// Hits returns how many probes were answered from the memo.
func (m *Memo) Hits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits
}

func memoKey(rawURL string, o Options) (string, bool) {
	method := o.Method
	if method == "" {
		method = http.MethodGet
	}
	if method != http.MethodGet && method != http.MethodHead {
		return "", false
	}
	if len(o.Headers) > 0 || len(o.Body) > 0 || o.Form != nil {
		return "", false
	}
	return fmt.Sprintf("%s %s|%t|%d|%d|%t|%d",
		method, rawURL, o.NoRedirects, o.MaxRedirects, o.MaxBodySize, o.StrictBodySize, o.Timeout), true
}
