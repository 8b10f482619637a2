package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulnscan/vulnscan/pkg/httpclient"
)

func newFetcher(t *testing.T, cfg Config) *HTTP {
	t.Helper()
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = time.Millisecond
	}
	f, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(f.Close)
	return f
}

type recordingObserver struct {
	mu    sync.Mutex
	kinds []Kind
}

func (o *recordingObserver) ObserveFetch(_ time.Duration, k Kind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.kinds = append(o.kinds, k)
}

func TestFetch_Basic(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "abc", HttpOnly: true})
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<html>hello</html>")
	}))
	defer srv.Close()

	obs := &recordingObserver{}
	f := newFetcher(t, Config{Observer: obs})
	resp, err := f.Fetch(context.Background(), srv.URL, Options{})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<html>hello</html>", string(resp.Body))
	assert.False(t, resp.Truncated)
	assert.True(t, resp.IsHTML())
	assert.Empty(t, resp.Redirects)
	require.Len(t, resp.Cookies(), 1)
	assert.Equal(t, "sid", resp.Cookies()[0].Name)
	assert.Equal(t, []Kind{""}, obs.kinds)
}

func TestFetch_FormPost(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		fmt.Fprintf(w, "%s %s %s", r.Method, r.Header.Get("Content-Type"), r.PostForm.Get("q"))
	}))
	defer srv.Close()

	f := newFetcher(t, Config{})
	resp, err := f.Fetch(context.Background(), srv.URL, Options{
		Method: http.MethodPost,
		Form:   map[string][]string{"q": {"' OR 1=1 --"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "POST application/x-www-form-urlencoded ' OR 1=1 --", string(resp.Body))
}

func TestFetch_Headers(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, r.Header.Get("X-Probe"))
	}))
	defer srv.Close()

	f := newFetcher(t, Config{})
	resp, err := f.Fetch(context.Background(), srv.URL, Options{Headers: http.Header{"X-Probe": {"1"}}})
	require.NoError(t, err)
	assert.Equal(t, "1", string(resp.Body))
}

func TestFetch_Redirects(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) { http.Redirect(w, r, "/mid", http.StatusFound) })
	mux.HandleFunc("/mid", func(w http.ResponseWriter, r *http.Request) { http.Redirect(w, r, "/end", http.StatusFound) })
	mux.HandleFunc("/end", func(w http.ResponseWriter, _ *http.Request) { fmt.Fprint(w, "end") })
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := newFetcher(t, Config{})

	resp, err := f.Fetch(context.Background(), srv.URL+"/start", Options{})
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/end", resp.URL)
	assert.Equal(t, []string{srv.URL + "/start", srv.URL + "/mid"}, resp.Redirects)

	resp, err = f.Fetch(context.Background(), srv.URL+"/start", Options{NoRedirects: true})
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.True(t, resp.IsRedirect())
	assert.Equal(t, "/mid", resp.Location())

	_, err = f.Fetch(context.Background(), srv.URL+"/start", Options{MaxRedirects: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTooManyRedirects)
	assert.Equal(t, KindTooManyRedirects, KindOf(err))
}

func TestFetch_RedirectLoopIsTooManyRedirects(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) { http.Redirect(w, r, "/b", http.StatusFound) })
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) { http.Redirect(w, r, "/a", http.StatusFound) })
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := newFetcher(t, Config{}).Fetch(context.Background(), srv.URL+"/a", Options{})
	assert.ErrorIs(t, err, ErrTooManyRedirects)
}

func TestFetch_BodyLimit(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, strings.Repeat("x", 100))
	}))
	defer srv.Close()

	f := newFetcher(t, Config{})

	resp, err := f.Fetch(context.Background(), srv.URL, Options{MaxBodySize: 10})
	require.NoError(t, err)
	assert.True(t, resp.Truncated)
	assert.Len(t, resp.Body, 10)

	_, err = f.Fetch(context.Background(), srv.URL, Options{MaxBodySize: 10, StrictBodySize: true})
	assert.ErrorIs(t, err, ErrResponseTooLarge)

	resp, err = f.Fetch(context.Background(), srv.URL, Options{MaxBodySize: 100})
	require.NoError(t, err)
	assert.False(t, resp.Truncated, "exactly at the limit is not truncated")
}

func TestFetch_Timeout(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	obs := &recordingObserver{}
	f := newFetcher(t, Config{Attempts: 1, Observer: obs})
	start := time.Now()
	_, err := f.Fetch(context.Background(), srv.URL, Options{Timeout: 50 * time.Millisecond})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, []Kind{KindTimeout}, obs.kinds)
}

func TestFetch_ConnectionErrorIsRetried(t *testing.T) {
	t.Parallel()
	// Grab a free port, then close it so dials are refused.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	var dials atomic.Int32
	client, err := httpclient.New(httpclient.Config{
		Resolve: func(_ context.Context, _ string) ([]netip.Addr, error) {
			dials.Add(1)
			return []netip.Addr{netip.MustParseAddr("127.0.0.1")}, nil
		},
	})
	require.NoError(t, err)

	f := newFetcher(t, Config{Client: client, Attempts: 3})
	_, err = f.Fetch(context.Background(), "http://"+addr+"/", Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnection)
	assert.Equal(t, int32(3), dials.Load())
}

func TestFetch_RetrySucceeds(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			// Drop the first connection mid-response.
			if conn, _, err := w.(http.Hijacker).Hijack(); err == nil {
				conn.Close()
			}
			return
		}
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	f := newFetcher(t, Config{Attempts: 2})
	resp, err := f.Fetch(context.Background(), srv.URL, Options{})
	require.NoError(t, err)
	assert.Equal(t, "ok", string(resp.Body))
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetch_Blocked(t *testing.T) {
	t.Parallel()
	var hit atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hit.Store(true)
	}))
	defer srv.Close()

	f := newFetcher(t, Config{
		Attempts: 3,
		HTTP: httpclient.Config{Resolve: func(context.Context, string) ([]netip.Addr, error) {
			return nil, errors.New("loopback is blocked")
		}},
	})
	_, err := f.Fetch(context.Background(), srv.URL, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBlocked)
	assert.False(t, hit.Load(), "no request reaches a blocked address")
}

func TestFetch_Canceled(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	f := newFetcher(t, Config{Attempts: 5})
	start := time.Now()
	_, err := f.Fetch(ctx, srv.URL, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCanceled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestFetch_InvalidURL(t *testing.T) {
	t.Parallel()
	_, err := newFetcher(t, Config{}).Fetch(context.Background(), "http://bad host/", Options{})
	assert.ErrorIs(t, err, ErrConnection)
}

func TestFetch_RateLimit(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	defer srv.Close()

	f := newFetcher(t, Config{RateLimit: 20})
	start := time.Now()
	for range 25 {
		_, err := f.Fetch(context.Background(), srv.URL, Options{})
		require.NoError(t, err)
	}
	// Burst of 20, then 5 more at 20/s.
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}

func TestFetchError(t *testing.T) {
	t.Parallel()
	inner := io.ErrUnexpectedEOF
	err := fmt.Errorf("check: %w", &FetchError{Kind: KindConnection, URL: "http://x/", Err: inner})

	assert.ErrorIs(t, err, ErrConnection)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, KindConnection, KindOf(err))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Contains(t, err.Error(), "http://x/")
}
