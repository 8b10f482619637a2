package fetcher

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countingFetcher(calls *atomic.Int32, delay time.Duration) Func {
	return func(_ context.Context, rawURL string, _ Options) (*Response, error) {
		calls.Add(1)
		time.Sleep(delay)
		return &Response{URL: rawURL, StatusCode: http.StatusOK}, nil
	}
}

func TestMemo_DeduplicatesConcurrentGets(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	m := Memoize(context.Background(), countingFetcher(&calls, 20*time.Millisecond))

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := m.Fetch(context.Background(), "http://example.com/", Options{})
			assert.NoError(t, err)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
		}()
	}
	wg.Wait()

	_, err := m.Fetch(context.Background(), "http://example.com/", Options{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.GreaterOrEqual(t, m.Hits(), 1)
}

func TestMemo_DistinctOptions(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	m := Memoize(context.Background(), countingFetcher(&calls, 0))
	ctx := context.Background()

	_, _ = m.Fetch(ctx, "http://example.com/", Options{})
	_, _ = m.Fetch(ctx, "http://example.com/", Options{NoRedirects: true})
	_, _ = m.Fetch(ctx, "http://example.com/?q=1", Options{})
	assert.Equal(t, int32(3), calls.Load())
}

func TestMemo_PassThrough(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	m := Memoize(context.Background(), countingFetcher(&calls, 0))
	ctx := context.Background()

	for range 2 {
		_, _ = m.Fetch(ctx, "http://example.com/", Options{Method: http.MethodPost})
		_, _ = m.Fetch(ctx, "http://example.com/", Options{Headers: http.Header{"X": {"1"}}})
		_, _ = m.Fetch(ctx, "http://example.com/", Options{Form: map[string][]string{"a": {"b"}}})
	}
	assert.Equal(t, int32(6), calls.Load())
	assert.Zero(t, m.Hits())
}

func TestMemo_CancellationNotCached(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	m := Memoize(context.Background(), Func(func(ctx context.Context, rawURL string, _ Options) (*Response, error) {
		if calls.Add(1) == 1 {
			return nil, &FetchError{Kind: KindCanceled, URL: rawURL, Err: context.Canceled}
		}
		return &Response{StatusCode: http.StatusOK}, nil
	}))

	_, err := m.Fetch(context.Background(), "http://example.com/", Options{})
	require.ErrorIs(t, err, ErrCanceled)

	resp, err := m.Fetch(context.Background(), "http://example.com/", Options{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMemo_CachesFailures(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	m := Memoize(context.Background(), Func(func(_ context.Context, rawURL string, _ Options) (*Response, error) {
		calls.Add(1)
		return nil, &FetchError{Kind: KindConnection, URL: rawURL}
	}))

	for range 3 {
		_, err := m.Fetch(context.Background(), "http://example.com/", Options{})
		assert.ErrorIs(t, err, ErrConnection)
	}
	assert.Equal(t, int32(1), calls.Load(), "a dead target is probed once per scan")
}

func TestMemo_CallerDeadlineDoesNotLeak(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	m := Memoize(context.Background(), Func(func(ctx context.Context, rawURL string, _ Options) (*Response, error) {
		if calls.Add(1) == 1 {
			select {
			case <-time.After(100 * time.Millisecond):
			case <-ctx.Done():
				return nil, &FetchError{Kind: KindTimeout, URL: rawURL, Err: ctx.Err()}
			}
		}
		return &Response{URL: rawURL, StatusCode: http.StatusOK}, nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := m.Fetch(ctx, "http://example.com/", Options{})
	require.ErrorIs(t, err, ErrTimeout)

	// The shared request keeps running for the next caller and succeeds.
	resp, err := m.Fetch(context.Background(), "http://example.com/", Options{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestMemo_LifetimeEndsSharedRequest(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	scan, cancel := context.WithCancel(context.Background())
	m := Memoize(scan, Func(func(ctx context.Context, rawURL string, _ Options) (*Response, error) {
		if calls.Add(1) == 1 {
			<-ctx.Done()
			return nil, &FetchError{Kind: KindCanceled, URL: rawURL, Err: ctx.Err()}
		}
		return &Response{URL: rawURL, StatusCode: http.StatusOK}, nil
	}))

	errc := make(chan error, 1)
	go func() {
		_, err := m.Fetch(context.Background(), "http://example.com/", Options{})
		errc <- err
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errc, ErrCanceled)

	resp, err := m.Fetch(context.Background(), "http://example.com/", Options{})
	require.NoError(t, err, "an aborted request is not cached")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
