package checks

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vulnscan/vulnscan/pkg/fetcher"
	"github.com/vulnscan/vulnscan/pkg/target"
)

// stubFetcher serves canned responses by URL and records every request.
// Unknown URLs get a 404 with an empty body.
type stubFetcher struct {
	mu     sync.Mutex
	routes map[string]*fetcher.Response
	errs   map[string]error
	calls  []string
}

func newStub() *stubFetcher {
	return &stubFetcher{routes: map[string]*fetcher.Response{}, errs: map[string]error{}}
}

func (s *stubFetcher) on(rawURL string, status int, header http.Header, body string) *stubFetcher {
	if header == nil {
		header = http.Header{}
	}
	s.routes[rawURL] = &fetcher.Response{URL: rawURL, StatusCode: status, Header: header, Body: []byte(body)}
	return s
}

func (s *stubFetcher) fail(rawURL string, err error) *stubFetcher {
	s.errs[rawURL] = err
	return s
}

func (s *stubFetcher) Fetch(_ context.Context, rawURL string, _ fetcher.Options) (*fetcher.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, rawURL)
	if err, ok := s.errs[rawURL]; ok {
		return nil, err
	}
	if r, ok := s.routes[rawURL]; ok {
		return r, nil
	}
	return &fetcher.Response{URL: rawURL, StatusCode: http.StatusNotFound, Header: http.Header{}}, nil
}

// liveFetcher returns a real fetcher for httptest servers.
func liveFetcher(t *testing.T) fetcher.Fetcher {
	t.Helper()
	f, err := fetcher.New(fetcher.Config{Attempts: 1})
	require.NoError(t, err)
	t.Cleanup(f.Close)
	return f
}

func connErr(rawURL string) error {
	return &fetcher.FetchError{Kind: fetcher.KindConnection, URL: rawURL}
}

var exampleTarget = target.MustParse("http://example.com/")
