package scanner

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/vulnscan/vulnscan/pkg/checks"
	"github.com/vulnscan/vulnscan/pkg/fetcher"
	"github.com/vulnscan/vulnscan/pkg/finding"
	"github.com/vulnscan/vulnscan/pkg/metrics"
	"github.com/vulnscan/vulnscan/pkg/report"
	"github.com/vulnscan/vulnscan/pkg/session"
	"github.com/vulnscan/vulnscan/pkg/target"
	"github.com/vulnscan/vulnscan/pkg/tracing"
)

const root = "http://example.com/"

// publicResolver answers every lookup with a public address so tests
// never touch DNS.
type publicResolver struct{}

func (publicResolver) LookupNetIP(context.Context, string, string) ([]netip.Addr, error) {
	return []netip.Addr{netip.MustParseAddr("93.184.215.14")}, nil
}

func testGuard(t *testing.T) *target.Guard {
	t.Helper()
	g, err := target.NewGuard(target.GuardConfig{Resolver: publicResolver{}})
	require.NoError(t, err)
	return g
}

// countingFetcher returns the same response for every URL.
type countingFetcher struct {
	calls atomic.Int32
	resp  *fetcher.Response
}

func (c *countingFetcher) Fetch(_ context.Context, rawURL string, _ fetcher.Options) (*fetcher.Response, error) {
	c.calls.Add(1)
	r := *c.resp
	r.URL = rawURL
	return &r, nil
}

// insecureSite lacks HSTS and sets a session cookie without Secure.
func insecureSite() *countingFetcher {
	h := http.Header{}
	h.Add("Set-Cookie", "session=abc; Path=/")
	return &countingFetcher{resp: &fetcher.Response{StatusCode: http.StatusOK, Header: h}}
}

func registry(t *testing.T, cs ...checks.Check) *checks.Registry {
	t.Helper()
	r := checks.NewRegistry()
	for _, c := range cs {
		require.NoError(t, r.Register(c))
	}
	return r
}

func builtins(t *testing.T, ids ...string) *checks.Registry {
	t.Helper()
	r, err := checks.Default().Subset(ids...)
	require.NoError(t, err)
	return r
}

func newScanner(t *testing.T, reg *checks.Registry, f fetcher.Fetcher, cfg Config, opts ...Option) (*Scanner, *session.MemoryStore) {
	t.Helper()
	store := session.NewMemoryStore(session.WithSweepInterval(0))
	t.Cleanup(func() { _ = store.Close() })
	opts = append([]Option{WithGuard(testGuard(t))}, opts...)
	return New(reg, f, store, cfg, opts...), store
}

func constant(id string, fs ...finding.Finding) checks.Check {
	return checks.New(id, "", func(context.Context, target.Target, fetcher.Fetcher) ([]finding.Finding, error) {
		return fs, nil
	})
}

func failing(id string, err error) checks.Check {
	return checks.New(id, "", func(context.Context, target.Target, fetcher.Fetcher) ([]finding.Finding, error) {
		return nil, err
	})
}

// blocking ignores its context until release is closed.
func blocking(id string, release <-chan struct{}) checks.Check {
	return checks.New(id, "", func(context.Context, target.Target, fetcher.Fetcher) ([]finding.Finding, error) {
		<-release
		return nil, nil
	})
}

func TestScan_HSTSAndCookieExample(t *testing.T) {
	t.Parallel()
	reg := builtins(t, checks.IDMissingHSTS, checks.IDInsecureCookie)
	s, _ := newScanner(t, reg, insecureSite(), Config{})

	rep, err := s.Scan(context.Background(), "http://example.com")
	require.NoError(t, err)

	assert.Equal(t, report.Summary{Total: 2, High: 0, Medium: 2, Low: 0}, rep.Summary)
	require.Len(t, rep.Findings, 2)
	assert.Equal(t, checks.IDInsecureCookie, rep.Findings[0].CheckID)
	assert.Equal(t, checks.IDMissingHSTS, rep.Findings[1].CheckID)
	assert.Equal(t, root, rep.TargetURL)
	assert.Empty(t, rep.Diagnostics)
	assert.NotEmpty(t, rep.ScanID)
}

func TestScan_SharesRootFetch(t *testing.T) {
	t.Parallel()
	f := insecureSite()
	reg := builtins(t, checks.IDMissingHSTS, checks.IDInsecureCookie, checks.IDSecurityHeaders)
	s, _ := newScanner(t, reg, f, Config{})

	_, err := s.Scan(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.calls.Load(), "one GET of the root for three checks")
}

func TestScan_SummaryPartition(t *testing.T) {
	t.Parallel()
	s, _ := newScanner(t, checks.Default(), insecureSite(), Config{})

	rep, err := s.Scan(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, len(rep.Findings), rep.Summary.Total)
	assert.Equal(t, rep.Summary.Total, rep.Summary.High+rep.Summary.Medium+rep.Summary.Low)
}

func TestScan_BlockedTargetSendsNothing(t *testing.T) {
	t.Parallel()
	tests := []string{
		"http://127.0.0.1/",
		"http://localhost:8080/admin",
		"http://169.254.169.254/latest/meta-data/",
		"http://[::1]/",
		"ftp://example.com/",
		"",
	}
	for _, raw := range tests {
		t.Run(raw, func(t *testing.T) {
			t.Parallel()
			f := insecureSite()
			s, store := newScanner(t, checks.Default(), f, Config{})

			rep, err := s.Scan(context.Background(), raw)
			assert.Nil(t, rep)
			var ite *target.InvalidTargetError
			require.ErrorAs(t, err, &ite)
			assert.ErrorIs(t, err, target.ErrInvalidTarget)
			assert.Zero(t, f.calls.Load())
			assert.Zero(t, store.Len())
		})
	}
}

func TestScan_FailedCheckBecomesDiagnostic(t *testing.T) {
	t.Parallel()
	medium := finding.New("x", "Missing HSTS Header", finding.Medium, "d")
	tests := []struct {
		name  string
		check checks.Check
		kind  string
	}{
		{"error", failing("broken", errors.New("parse failure")), "error"},
		{"fetch error", failing("broken", &fetcher.FetchError{Kind: fetcher.KindConnection, URL: root}), "connection"},
		{"panic", checks.New("broken", "", func(context.Context, target.Target, fetcher.Fetcher) ([]finding.Finding, error) {
			panic("nil map write")
		}), "panic"},
		{"invalid finding", constant("broken", finding.New("", "T", "critical", "d")), "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			reg := registry(t, constant("healthy", medium), tt.check)
			s, _ := newScanner(t, reg, insecureSite(), Config{})

			rep, err := s.Scan(context.Background(), root)
			require.NoError(t, err)
			require.Len(t, rep.Findings, 1)
			assert.Equal(t, "healthy", rep.Findings[0].CheckID)
			require.Len(t, rep.Diagnostics, 1)
			assert.Equal(t, "broken", rep.Diagnostics[0].CheckID)
			assert.Equal(t, tt.kind, rep.Diagnostics[0].Kind)
			assert.NotEmpty(t, rep.Diagnostics[0].Message)
		})
	}
}

func TestScan_CheckTimeout(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	defer close(release)

	reg := registry(t, blocking("stuck", release), constant("fast", finding.New("", "A", finding.Low, "d")))
	s, _ := newScanner(t, reg, insecureSite(), Config{CheckTimeout: 20 * time.Millisecond})

	start := time.Now()
	rep, err := s.Scan(context.Background(), root)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	require.Len(t, rep.Diagnostics, 1)
	assert.Equal(t, "stuck", rep.Diagnostics[0].CheckID)
	assert.Equal(t, "timeout", rep.Diagnostics[0].Kind)
	assert.Len(t, rep.Findings, 1)
}

func TestScan_ScanTimeoutForcesUnfinished(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	defer close(release)

	reg := registry(t,
		constant("fast", finding.New("", "A", finding.Low, "d")),
		blocking("slow-1", release),
		blocking("slow-2", release),
	)
	s, _ := newScanner(t, reg, insecureSite(), Config{
		CheckTimeout: time.Minute,
		ScanTimeout:  30 * time.Millisecond,
	})

	rep, err := s.Scan(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, rep.Diagnostics, 2)
	for _, d := range rep.Diagnostics {
		assert.Equal(t, "timeout", d.Kind)
		assert.Contains(t, d.Message, "scan deadline")
	}
	assert.Len(t, rep.Findings, 1)
}

func TestScan_AllChecksFailed(t *testing.T) {
	t.Parallel()
	connErr := &fetcher.FetchError{Kind: fetcher.KindConnection, URL: root}
	reg := registry(t, failing("a", connErr), failing("b", connErr))
	s, store := newScanner(t, reg, insecureSite(), Config{})

	rep, err := s.Scan(context.Background(), root)
	assert.Nil(t, rep)
	var acf *AllChecksFailedError
	require.ErrorAs(t, err, &acf)
	assert.ErrorIs(t, err, ErrAllChecksFailed)
	assert.ErrorIs(t, err, fetcher.ErrConnection)
	assert.Len(t, acf.Failures, 2)
	assert.Zero(t, store.Len())
}

func TestScan_NoChecks(t *testing.T) {
	t.Parallel()
	s, _ := newScanner(t, checks.NewRegistry(), insecureSite(), Config{})
	_, err := s.Scan(context.Background(), root)
	assert.ErrorIs(t, err, ErrNoChecks)
}

func TestScan_CallerCancellation(t *testing.T) {
	t.Parallel()
	started := make(chan struct{})
	var once sync.Once
	waiter := checks.New("waiter", "", func(ctx context.Context, _ target.Target, _ fetcher.Fetcher) ([]finding.Finding, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return nil, ctx.Err()
	})
	s, store := newScanner(t, registry(t, waiter), insecureSite(), Config{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	start := time.Now()
	rep, err := s.Scan(ctx, root)
	assert.Nil(t, rep)
	assert.ErrorIs(t, err, ErrScanCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
	assert.Zero(t, store.Len())

	_, err = s.Scan(ctx, root)
	assert.ErrorIs(t, err, ErrScanCancelled, "already cancelled")
}

func TestScan_ConcurrencyBound(t *testing.T) {
	t.Parallel()
	var active, peak atomic.Int32
	var cs []checks.Check
	for _, id := range []string{"c1", "c2", "c3", "c4", "c5", "c6", "c7", "c8"} {
		cs = append(cs, checks.New(id, "", func(context.Context, target.Target, fetcher.Fetcher) ([]finding.Finding, error) {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			active.Add(-1)
			return nil, nil
		}))
	}
	s, _ := newScanner(t, registry(t, cs...), insecureSite(), Config{MaxConcurrency: 3})

	rep, err := s.Scan(context.Background(), root)
	require.NoError(t, err)
	assert.Empty(t, rep.Diagnostics, "queued checks all ran")
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestScan_DeterministicContent(t *testing.T) {
	t.Parallel()
	s, _ := newScanner(t, checks.Default(), insecureSite(), Config{})

	first, err := s.Scan(context.Background(), root)
	require.NoError(t, err)
	want, err := first.Content()
	require.NoError(t, err)

	for range 5 {
		rep, err := s.Scan(context.Background(), root)
		require.NoError(t, err)
		got, err := rep.Content()
		require.NoError(t, err)
		assert.Equal(t, string(want), string(got))
		assert.NotEqual(t, first.ScanID, rep.ScanID)
	}
}

func TestScan_StoresReport(t *testing.T) {
	t.Parallel()
	ids := []string{"scan-1", "scan-2"}
	var n atomic.Int32
	s, store := newScanner(t, builtins(t, checks.IDMissingHSTS), insecureSite(), Config{},
		WithIDGenerator(func() string { return ids[n.Add(1)-1] }),
		WithClock(func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }),
	)

	rep, err := s.Scan(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, "scan-1", rep.ScanID)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), rep.CreatedAt)

	got, err := s.Get("scan-1")
	require.NoError(t, err)
	assert.Same(t, rep, got)
	assert.Equal(t, 1, store.Len())

	_, err = s.Get("unknown")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestScan_ResultExpires(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	store := session.NewMemoryStore(session.WithClock(clock), session.WithTTL(time.Hour), session.WithSweepInterval(0))
	defer store.Close()
	s := New(builtins(t, checks.IDMissingHSTS), insecureSite(), store, Config{}, WithGuard(testGuard(t)))

	rep, err := s.Scan(context.Background(), root)
	require.NoError(t, err)

	mu.Lock()
	now = now.Add(59 * time.Minute)
	mu.Unlock()
	got, err := s.Get(rep.ScanID)
	require.NoError(t, err)
	assert.Same(t, rep, got)

	mu.Lock()
	now = now.Add(time.Minute)
	mu.Unlock()
	_, err = s.Get(rep.ScanID)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestScan_ConcurrentScans(t *testing.T) {
	t.Parallel()
	s, store := newScanner(t, checks.Default(), insecureSite(), Config{})

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Scan(context.Background(), root)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, store.Len(), "every scan got a unique ID")
}

func TestScan_MetricsAndSpans(t *testing.T) {
	t.Parallel()
	m := metrics.New()
	exp := tracetest.NewInMemoryExporter()
	tp := tracing.NewSynchronous(exp)
	reg := registry(t,
		constant("ok", finding.New("", "A", finding.High, "d")),
		failing("bad", errors.New("boom")),
	)
	s, _ := newScanner(t, reg, insecureSite(), Config{}, WithMetrics(m), WithTracer(tp.Tracer()))

	_, err := s.Scan(context.Background(), root)
	require.NoError(t, err)
	_, err = s.Scan(context.Background(), "http://127.0.0.1/")
	require.Error(t, err)

	body := scrape(t, m)
	assert.Contains(t, body, `vulnscan_scans_total{outcome="completed"} 1`)
	assert.Contains(t, body, `vulnscan_scans_total{outcome="invalid_target"} 1`)
	assert.Contains(t, body, `vulnscan_checks_total{check="bad",outcome="error"} 1`)
	assert.Contains(t, body, `vulnscan_findings_total{severity="high"} 1`)

	names := map[string]bool{}
	for _, sp := range exp.GetSpans() {
		names[sp.Name] = true
	}
	assert.True(t, names["scan"])
	assert.True(t, names["check ok"])
	assert.True(t, names["check bad"])
}

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestFailureKind(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&PanicError{CheckID: "x", Value: "boom"}, "panic"},
		{ErrCheckTimeout, "timeout"},
		{&fetcher.FetchError{Kind: fetcher.KindTooManyRedirects}, "too_many_redirects"},
		{&fetcher.FetchError{Kind: fetcher.KindTimeout}, "timeout"},
		{context.DeadlineExceeded, "timeout"},
		{context.Canceled, "canceled"},
		{errors.New("x"), "error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FailureKind(tt.err), "%v", tt.err)
	}
}

// rootFetch reports the root page's status as a finding.
func rootFetch(id string) checks.Check {
	return checks.New(id, "", func(ctx context.Context, t target.Target, f fetcher.Fetcher) ([]finding.Finding, error) {
		if _, err := f.Fetch(ctx, t.String(), fetcher.Options{}); err != nil {
			return nil, err
		}
		return []finding.Finding{finding.New("", "Seen "+id, finding.Low, id)}, nil
	})
}

func TestScan_CheckDeadlineDoesNotFailSharedFetch(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	slowFirst := fetcher.Func(func(ctx context.Context, rawURL string, _ fetcher.Options) (*fetcher.Response, error) {
		if calls.Add(1) == 1 {
			select {
			case <-time.After(150 * time.Millisecond):
			case <-ctx.Done():
				return nil, &fetcher.FetchError{Kind: fetcher.KindTimeout, URL: rawURL, Err: ctx.Err()}
			}
		}
		return &fetcher.Response{URL: rawURL, StatusCode: http.StatusOK, Header: http.Header{}}, nil
	})

	reg := registry(t, rootFetch("a"), rootFetch("b"))
	s, _ := newScanner(t, reg, slowFirst, Config{MaxConcurrency: 1, CheckTimeout: 100 * time.Millisecond})

	rep, err := s.Scan(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, rep.Diagnostics, 1)
	assert.Equal(t, "a", rep.Diagnostics[0].CheckID)
	assert.Equal(t, "timeout", rep.Diagnostics[0].Kind)
	require.Len(t, rep.Findings, 1)
	assert.Equal(t, "b", rep.Findings[0].CheckID)
	assert.Equal(t, int32(1), calls.Load(), "b shares the request a started")
}

func TestScan_ReplacesInvalidUTF8(t *testing.T) {
	t.Parallel()
	fd := finding.New("", "Verbose Error Disclosure", finding.Medium, "caf\xe9 warning")
	fd.Evidence = "include(caf\xe9.php)"
	s, _ := newScanner(t, registry(t, constant("latin1", fd)), insecureSite(), Config{})

	rep, err := s.Scan(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, rep.Findings, 1)
	assert.Equal(t, "include(caf�.php)", rep.Findings[0].Evidence)
	assert.Equal(t, "caf� warning", rep.Findings[0].Description)

	var buf bytes.Buffer
	require.NoError(t, report.Encode(&buf, rep, ""))
}

func TestScan_FinishedLogLine(t *testing.T) {
	t.Parallel()
	var buf syncBuffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	reg := registry(t,
		constant("high", finding.New("", "SQL Injection", finding.High, "d")),
		constant("low", finding.New("", "Banner", finding.Low, "d")),
	)
	s, _ := newScanner(t, reg, insecureSite(), Config{MaxConcurrency: 1}, WithLogger(logger))

	_, err := s.Scan(context.Background(), root)
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "scan finished")
	assert.Contains(t, out, "max_severity=high")
	assert.Contains(t, out, "peak_concurrency=1")
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
