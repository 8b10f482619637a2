// Package scanner runs every registered check against one target and
// turns the outcome into a stored report.
//
// A scan validates the target, dispatches the checks on a bounded worker
// pool, waits for all of them (or for the scan deadline), aggregates the
// findings and hands the report to the session store. A check that fails
// becomes a diagnostic; the scan itself fails only when the target is
// invalid, the caller cancels, or no check completed.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vulnscan/vulnscan/pkg/checks"
	"github.com/vulnscan/vulnscan/pkg/defaults"
	"github.com/vulnscan/vulnscan/pkg/duration"
	"github.com/vulnscan/vulnscan/pkg/fetcher"
	"github.com/vulnscan/vulnscan/pkg/finding"
	"github.com/vulnscan/vulnscan/pkg/metrics"
	"github.com/vulnscan/vulnscan/pkg/report"
	"github.com/vulnscan/vulnscan/pkg/session"
	"github.com/vulnscan/vulnscan/pkg/target"
	"github.com/vulnscan/vulnscan/pkg/tracing"
	"github.com/vulnscan/vulnscan/pkg/workerpool"
)

// Config bounds a scan. Zero values take the defaults.
type Config struct {
	CheckTimeout   time.Duration // per check (default 15s)
	ScanTimeout    time.Duration // whole scan (default 60s)
	MaxConcurrency int           // simultaneous checks (default 20)
}

// DefaultConfig returns the defaults from pkg/defaults and pkg/duration.
func DefaultConfig() Config {
	return Config{
		CheckTimeout:   duration.CheckTimeout,
		ScanTimeout:    duration.ScanTimeout,
		MaxConcurrency: defaults.MaxConcurrencyCap,
	}
}

// Scanner is safe for concurrent use; scans share nothing but the store.
type Scanner struct {
	registry *checks.Registry
	fetcher  fetcher.Fetcher
	store    session.Store
	cfg      Config

	guard   *target.Guard
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
	newID   func() string
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithLogger sets a custom structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scanner) { s.logger = l }
}

// WithMetrics records scan, check and finding metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scanner) { s.metrics = m }
}

// WithTracer emits one span per scan and one per check.
func WithTracer(t trace.Tracer) Option {
	return func(s *Scanner) { s.tracer = t }
}

// WithGuard sets the SSRF guard used to validate targets.
func WithGuard(g *target.Guard) Option {
	return func(s *Scanner) { s.guard = g }
}

// WithClock replaces time.Now for report timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Scanner) { s.now = now }
}

// WithIDGenerator replaces the UUID scan ID generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Scanner) { s.newID = fn }
}

// New builds a Scanner and seals reg. A nil reg uses checks.Default().
// A nil store keeps no reports.
func New(reg *checks.Registry, f fetcher.Fetcher, store session.Store, cfg Config, opts ...Option) *Scanner {
	def := DefaultConfig()
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = def.CheckTimeout
	}
	if cfg.ScanTimeout <= 0 {
		cfg.ScanTimeout = def.ScanTimeout
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = def.MaxConcurrency
	}
	if reg == nil {
		reg = checks.Default()
	}
	reg.Seal()

	s := &Scanner{
		registry: reg,
		fetcher:  f,
		store:    store,
		cfg:      cfg,
		guard:    target.DefaultGuard(),
		logger:   slog.Default(),
		tracer:   tracing.Noop().Tracer(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the effective configuration.
func (s *Scanner) Config() Config { return s.cfg }

// Registry returns the checks this scanner runs.
func (s *Scanner) Registry() *checks.Registry { return s.registry }

// Get returns a stored report by scan ID.
func (s *Scanner) Get(scanID string) (*report.Report, error) {
	if s.store == nil {
		return nil, fmt.Errorf("%w: %s", session.ErrNotFound, scanID)
	}
	return s.store.Get(scanID)
}

// Scan validates rawURL, runs every check and returns the stored report.
//
// Errors: *target.InvalidTargetError for rejected input (no request is
// sent), ErrScanCancelled when ctx ends first, *AllChecksFailedError when
// no check completed, ErrNoChecks for an empty registry.
func (s *Scanner) Scan(ctx context.Context, rawURL string) (*report.Report, error) {
	start := time.Now()
	rep, err := s.scan(ctx, rawURL)
	s.metrics.ObserveScan(scanOutcome(err), time.Since(start))
	return rep, err
}

func (s *Scanner) scan(ctx context.Context, rawURL string) (_ *report.Report, err error) {
	if ctx.Err() != nil {
		return nil, cancelled(ctx)
	}
	cs := s.registry.All()
	if len(cs) == 0 {
		return nil, ErrNoChecks
	}

	t, err := target.Validate(ctx, rawURL, s.guard)
	if err != nil {
		if ctx.Err() != nil {
			return nil, cancelled(ctx)
		}
		s.logger.Info("target rejected", slog.String("input", rawURL), slog.String("error", err.Error()))
		return nil, err
	}

	scanID := s.newID()
	ctx, span := s.tracer.Start(ctx, "scan", trace.WithAttributes(
		attribute.String("scan.id", scanID),
		attribute.String("scan.target", t.String()),
		attribute.Int("scan.checks", len(cs)),
	))
	defer func() { tracing.End(span, err) }()

	log := s.logger.With(slog.String("scan_id", scanID), slog.String("target", t.String()))
	log.Info("scan started", slog.Int("checks", len(cs)))
	start := time.Now()

	outcomes, peak := s.dispatch(ctx, t, cs)
	if ctx.Err() != nil {
		log.Info("scan cancelled", slog.Duration("elapsed", time.Since(start)))
		return nil, cancelled(ctx)
	}

	var (
		findings []finding.Finding
		diags    []report.Diagnostic
		failures []checks.Result
	)
	for _, o := range outcomes {
		r := o.result
		if r.Failed() {
			kind := FailureKind(r.Err)
			s.metrics.ObserveCheck(r.CheckID, kind, o.took)
			log.Warn("check failed",
				slog.String("check", r.CheckID),
				slog.String("kind", kind),
				slog.String("error", r.Err.Error()))
			failures = append(failures, r)
			diags = append(diags, report.Diagnostic{CheckID: r.CheckID, Kind: kind, Message: r.Err.Error()})
			continue
		}
		s.metrics.ObserveCheck(r.CheckID, metrics.CheckOK, o.took)
		findings = append(findings, r.Findings...)
	}
	if len(failures) == len(outcomes) {
		return nil, &AllChecksFailedError{Target: t.String(), Failures: failures}
	}

	rep := report.Build(t.String(), scanID, s.now(), findings, diags)
	if s.store != nil {
		if _, err := s.store.Put(rep); err != nil {
			return nil, fmt.Errorf("store report: %w", err)
		}
	}
	s.metrics.ObserveFindings(rep.Findings)

	log.Info("scan finished",
		slog.Int("findings", rep.Summary.Total),
		slog.String("max_severity", string(rep.MaxSeverity())),
		slog.Int("failed_checks", len(failures)),
		slog.Int("peak_concurrency", peak),
		slog.Duration("elapsed", time.Since(start)))
	return rep, nil
}

type outcome struct {
	result checks.Result
	took   time.Duration
}

type indexed struct {
	i int
	outcome
}

// dispatch runs cs on a pool of min(MaxConcurrency, len(cs)) workers and
// returns one outcome per check in registration order, plus the highest
// number of checks that ran at once. When the scan deadline passes,
// unfinished checks are reported as timed out and dispatch returns
// without waiting for them.
func (s *Scanner) dispatch(ctx context.Context, t target.Target, cs []checks.Check) ([]outcome, int) {
	scanCtx, cancel := context.WithTimeout(ctx, s.cfg.ScanTimeout)
	defer cancel()

	f := fetcher.Memoize(scanCtx, s.fetcher)
	pool := workerpool.New(min(s.cfg.MaxConcurrency, len(cs)), workerpool.WithPanicHandler(func(v any) {
		s.logger.Error("scan worker panicked", slog.Any("panic", v))
	}))
	done := make(chan indexed, len(cs))
	start := time.Now()

	go func() {
		defer pool.Close()
		for i, c := range cs {
			pool.Submit(func() {
				began := time.Now()
				r := s.runCheck(scanCtx, t, f, c)
				done <- indexed{i: i, outcome: outcome{result: r, took: time.Since(began)}}
			})
		}
	}()

	out := make([]outcome, len(cs))
	got := make([]bool, len(cs))
	collect := func(r indexed) {
		out[r.i] = r.outcome
		got[r.i] = true
	}

	for range cs {
		select {
		case r := <-done:
			collect(r)
		case <-scanCtx.Done():
			for drained := false; !drained; {
				select {
				case r := <-done:
					collect(r)
				default:
					drained = true
				}
			}
			for i, c := range cs {
				if !got[i] {
					out[i] = outcome{
						result: checks.Result{CheckID: c.ID(), Err: s.interrupted(scanCtx, scanCtx, c.ID())},
						took:   time.Since(start),
					}
				}
			}
			return out, pool.Peak()
		}
	}
	return out, pool.Peak()
}

// runCheck runs c under its own deadline. A check that ignores its
// context is abandoned at the deadline; its goroutine exits when Run
// returns.
func (s *Scanner) runCheck(ctx context.Context, t target.Target, f fetcher.Fetcher, c checks.Check) checks.Result {
	id := c.ID()
	if ctx.Err() != nil {
		return checks.Result{CheckID: id, Err: fmt.Errorf("check %s not started: %w", id, ctx.Err())}
	}

	ctx, span := s.tracer.Start(ctx, "check "+id, trace.WithAttributes(attribute.String("check.id", id)))
	cctx, cancel := context.WithTimeout(ctx, s.cfg.CheckTimeout)
	defer cancel()

	ch := make(chan checks.Result, 1)
	go func() {
		defer func() {
			if v := recover(); v != nil {
				s.logger.Error("check panicked",
					slog.String("check", id),
					slog.Any("panic", v),
					slog.String("stack", string(debug.Stack())))
				ch <- checks.Result{CheckID: id, Err: &PanicError{CheckID: id, Value: v}}
			}
		}()
		fs, err := c.Run(cctx, t, f)
		ch <- checks.Result{CheckID: id, Findings: fs, Err: err}
	}()

	var res checks.Result
	select {
	case res = <-ch:
	case <-cctx.Done():
		res = checks.Result{CheckID: id, Err: s.interrupted(ctx, cctx, id)}
	}
	if res.Err == nil {
		res.Findings, res.Err = normalize(id, t, res.Findings)
	} else {
		res.Findings = nil
	}

	tracing.End(span, res.Err, attribute.Int("check.findings", len(res.Findings)))
	return res
}

// interrupted explains why inner ended: the scan context's cancellation
// or deadline (outer), or inner's own deadline.
func (s *Scanner) interrupted(outer, inner context.Context, id string) error {
	switch {
	case errors.Is(outer.Err(), context.Canceled):
		return fmt.Errorf("check %s: %w", id, context.Canceled)
	case outer.Err() != nil:
		return fmt.Errorf("check %s: %w: scan deadline of %s exceeded", id, ErrCheckTimeout, s.cfg.ScanTimeout)
	case errors.Is(inner.Err(), context.DeadlineExceeded):
		return fmt.Errorf("check %s: %w after %s", id, ErrCheckTimeout, s.cfg.CheckTimeout)
	default:
		return fmt.Errorf("check %s: %w", id, inner.Err())
	}
}

// normalize stamps the check ID and target URL onto findings, replaces
// invalid UTF-8 copied from responses and rejects malformed findings.
func normalize(id string, t target.Target, fs []finding.Finding) ([]finding.Finding, error) {
	out := make([]finding.Finding, 0, len(fs))
	for _, f := range fs {
		f.CheckID = id
		if f.URL == "" {
			f.URL = t.String()
		}
		f.Type = validUTF8(f.Type)
		f.Description = validUTF8(f.Description)
		f.Evidence = validUTF8(f.Evidence)
		f.URL = validUTF8(f.URL)
		if err := f.Validate(); err != nil {
			return nil, fmt.Errorf("check %s: %w", id, err)
		}
		out = append(out, f)
	}
	return out, nil
}

func validUTF8(s string) string {
	return strings.ToValidUTF8(s, string(utf8.RuneError))
}

// FailureKind classifies a check failure for diagnostics and metrics:
// panic, timeout, canceled, error, or the fetch error kind.
func FailureKind(err error) string {
	var pe *PanicError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &pe):
		return "panic"
	case errors.Is(err, ErrCheckTimeout):
		return "timeout"
	case fetcher.KindOf(err) != "":
		return string(fetcher.KindOf(err))
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}

func cancelled(ctx context.Context) error {
	return fmt.Errorf("%w: %w", ErrScanCancelled, context.Cause(ctx))
}

func scanOutcome(err error) string {
	switch {
	case err == nil:
		return metrics.ScanCompleted
	case errors.Is(err, ErrScanCancelled):
		return metrics.ScanCanceled
	case errors.Is(err, ErrAllChecksFailed):
		return metrics.ScanAllFailed
	case errors.Is(err, target.ErrInvalidTarget):
		return metrics.ScanInvalidTarget
	default:
		return metrics.ScanError
	}
}
