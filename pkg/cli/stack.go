package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vulnscan/vulnscan/pkg/checks"
	"github.com/vulnscan/vulnscan/pkg/config"
	"github.com/vulnscan/vulnscan/pkg/duration"
	"github.com/vulnscan/vulnscan/pkg/fetcher"
	"github.com/vulnscan/vulnscan/pkg/httpclient"
	"github.com/vulnscan/vulnscan/pkg/metrics"
	"github.com/vulnscan/vulnscan/pkg/scanner"
	"github.com/vulnscan/vulnscan/pkg/session"
	"github.com/vulnscan/vulnscan/pkg/target"
	"github.com/vulnscan/vulnscan/pkg/tracing"
)

// stack is one wired scanning stack: guard, fetcher, store, telemetry
// and the scanner on top.
type stack struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracing *tracing.Provider
	fetcher *fetcher.HTTP
	store   *session.MemoryStore
	scanner *scanner.Scanner
}

// newStack wires cfg. resolver may be nil for the system resolver.
func newStack(ctx context.Context, cfg config.Config, logger *slog.Logger, resolver target.Resolver) (*stack, error) {
	reg := checks.Default()
	if len(cfg.Checks) > 0 {
		sub, err := reg.Subset(cfg.Checks...)
		if err != nil {
			return nil, err
		}
		reg = sub
	}

	dns := httpclient.NewDNSCache(resolver, duration.DNSCacheTTL, duration.DNSNegativeTTL)
	gc := cfg.GuardConfig()
	gc.Resolver = dns
	guard, err := target.NewGuard(gc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}

	m := metrics.New()
	f, err := fetcher.New(cfg.FetcherConfig(guard.Resolve, m), fetcher.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}

	store := session.NewMemoryStore(
		session.WithTTL(cfg.SessionTTL),
		session.WithSweepInterval(cfg.SweepInterval),
		session.WithMaxEntries(cfg.MaxSessions),
		session.WithLogger(logger),
	)
	if err := m.RegisterSessionGauge(store.Len); err != nil {
		f.Close()
		_ = store.Close()
		return nil, err
	}

	tp, err := tracing.New(ctx, cfg.TracingConfig())
	if err != nil {
		logger.Warn("tracing disabled", slog.String("error", err.Error()))
		tp = tracing.Noop()
	}

	sc := scanner.New(reg, f, store, cfg.ScannerConfig(),
		scanner.WithLogger(logger),
		scanner.WithMetrics(m),
		scanner.WithTracer(tp.Tracer()),
		scanner.WithGuard(guard),
	)

	logger.Debug("scanner ready",
		slog.Int("checks", reg.Len()),
		slog.Int("max_concurrency", cfg.MaxConcurrency),
		slog.Bool("tracing", tp.Enabled()))

	return &stack{
		logger:  logger,
		metrics: m,
		tracing: tp,
		fetcher: f,
		store:   store,
		scanner: sc,
	}, nil
}

// Close flushes traces and releases connections and the sweeper.
func (r *stack) Close(ctx context.Context) error {
	r.fetcher.Close()
	return errors.Join(r.store.Close(), r.tracing.Shutdown(context.WithoutCancel(ctx)))
}
