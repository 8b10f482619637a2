package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vulnscan/vulnscan/pkg/api"
	"github.com/vulnscan/vulnscan/pkg/config"
)

type serveFlags struct {
	common
	addr string
}

func (a *App) runServe(ctx context.Context, args []string) error {
	var f serveFlags
	fs := a.flagSet("serve")
	f.register(fs)
	fs.StringVar(&f.addr, "addr", "", "Listen address (default :8080)")

	rest, err := a.parse(fs, args)
	if err != nil {
		return err
	}
	if len(rest) > 0 {
		return fmt.Errorf("%w: serve takes no arguments", ErrUsage)
	}

	cfg, err := a.load(fs, &f.common, func(cfg *config.Config, name string) {
		if name == "addr" {
			cfg.ListenAddr = f.addr
		}
	})
	if err != nil {
		return err
	}
	logger := a.logger(cfg)

	st, err := newStack(ctx, cfg, logger, a.Resolver)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(ctx); err != nil {
			logger.Warn("shutdown", slog.String("error", err.Error()))
		}
	}()

	srv := api.New(st.scanner, api.Config{
		ClientRateLimit: cfg.ClientRateLimit,
		ClientBurst:     cfg.ClientBurst,
	}, api.WithLogger(logger), api.WithMetricsHandler(st.metrics.Handler()))

	ln, err := a.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.ListenAddr, err)
	}
	logger.Info("serving",
		slog.String("addr", ln.Addr().String()),
		slog.Int("checks", st.scanner.Registry().Len()),
		slog.Duration("session_ttl", cfg.SessionTTL))

	// A signal ends serving normally.
	return srv.Serve(ctx, ln)
}
