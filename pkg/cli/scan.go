package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/vulnscan/vulnscan/pkg/checks"
	"github.com/vulnscan/vulnscan/pkg/config"
	"github.com/vulnscan/vulnscan/pkg/input"
	"github.com/vulnscan/vulnscan/pkg/jsonutil"
	"github.com/vulnscan/vulnscan/pkg/report"
	"github.com/vulnscan/vulnscan/pkg/ui"
)

type scanFlags struct {
	common
	timeout        time.Duration
	checkTimeout   time.Duration
	maxConcurrency int
	output         string
	checks         input.StringSliceFlag
	listFile       string
	stdin          bool
	proxy          string
	insecure       bool
}

func (a *App) runScan(ctx context.Context, args []string) error {
	var f scanFlags
	fs := a.flagSet("scan")
	f.register(fs)
	fs.Var(secondsFlag{&f.timeout}, "timeout", "Overall scan timeout, seconds or a duration (default 60s)")
	fs.Var(secondsFlag{&f.checkTimeout}, "check-timeout", "Per-check timeout, seconds or a duration (default 15s)")
	fs.IntVar(&f.maxConcurrency, "max-concurrency", 0, "Checks run at once (default min(checks, 20))")
	fs.StringVar(&f.output, "output", "json", "Output format: json, table")
	fs.Var(&f.checks, "checks", "Run only these check IDs (comma-separated or repeated)")
	fs.StringVar(&f.listFile, "l", "", "File with one target per line")
	fs.BoolVar(&f.stdin, "stdin", false, "Read targets from stdin")
	fs.StringVar(&f.proxy, "proxy", "", "HTTP or SOCKS5 proxy URL")
	fs.BoolVar(&f.insecure, "insecure", false, "Skip TLS certificate verification")

	urls, err := a.parse(fs, args)
	if err != nil {
		return err
	}
	if f.output != "json" && f.output != "table" {
		return fmt.Errorf("%w: unknown output %q", ErrUsage, f.output)
	}

	src := &input.TargetSource{URLs: urls, ListFile: f.listFile}
	if f.stdin {
		src.Reader = a.Stdin
	}
	targets, err := src.Targets()
	if err != nil {
		return err
	}

	cfg, err := a.load(fs, &f.common, f.apply)
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

	// Every target is attempted; the most severe exit code wins.
	var (
		worst  error
		failed int
	)
	for _, t := range targets {
		if ctx.Err() != nil {
			break
		}
		stop := ui.StartSpinner(a.Stderr, "scanning "+t)
		rep, err := st.scanner.Scan(ctx, t)
		stop()
		if err != nil {
			logger.Error("scan failed", slog.String("target", t), slog.String("error", err.Error()))
			failed++
			if worst == nil || ExitCode(err) > ExitCode(worst) {
				worst = err
			}
			continue
		}
		if err := a.writeReport(rep, f.output, len(targets) > 1); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	if worst == nil && ctx.Err() != nil {
		return context.Cause(ctx)
	}
	if worst != nil && len(targets) > 1 {
		return fmt.Errorf("%d of %d targets failed: %w", failed, len(targets), worst)
	}
	return worst
}

func (f *scanFlags) apply(cfg *config.Config, name string) {
	switch name {
	case "timeout":
		cfg.ScanTimeout = f.timeout
	case "check-timeout":
		cfg.CheckTimeout = f.checkTimeout
	case "max-concurrency":
		cfg.MaxConcurrency = f.maxConcurrency
	case "checks":
		cfg.Checks = f.checks.Values()
	case "proxy":
		cfg.Proxy = f.proxy
	case "insecure":
		cfg.TLSSkipVerify = f.insecure
	}
}

// writeReport prints one report. Several reports in JSON are written one
// per line so the stream stays machine-readable.
func (a *App) writeReport(rep *report.Report, output string, many bool) error {
	if output == "table" {
		return ui.RenderReport(a.Stdout, rep)
	}
	indent := "  "
	if many {
		indent = ""
	}
	return report.Encode(a.Stdout, rep, indent)
}

type checkInfo struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

func defaultChecks() []checks.Check {
	return checks.Default().All()
}

func writeChecksJSON(w io.Writer, cs []checks.Check) error {
	out := make([]checkInfo, 0, len(cs))
	for _, c := range cs {
		out = append(out, checkInfo{ID: c.ID(), Description: checks.DescriptionOf(c)})
	}
	return jsonutil.Write(w, out, "  ")
}
