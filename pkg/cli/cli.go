// Package cli implements the vulnscan command line: scan, serve, checks
// and version. cmd/vulnscan only wires process globals into an App.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"runtime"
	"strings"

	"github.com/vulnscan/vulnscan/pkg/config"
	"github.com/vulnscan/vulnscan/pkg/defaults"
	"github.com/vulnscan/vulnscan/pkg/input"
	"github.com/vulnscan/vulnscan/pkg/target"
	"github.com/vulnscan/vulnscan/pkg/ui"
)

// App carries the process environment a command runs in.
type App struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// LookupEnv reads VULNSCAN_* overrides. Defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)

	// Listen opens the serve listener. Defaults to net.Listen.
	Listen func(network, addr string) (net.Listener, error)

	// Resolver replaces the system DNS resolver.
	Resolver target.Resolver
}

// New returns an App bound to the process's standard streams.
func New() *App {
	return &App{Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr}
}

// Run executes the command named by args[0] and returns the exit code.
func (a *App) Run(ctx context.Context, args []string) int {
	a.fill()
	if len(args) == 0 {
		a.usage()
		return defaults.ExitUserError
	}

	var err error
	switch args[0] {
	case "scan":
		err = a.runScan(ctx, args[1:])
	case "serve":
		err = a.runServe(ctx, args[1:])
	case "checks":
		err = a.runChecks(args[1:])
	case "version", "-version", "--version":
		a.printVersion()
	case "help", "-h", "-help", "--help":
		a.usage()
	default:
		a.usage()
		err = fmt.Errorf("%w: unknown command %q", ErrUsage, args[0])
	}

	if err != nil && !errors.Is(err, flag.ErrHelp) {
		fmt.Fprintf(a.Stderr, "%s: %v\n", defaults.ToolName, err)
	}
	if errors.Is(err, flag.ErrHelp) {
		return defaults.ExitSuccess
	}
	return ExitCode(err)
}

func (a *App) fill() {
	if a.Stdin == nil {
		a.Stdin = strings.NewReader("")
	}
	if a.Stdout == nil {
		a.Stdout = io.Discard
	}
	if a.Stderr == nil {
		a.Stderr = io.Discard
	}
	if a.LookupEnv == nil {
		a.LookupEnv = os.LookupEnv
	}
	if a.Listen == nil {
		a.Listen = net.Listen
	}
}

func (a *App) usage() {
	fmt.Fprintf(a.Stderr, `%[1]s %[2]s - web vulnerability scanner

Usage:
  %[1]s scan [flags] <url>...   scan targets and print reports
  %[1]s serve [flags]           serve the HTTP API
  %[1]s checks [-output table|json]
  %[1]s version

Run '%[1]s <command> -h' for command flags.
`, defaults.ToolName, defaults.Version)
}

func (a *App) printVersion() {
	fmt.Fprintf(a.Stdout, "%s %s (%s %s/%s)\n",
		defaults.ToolName, defaults.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// common holds the flags shared by scan and serve.
type common struct {
	configPath string
	allow      input.StringSliceFlag
	block      input.StringSliceFlag
	logLevel   string
	logFormat  string
}

func (c *common) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "YAML config file")
	fs.Var(&c.allow, "allow-host", "Host, suffix, IP or CIDR exempt from the internal-address guard (repeatable)")
	fs.Var(&c.block, "block-host", "Host, suffix, IP or CIDR always refused (repeatable)")
	fs.StringVar(&c.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&c.logFormat, "log-format", "", "Log format: text, json")
}

// load builds the config from defaults, file, environment and finally
// the flags that were set on fs. apply handles command-specific flags.
func (a *App) load(fs *flag.FlagSet, c *common, apply func(cfg *config.Config, name string)) (config.Config, error) {
	cfg := config.Default()
	if c.configPath != "" {
		if err := cfg.LoadFile(c.configPath); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(a.LookupEnv); err != nil {
		return cfg, err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "allow-host":
			cfg.AllowHosts = c.allow.Values()
		case "block-host":
			cfg.BlockHosts = c.block.Values()
		case "log-level":
			cfg.LogLevel = c.logLevel
		case "log-format":
			cfg.LogFormat = c.logFormat
		default:
			if apply != nil {
				apply(&cfg, f.Name)
			}
		}
	})
	return cfg, cfg.Validate()
}

func (a *App) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.Stderr)
	return fs
}

// parse accepts flags before, between and after positional arguments
// and returns the positionals.
func (a *App) parse(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			if errors.Is(err, flag.ErrHelp) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ErrUsage, err)
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

func (a *App) logger(cfg config.Config) *slog.Logger {
	return cfg.NewLogger(a.Stderr)
}

func (a *App) runChecks(args []string) error {
	fs := a.flagSet("checks")
	output := fs.String("output", "table", "Output format: table, json")
	rest, err := a.parse(fs, args)
	if err != nil {
		return err
	}
	if len(rest) > 0 {
		return fmt.Errorf("%w: checks takes no arguments", ErrUsage)
	}

	cs := defaultChecks()
	switch *output {
	case "table":
		return ui.RenderChecks(a.Stdout, cs)
	case "json":
		return writeChecksJSON(a.Stdout, cs)
	default:
		return fmt.Errorf("%w: unknown output %q", ErrUsage, *output)
	}
}
