// Command vulnscan scans web targets for common vulnerabilities, from the
// command line or as an HTTP service.
package main

import (
	"context"
	"os"

	"github.com/vulnscan/vulnscan/pkg/cli"
	"github.com/vulnscan/vulnscan/pkg/duration"
	"github.com/vulnscan/vulnscan/pkg/ui"
)

func main() {
	ui.SetColor(ui.ColorFor(os.Stdout))

	ctx, cancel := cli.SignalContext(context.Background(), duration.SignalGrace)
	code := cli.New().Run(ctx, os.Args[1:])
	cancel()
	os.Exit(code)
}
