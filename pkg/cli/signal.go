package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vulnscan/vulnscan/pkg/defaults"
)

// SignalContext returns a context cancelled with cause ErrInterrupted on
// SIGINT or SIGTERM. A second signal within gracePeriod exits the process
// with defaults.ExitInterrupted.
func SignalContext(parent context.Context, gracePeriod time.Duration) (context.Context, context.CancelFunc) {
	return signalContext(parent, gracePeriod, nil, nil, os.Stderr)
}

// signalContext is SignalContext with the signal source, exit function
// and notice writer injectable.
func signalContext(
	parent context.Context,
	gracePeriod time.Duration,
	sigChan chan os.Signal,
	exitFn func(int),
	notice io.Writer,
) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)

	ownChannel := sigChan == nil
	if ownChannel {
		sigChan = make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	}
	if exitFn == nil {
		exitFn = os.Exit
	}

	go func() {
		if ownChannel {
			defer signal.Stop(sigChan)
		}
		select {
		case sig := <-sigChan:
			fmt.Fprintf(notice, "\n%s received, shutting down (repeat to force)\n", sig)
			cancel(ErrInterrupted)

			select {
			case <-sigChan:
				exitFn(defaults.ExitInterrupted)
			case <-time.After(gracePeriod):
			}
		case <-ctx.Done():
		}
	}()

	return ctx, func() { cancel(context.Canceled) }
}
