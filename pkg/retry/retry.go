// Package retry runs an operation again after transient failures, with
// exponential backoff and optional jitter. It is context-aware: a
// cancelled context stops both the attempts and the sleeps between them.
//
// Usage:
//
//	err := retry.Do(ctx, retry.Config{Attempts: 2, Retryable: isTransient}, func() error {
//	    resp, err = client.Do(req)
//	    return err
//	})
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/vulnscan/vulnscan/pkg/duration"
)

// Config controls retry behaviour.
type Config struct {
	Attempts  int              // Total attempts including the first. <= 1 means a single call.
	BaseDelay time.Duration    // Delay before the second attempt; doubles afterwards.
	MaxDelay  time.Duration    // Upper bound on any single delay.
	Jitter    bool             // Add ±25% random jitter to each delay.
	Retryable func(error) bool // nil retries every error except Permanent ones.
}

// DefaultConfig returns 2 attempts with jittered backoff from 250ms to 2s.
func DefaultConfig() Config {
	return Config{
		Attempts:  2,
		BaseDelay: duration.RetryBase,
		MaxDelay:  duration.RetryMax,
		Jitter:    true,
	}
}

// PermanentError marks an error that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Do returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// sleeper lets tests observe delays without waiting.
type sleeper func(ctx context.Context, d time.Duration) error

func realSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do calls fn until it succeeds, returns a non-retryable error, the
// attempts are used up, or ctx is done. The error from the last attempt
// is returned; Permanent wrappers are removed.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	return do(ctx, cfg, fn, realSleep)
}

func do(ctx context.Context, cfg Config, fn func() error, sleep sleeper) error {
	attempts := max(cfg.Attempts, 1)

	var err error
	for attempt := range attempts {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return err
			}
			return ctxErr
		}

		err = fn()
		if err == nil {
			return nil
		}

		var perm *PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return err
		}

		if attempt < attempts-1 {
			if sleepErr := sleep(ctx, Backoff(cfg, attempt)); sleepErr != nil {
				return err
			}
		}
	}
	return err
}

// Backoff computes the delay after the given 0-indexed attempt.
func Backoff(cfg Config, attempt int) time.Duration {
	var delay time.Duration
	if attempt < 62 {
		delay = cfg.BaseDelay << attempt
	}
	if delay <= 0 || (cfg.MaxDelay > 0 && delay > cfg.MaxDelay) {
		delay = cfg.MaxDelay
	}
	if cfg.Jitter && delay > 0 {
		if quarter := int64(delay) / 4; quarter > 0 {
			delay += time.Duration(rand.Int64N(2*quarter+1) - quarter)
		}
	}
	return delay
}
