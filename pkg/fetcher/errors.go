package fetcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/vulnscan/vulnscan/pkg/httpclient"
)

// Kind classifies fetch failures.
type Kind string

const (
	KindConnection       Kind = "connection"
	KindTimeout          Kind = "timeout"
	KindTooManyRedirects Kind = "too_many_redirects"
	KindResponseTooLarge Kind = "response_too_large"
	KindBlocked          Kind = "blocked"
	KindCanceled         Kind = "canceled"
)

// Sentinel errors, one per Kind. errors.Is(err, ErrTimeout) is true for
// any *FetchError of KindTimeout.
var (
	ErrConnection       = errors.New("fetcher: connection error")
	ErrTimeout          = errors.New("fetcher: timeout")
	ErrTooManyRedirects = errors.New("fetcher: too many redirects")
	ErrResponseTooLarge = errors.New("fetcher: response too large")
	ErrBlocked          = errors.New("fetcher: blocked by SSRF guard")
	ErrCanceled         = errors.New("fetcher: canceled")
)

var kindSentinels = map[Kind]error{
	KindConnection:       ErrConnection,
	KindTimeout:          ErrTimeout,
	KindTooManyRedirects: ErrTooManyRedirects,
	KindResponseTooLarge: ErrResponseTooLarge,
	KindBlocked:          ErrBlocked,
	KindCanceled:         ErrCanceled,
}

// FetchError is the only error type Fetch returns.
type FetchError struct {
	Kind Kind
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Is matches the sentinel of e's Kind.
func (e *FetchError) Is(target error) bool {
	s, ok := kindSentinels[e.Kind]
	return ok && s == target
}

// KindOf returns the Kind of a *FetchError in err's chain, or "" if there
// is none.
func KindOf(err error) Kind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// classify maps a client error to a Kind. parent is the caller's context,
// before the per-request timeout was applied.
func classify(parent context.Context, err error) Kind {
	switch {
	case errors.Is(err, httpclient.ErrDialGuard):
		return KindBlocked
	case errors.Is(err, httpclient.ErrTooManyRedirects), errors.Is(err, httpclient.ErrRedirectLoop):
		return KindTooManyRedirects
	case errors.Is(parent.Err(), context.Canceled):
		return KindCanceled
	case httpclient.IsTimeout(err):
		return KindTimeout
	default:
		return KindConnection
	}
}

// retryable reports whether a failed attempt may be repeated.
func retryable(err error) bool {
	switch KindOf(err) {
	case KindConnection, KindTimeout:
		return true
	default:
		return false
	}
}
