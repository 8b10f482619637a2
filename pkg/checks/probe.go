package checks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"unicode/utf8"

	"github.com/vulnscan/vulnscan/pkg/fetcher"
	"github.com/vulnscan/vulnscan/pkg/target"
)

// fetchRoot issues the plain GET every passive check starts from. Under
// a memoizing fetcher all checks share one request.
func fetchRoot(ctx context.Context, t target.Target, f fetcher.Fetcher) (*fetcher.Response, error) {
	resp, err := f.Fetch(ctx, t.String(), fetcher.Options{})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", t, err)
	}
	return resp, nil
}

// evidence renders a probe as "METHOD url -> status".
func evidence(method, rawURL string, status int) string {
	if method == "" {
		method = http.MethodGet
	}
	return fmt.Sprintf("%s %s -> %d", method, rawURL, status)
}

// probes tallies the outcome of an active check's requests. A check with
// several probes fails only when none of them got a response.
type probes struct {
	ok   int
	errs []error
}

// record notes err and reports whether the probe produced a response.
func (p *probes) record(err error) bool {
	if err != nil {
		p.errs = append(p.errs, err)
		return false
	}
	p.ok++
	return true
}

func (p *probes) err() error {
	if p.ok > 0 || len(p.errs) == 0 {
		return nil
	}
	return errors.Join(p.errs...)
}

// clip shortens s to at most n bytes for evidence strings without
// splitting a character.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
