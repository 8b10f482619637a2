package checks

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/vulnscan/vulnscan/pkg/fetcher"
	"github.com/vulnscan/vulnscan/pkg/finding"
	"github.com/vulnscan/vulnscan/pkg/target"
)

// IDOpenRedirect is the open redirect check.
const IDOpenRedirect = "open-redirect"

// CanaryHost is the attacker-controlled host redirect payloads point at.
// It lives under example. so a vulnerable redirect leads nowhere.
const CanaryHost = "vulnscan-canary.example"

// RedirectParams are query parameters applications commonly redirect on.
func RedirectParams() []string {
	return []string{
		"url", "next", "redirect", "target", "dest",
		"redirect_uri", "return", "returnUrl", "goto", "continue",
	}
}

// RedirectPayloads point at CanaryHost in absolute and scheme-relative form.
func RedirectPayloads() []string {
	return []string{
		"https://" + CanaryHost + "/",
		"//" + CanaryHost + "/",
	}
}

// OpenRedirect injects RedirectPayloads into Params and reports a
// redirect whose Location lands on CanaryHost.
type OpenRedirect struct {
	Params   []string
	Payloads []string
}

var (
	_ Check     = (*OpenRedirect)(nil)
	_ Describer = (*OpenRedirect)(nil)
)

// NewOpenRedirect returns the check with the default parameters and payloads.
func NewOpenRedirect() *OpenRedirect {
	return &OpenRedirect{Params: RedirectParams(), Payloads: RedirectPayloads()}
}

func (c *OpenRedirect) ID() string { return IDOpenRedirect }

func (c *OpenRedirect) Description() string {
	return "Redirect parameters that send users to arbitrary external hosts"
}

func (c *OpenRedirect) Run(ctx context.Context, t target.Target, f fetcher.Fetcher) ([]finding.Finding, error) {
	var (
		out []finding.Finding
		p   probes
	)
	for _, param := range c.params(t) {
		for _, payload := range c.Payloads {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			probeURL := t.WithQuery(param, payload)
			resp, err := f.Fetch(ctx, probeURL, fetcher.Options{NoRedirects: true})
			if !p.record(err) {
				continue
			}
			if !redirectsToCanary(resp) {
				continue
			}
			fd := finding.New(IDOpenRedirect, "Open Redirect", finding.Medium,
				fmt.Sprintf("The %q parameter redirects to an arbitrary external host.", param))
			fd.Evidence = fmt.Sprintf("%s Location: %s", evidence(http.MethodGet, probeURL, resp.StatusCode), resp.Location())
			fd.URL = probeURL
			out = append(out, fd)
			break
		}
	}
	if err := p.err(); err != nil {
		return nil, fmt.Errorf("probe %s: %w", t, err)
	}
	return out, nil
}

// params returns the configured names plus any query parameter already on
// the target, without duplicates.
func (c *OpenRedirect) params(t target.Target) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range c.Params {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, p := range queryParams(t) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// queryParams returns the target's query parameter names, sorted.
func queryParams(t target.Target) []string {
	q := t.URL().Query()
	names := make([]string, 0, len(q))
	for name := range q {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func redirectsToCanary(resp *fetcher.Response) bool {
	if !resp.IsRedirect() {
		return false
	}
	loc := strings.TrimSpace(resp.Location())
	u, err := url.Parse(loc)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Hostname(), CanaryHost)
}
