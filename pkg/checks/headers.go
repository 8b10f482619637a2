package checks

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/vulnscan/vulnscan/pkg/fetcher"
	"github.com/vulnscan/vulnscan/pkg/finding"
	"github.com/vulnscan/vulnscan/pkg/target"
)

// Check IDs for the header checks.
const (
	IDMissingHSTS     = "missing-hsts"
	IDSecurityHeaders = "security-headers"
)

// minHSTSMaxAge is 180 days, the floor browsers' preload lists accept.
const minHSTSMaxAge = 180 * 24 * 60 * 60

func missingHSTS() Check {
	return New(IDMissingHSTS, "Strict-Transport-Security is absent or has a short max-age", runMissingHSTS)
}

func runMissingHSTS(ctx context.Context, t target.Target, f fetcher.Fetcher) ([]finding.Finding, error) {
	resp, err := fetchRoot(ctx, t, f)
	if err != nil {
		return nil, err
	}

	value := resp.Header.Get("Strict-Transport-Security")
	if value == "" {
		fd := finding.New(IDMissingHSTS, "Missing HSTS Header", finding.Medium,
			"The response does not set Strict-Transport-Security, so browsers may reach the site over plain HTTP.")
		fd.Evidence = "Strict-Transport-Security absent: " + evidence(http.MethodGet, resp.URL, resp.StatusCode)
		fd.URL = resp.URL
		return []finding.Finding{fd}, nil
	}

	if age, ok := hstsMaxAge(value); !ok || age < minHSTSMaxAge {
		fd := finding.New(IDMissingHSTS, "Weak HSTS Header", finding.Low,
			fmt.Sprintf("Strict-Transport-Security max-age is below %d seconds.", minHSTSMaxAge))
		fd.Evidence = "Strict-Transport-Security: " + value
		fd.URL = resp.URL
		return []finding.Finding{fd}, nil
	}
	return nil, nil
}

// hstsMaxAge extracts the max-age directive.
func hstsMaxAge(v string) (int64, bool) {
	for _, d := range strings.Split(v, ";") {
		name, val, ok := strings.Cut(strings.TrimSpace(d), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(name), "max-age") {
			continue
		}
		n, err := strconv.ParseInt(strings.Trim(strings.TrimSpace(val), `"`), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// securityHeader describes one defense-in-depth header.
type securityHeader struct {
	name     string
	severity finding.Severity
	risk     string
	valid    func(v string) bool // nil accepts any value
}

var securityHeaders = []securityHeader{
	{
		name:     "X-Frame-Options",
		severity: finding.Medium,
		risk:     "the page can be framed by other origins (clickjacking)",
		valid: func(v string) bool {
			v = strings.ToUpper(strings.TrimSpace(v))
			return v == "DENY" || v == "SAMEORIGIN"
		},
	},
	{
		name:     "Content-Security-Policy",
		severity: finding.Medium,
		risk:     "injected scripts run without restriction",
	},
	{
		name:     "X-Content-Type-Options",
		severity: finding.Low,
		risk:     "browsers may MIME-sniff responses",
		valid: func(v string) bool {
			return strings.EqualFold(strings.TrimSpace(v), "nosniff")
		},
	},
	{
		name:     "X-XSS-Protection",
		severity: finding.Low,
		risk:     "legacy browsers run without their XSS filter",
	},
	{
		name:     "Referrer-Policy",
		severity: finding.Low,
		risk:     "full URLs may leak to third parties through the Referer header",
	},
}

func securityHeadersCheck() Check {
	return New(IDSecurityHeaders, "X-Frame-Options, CSP, X-Content-Type-Options, X-XSS-Protection and Referrer-Policy", runSecurityHeaders)
}

func runSecurityHeaders(ctx context.Context, t target.Target, f fetcher.Fetcher) ([]finding.Finding, error) {
	resp, err := fetchRoot(ctx, t, f)
	if err != nil {
		return nil, err
	}

	var out []finding.Finding
	for _, h := range securityHeaders {
		value := resp.Header.Get(h.name)
		if h.name == "X-Frame-Options" && frameAncestors(resp.Header) {
			continue
		}
		switch {
		case value == "":
			fd := finding.New(IDSecurityHeaders, "Missing Security Header", h.severity,
				fmt.Sprintf("%s is not set; %s.", h.name, h.risk))
			fd.Evidence = h.name + " absent"
			fd.URL = resp.URL
			out = append(out, fd)
		case h.valid != nil && !h.valid(value):
			fd := finding.New(IDSecurityHeaders, "Weak Security Header", h.severity,
				fmt.Sprintf("%s has an ineffective value; %s.", h.name, h.risk))
			fd.Evidence = h.name + ": " + value
			fd.URL = resp.URL
			out = append(out, fd)
		}
	}
	return out, nil
}

// frameAncestors reports whether CSP frame-ancestors already covers
// framing, which supersedes X-Frame-Options.
func frameAncestors(h http.Header) bool {
	for _, d := range strings.Split(h.Get("Content-Security-Policy"), ";") {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(d)), "frame-ancestors") {
			return true
		}
	}
	return false
}
