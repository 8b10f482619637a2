package checks

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/vulnscan/vulnscan/pkg/fetcher"
	"github.com/vulnscan/vulnscan/pkg/finding"
	"github.com/vulnscan/vulnscan/pkg/target"
)

// IDInsecureCookie is the cookie flag check.
const IDInsecureCookie = "insecure-cookie"

func insecureCookie() Check {
	return New(IDInsecureCookie, "Set-Cookie without Secure, HttpOnly or SameSite", runInsecureCookie)
}

// runInsecureCookie reports one finding per cookie. A missing Secure flag
// is medium; a cookie that only lacks HttpOnly or SameSite is low.
func runInsecureCookie(ctx context.Context, t target.Target, f fetcher.Fetcher) ([]finding.Finding, error) {
	resp, err := fetchRoot(ctx, t, f)
	if err != nil {
		return nil, err
	}

	var out []finding.Finding
	seen := make(map[string]bool)
	for _, c := range resp.Cookies() {
		if seen[c.Name] {
			continue
		}
		seen[c.Name] = true

		missing := cookieFlagsMissing(c)
		if len(missing) == 0 {
			continue
		}
		sev := finding.Low
		if !c.Secure {
			sev = finding.Medium
		}
		fd := finding.New(IDInsecureCookie, "Insecure Cookie", sev,
			fmt.Sprintf("Cookie %q is set without %s.", c.Name, strings.Join(missing, ", ")))
		fd.Evidence = fmt.Sprintf("Set-Cookie: %s (missing %s)", c.Name, strings.Join(missing, ", "))
		fd.URL = resp.URL
		out = append(out, fd)
	}
	return out, nil
}

func cookieFlagsMissing(c *http.Cookie) []string {
	var missing []string
	if !c.Secure {
		missing = append(missing, "Secure")
	}
	if !c.HttpOnly {
		missing = append(missing, "HttpOnly")
	}
	if c.SameSite == 0 || c.SameSite == http.SameSiteDefaultMode {
		missing = append(missing, "SameSite")
	}
	return missing
}
