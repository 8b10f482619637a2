package checks

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/vulnscan/vulnscan/pkg/fetcher"
	"github.com/vulnscan/vulnscan/pkg/finding"
	"github.com/vulnscan/vulnscan/pkg/target"
)

// IDServerBanner is the version disclosure check.
const IDServerBanner = "server-banner"

// bannerHeaders carry product/version tokens. A header mapped to a
// product name holds a bare version.
var bannerHeaders = []struct {
	name    string
	product string
}{
	{"Server", ""},
	{"X-Powered-By", ""},
	{"X-AspNet-Version", "ASP.NET"},
	{"X-AspNetMvc-Version", "ASP.NET MVC"},
	{"X-Generator", ""},
}

// productVersion matches "Apache/2.4.41", "PHP/7.4.3", "Microsoft-IIS/8.5".
var productVersion = regexp.MustCompile(`([A-Za-z][\w.+-]*)/v?(\d+(?:\.\d+){0,2})`)

// endOfLife lists upstream release lines no longer receiving security
// fixes, keyed by lowercased product.
var endOfLife = map[string]*semver.Constraints{
	"apache":        mustConstraint("< 2.4"),
	"nginx":         mustConstraint("< 1.20"),
	"php":           mustConstraint("< 8.2"),
	"microsoft-iis": mustConstraint("< 10.0"),
	"openssl":       mustConstraint("< 3.0"),
	"asp.net":       mustConstraint("< 4.0"),
	"express":       mustConstraint("< 4.0"),
}

func mustConstraint(c string) *semver.Constraints {
	cs, err := semver.NewConstraint(c)
	if err != nil {
		panic(err)
	}
	return cs
}

// Banner is one product and version read from a response header.
type Banner struct {
	Header  string
	Product string
	Version string
}

// EndOfLife reports whether the version falls in a retired release line.
func (b Banner) EndOfLife() bool {
	cs, ok := endOfLife[strings.ToLower(b.Product)]
	if !ok {
		return false
	}
	v, err := semver.NewVersion(b.Version)
	if err != nil {
		return false
	}
	return cs.Check(v)
}

// ParseBanners extracts versioned products from the banner headers.
// Headers without a version disclose nothing actionable and are skipped.
func ParseBanners(h http.Header) []Banner {
	var out []Banner
	for _, bh := range bannerHeaders {
		value := strings.TrimSpace(h.Get(bh.name))
		if value == "" {
			continue
		}
		if bh.product != "" {
			if _, err := semver.NewVersion(value); err == nil {
				out = append(out, Banner{Header: bh.name, Product: bh.product, Version: value})
			}
			continue
		}
		for _, m := range productVersion.FindAllStringSubmatch(value, -1) {
			out = append(out, Banner{Header: bh.name, Product: m[1], Version: m[2]})
		}
	}
	return out
}

func serverBanner() Check {
	return New(IDServerBanner, "Software versions in Server and X-Powered-By headers", runServerBanner)
}

func runServerBanner(ctx context.Context, t target.Target, f fetcher.Fetcher) ([]finding.Finding, error) {
	resp, err := fetchRoot(ctx, t, f)
	if err != nil {
		return nil, err
	}

	var out []finding.Finding
	for _, b := range ParseBanners(resp.Header) {
		token := b.Product + "/" + b.Version
		if b.EndOfLife() {
			fd := finding.New(IDServerBanner, "Outdated Software", finding.Medium,
				fmt.Sprintf("%s %s is past end of life and no longer receives security fixes.", b.Product, b.Version))
			fd.Evidence = fmt.Sprintf("%s: %s", b.Header, token)
			fd.URL = resp.URL
			out = append(out, fd)
			continue
		}
		fd := finding.New(IDServerBanner, "Software Version Disclosure", finding.Low,
			fmt.Sprintf("The %s header discloses %s %s, which helps attackers pick exploits.", b.Header, b.Product, b.Version))
		fd.Evidence = fmt.Sprintf("%s: %s", b.Header, token)
		fd.URL = resp.URL
		out = append(out, fd)
	}
	return out, nil
}
