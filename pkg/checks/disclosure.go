package checks

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/vulnscan/vulnscan/pkg/fetcher"
	"github.com/vulnscan/vulnscan/pkg/finding"
	"github.com/vulnscan/vulnscan/pkg/target"
)

// IDErrorDisclosure is the verbose error check.
const IDErrorDisclosure = "error-disclosure"

// notFoundProbe is a path no real application serves.
const notFoundProbe = "/vulnscan-not-found-4f1c9e"

type signature struct {
	name string
	re   *regexp.Regexp
}

// stackTraces match runtime stack traces rendered into a response body.
var stackTraces = []signature{
	{"Python traceback", regexp.MustCompile(`Traceback \(most recent call last\):`)},
	{"Java stack trace", regexp.MustCompile(`\bat [\w$.]+\([\w$]+\.java:\d+\)`)},
	{".NET stack trace", regexp.MustCompile(`(?:\bat System\.[\w.]+\(|Server Error in '[^']*' Application)`)},
	{"PHP error", regexp.MustCompile(`(?i)(?:Fatal error|Parse error|Warning)(?:</b>)?:.{1,300}? on line (?:<b>)?\d+`)},
	{"Node.js stack trace", regexp.MustCompile(`\bat [\w$.<>]+ \((?:/|[A-Z]:\\)[^)]+\.[cm]?js:\d+:\d+\)`)},
	{"Ruby backtrace", regexp.MustCompile(`\.rb:\d+:in ` + "`")},
	{"Go panic", regexp.MustCompile(`goroutine \d+ \[running\]:`)},
}

// debugBanners match framework debug pages that leak configuration
// without a full trace.
var debugBanners = []signature{
	{"Django debug page", regexp.MustCompile(`You're seeing this error because you have <code>DEBUG = True</code>`)},
	{"Laravel debug page", regexp.MustCompile(`Whoops! There was an error\.|Illuminate\\[A-Z]\w+`)},
	{"Werkzeug debugger", regexp.MustCompile(`Werkzeug Debugger|The debugger caught an exception in your WSGI application`)},
	{"Rails debug page", regexp.MustCompile(`Rails\.root: `)},
	{"Spring Whitelabel page", regexp.MustCompile(`Whitelabel Error Page`)},
}

func errorDisclosure() Check {
	return New(IDErrorDisclosure, "Stack traces and framework debug pages in responses", runErrorDisclosure)
}

func runErrorDisclosure(ctx context.Context, t target.Target, f fetcher.Fetcher) ([]finding.Finding, error) {
	urls := []string{t.String(), t.ResolveReference(notFoundProbe).String()}

	var (
		out []finding.Finding
		p   probes
	)
	for _, u := range urls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp, err := f.Fetch(ctx, u, fetcher.Options{})
		if !p.record(err) {
			continue
		}
		out = append(out, scanDisclosure(resp)...)
	}
	if err := p.err(); err != nil {
		return nil, fmt.Errorf("probe %s: %w", t, err)
	}
	return out, nil
}

// scanDisclosure reports at most one stack trace and one debug banner
// per response.
func scanDisclosure(resp *fetcher.Response) []finding.Finding {
	body := string(resp.Body)
	var out []finding.Finding
	if sig, match, ok := firstMatch(stackTraces, body); ok {
		fd := finding.New(IDErrorDisclosure, "Verbose Error Disclosure", finding.Medium,
			fmt.Sprintf("The response contains a %s, exposing internal paths and code structure.", sig))
		fd.Evidence = fmt.Sprintf("%s: %s", evidence("", resp.URL, resp.StatusCode), clip(match, 120))
		fd.URL = resp.URL
		out = append(out, fd)
	}
	if sig, match, ok := firstMatch(debugBanners, body); ok {
		fd := finding.New(IDErrorDisclosure, "Debug Mode Enabled", finding.Low,
			fmt.Sprintf("The response is a %s; debug mode should be off in production.", sig))
		fd.Evidence = fmt.Sprintf("%s: %s", evidence("", resp.URL, resp.StatusCode), clip(match, 120))
		fd.URL = resp.URL
		out = append(out, fd)
	}
	return out
}

func firstMatch(sigs []signature, body string) (string, string, bool) {
	for _, s := range sigs {
		if m := s.re.FindString(body); m != "" {
			return s.name, strings.TrimSpace(m), true
		}
	}
	return "", "", false
}
