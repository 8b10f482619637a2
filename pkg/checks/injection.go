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

// Check IDs for the injection checks.
const (
	IDSQLInjection = "sql-injection"
	IDReflectedXSS = "reflected-xss"
)

// SQLPayloads break out of a quoted SQL string literal.
func SQLPayloads() []string {
	return []string{"'", "' OR 1=1 --"}
}

// XSSPayload is reflected verbatim only when output encoding is missing.
const XSSPayload = `<script>alert("vulnscan-xss")</script>`

// sqlErrors are database error messages that leak through to a response.
var sqlErrors = []signature{
	{"MySQL", regexp.MustCompile(`(?i)you have an error in your SQL syntax|SQL syntax.{0,80}MySQL|mysql_fetch_\w+\(`)},
	{"PostgreSQL", regexp.MustCompile(`(?i)PostgreSQL query failed|pg_query\(\)|unterminated quoted string at or near`)},
	{"Oracle", regexp.MustCompile(`\bORA-\d{5}\b`)},
	{"SQL Server", regexp.MustCompile(`(?i)Microsoft OLE DB Provider for SQL Server|Unclosed quotation mark after the character string`)},
	{"SQLite", regexp.MustCompile(`(?i)SQLite3?::SQLException|sqlite3\.OperationalError|SQLITE_ERROR`)},
	{"PDO", regexp.MustCompile(`SQLSTATE\[\w+\]`)},
}

// injectionPoint is one place a payload can be sent: a form or an
// existing query parameter of the target.
type injectionPoint struct {
	label string
	build func(payload string) (string, fetcher.Options)
}

// injectionPoints fetches the target page and collects its same-origin
// forms followed by its query parameters.
func injectionPoints(ctx context.Context, t target.Target, f fetcher.Fetcher) (*fetcher.Response, []injectionPoint, error) {
	root, err := fetchRoot(ctx, t, f)
	if err != nil {
		return nil, nil, err
	}

	var points []injectionPoint
	for _, form := range ExtractForms(root.Body, t) {
		if !form.HasInjectable() {
			continue
		}
		names := make([]string, 0, len(form.Fields))
		for _, field := range form.Fields {
			if field.Injectable() {
				names = append(names, field.Name)
			}
		}
		points = append(points, injectionPoint{
			label: fmt.Sprintf("form %s %s [%s]", form.Method, form.Action, strings.Join(names, ",")),
			build: func(payload string) (string, fetcher.Options) {
				return form.request(form.Values(payload))
			},
		})
	}
	for _, name := range queryParams(t) {
		points = append(points, injectionPoint{
			label: fmt.Sprintf("query %s %s", t, name),
			build: func(payload string) (string, fetcher.Options) {
				return t.WithQuery(name, payload), fetcher.Options{}
			},
		})
	}
	return root, points, nil
}

func sqlInjection() Check {
	return New(IDSQLInjection, "Error-based SQL injection in forms and query parameters", runSQLInjection)
}

// runSQLInjection reports a point when a payload provokes a database
// error that the unmodified page does not already show.
func runSQLInjection(ctx context.Context, t target.Target, f fetcher.Fetcher) ([]finding.Finding, error) {
	root, points, err := injectionPoints(ctx, t, f)
	if err != nil {
		return nil, err
	}
	baseline := string(root.Body)

	var (
		out []finding.Finding
		p   probes
	)
	for _, pt := range points {
	payloads:
		for _, payload := range SQLPayloads() {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			u, opts := pt.build(payload)
			resp, err := f.Fetch(ctx, u, opts)
			if !p.record(err) {
				continue
			}
			body := string(resp.Body)
			for _, sig := range sqlErrors {
				m := sig.re.FindString(body)
				if m == "" || sig.re.MatchString(baseline) {
					continue
				}
				fd := finding.New(IDSQLInjection, "SQL Injection", finding.High,
					fmt.Sprintf("A quote in the input produced a %s error, so the input reaches a SQL query unescaped.", sig.name))
				fd.Evidence = fmt.Sprintf("%s payload %q -> %d: %s", pt.label, payload, resp.StatusCode, clip(m, 80))
				fd.URL = u
				out = append(out, fd)
				break payloads
			}
		}
	}
	if err := p.err(); err != nil {
		return nil, fmt.Errorf("probe %s: %w", t, err)
	}
	return out, nil
}

func reflectedXSS() Check {
	return New(IDReflectedXSS, "Unencoded reflection of script payloads in forms and query parameters", runReflectedXSS)
}

func runReflectedXSS(ctx context.Context, t target.Target, f fetcher.Fetcher) ([]finding.Finding, error) {
	_, points, err := injectionPoints(ctx, t, f)
	if err != nil {
		return nil, err
	}

	var (
		out []finding.Finding
		p   probes
	)
	for _, pt := range points {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		u, opts := pt.build(XSSPayload)
		resp, err := f.Fetch(ctx, u, opts)
		if !p.record(err) {
			continue
		}
		if !strings.Contains(string(resp.Body), XSSPayload) {
			continue
		}
		fd := finding.New(IDReflectedXSS, "Cross-Site Scripting (XSS)", finding.Medium,
			"A script payload was reflected in the response without HTML encoding.")
		fd.Evidence = fmt.Sprintf("%s -> %d: payload reflected unencoded", pt.label, resp.StatusCode)
		fd.URL = u
		out = append(out, fd)
	}
	if err := p.err(); err != nil {
		return nil, fmt.Errorf("probe %s: %w", t, err)
	}
	return out, nil
}
