package report

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"github.com/spaolacci/murmur3"

	"github.com/vulnscan/vulnscan/pkg/finding"
	"github.com/vulnscan/vulnscan/pkg/jsonutil"
)

// Summary counts findings by severity.
type Summary struct {
	Total  int `json:"total"`
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// Diagnostic records a check that could not complete.
type Diagnostic struct {
	CheckID string `json:"check_id"`
	Kind    string `json:"kind"` // timeout, canceled, panic, error or a fetch error kind
	Message string `json:"message"`
}

// Report is the result of one scan. Treat it as read-only.
type Report struct {
	ScanID      string            `json:"scan_id"`
	TargetURL   string            `json:"target_url"`
	CreatedAt   time.Time         `json:"created_at"`
	Summary     Summary           `json:"summary"`
	Findings    []finding.Finding `json:"findings"`
	Diagnostics []Diagnostic      `json:"diagnostics"`
}

// Compare orders findings: severity descending, then check ID, then
// type, then evidence, description and URL.
func Compare(a, b finding.Finding) int {
	if c := cmp.Compare(b.Severity.Score(), a.Severity.Score()); c != 0 {
		return c
	}
	if c := cmp.Compare(a.CheckID, b.CheckID); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Type, b.Type); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Evidence, b.Evidence); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Description, b.Description); c != 0 {
		return c
	}
	return cmp.Compare(a.URL, b.URL)
}

// Aggregate returns the deduplicated, sorted findings. Findings sharing
// (type, evidence) collapse to the first one in sort order, which is the
// most severe. The input is not modified, and Aggregate(Aggregate(f))
// equals Aggregate(f).
func Aggregate(findings []finding.Finding) []finding.Finding {
	sorted := slices.Clone(findings)
	slices.SortStableFunc(sorted, Compare)

	seen := make(map[finding.Key]bool, len(sorted))
	out := make([]finding.Finding, 0, len(sorted))
	for _, f := range sorted {
		if seen[f.Key()] {
			continue
		}
		seen[f.Key()] = true
		out = append(out, f)
	}
	return out
}

// Summarize partitions findings by severity. Findings with an unknown
// severity count toward Total only.
func Summarize(findings []finding.Finding) Summary {
	s := Summary{Total: len(findings)}
	for _, f := range findings {
		switch f.Severity {
		case finding.High:
			s.High++
		case finding.Medium:
			s.Medium++
		case finding.Low:
			s.Low++
		}
	}
	return s
}

// SortDiagnostics orders diagnostics by check ID, then kind and message.
func SortDiagnostics(diags []Diagnostic) {
	slices.SortFunc(diags, func(a, b Diagnostic) int {
		if c := cmp.Compare(a.CheckID, b.CheckID); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Kind, b.Kind); c != 0 {
			return c
		}
		return cmp.Compare(a.Message, b.Message)
	})
}

// Build aggregates findings and assembles a Report. createdAt is stored
// in UTC. The inputs are copied.
func Build(targetURL, scanID string, createdAt time.Time, findings []finding.Finding, diags []Diagnostic) *Report {
	agg := Aggregate(findings)
	for i := range agg {
		agg[i].ID = agg[i].Fingerprint()
	}
	d := slices.Clone(diags)
	if d == nil {
		d = []Diagnostic{}
	}
	SortDiagnostics(d)
	return &Report{
		ScanID:      scanID,
		TargetURL:   targetURL,
		CreatedAt:   createdAt.UTC(),
		Summary:     Summarize(agg),
		Findings:    agg,
		Diagnostics: d,
	}
}

// MaxSeverity returns the most severe finding's severity, or "" when
// there are none.
func (r *Report) MaxSeverity() finding.Severity {
	if len(r.Findings) == 0 {
		return ""
	}
	return r.Findings[0].Severity
}

// Content returns the deterministic JSON of the report without scan_id
// and created_at.
func (r *Report) Content() ([]byte, error) {
	c := *r
	c.ScanID = ""
	c.CreatedAt = time.Time{}
	return jsonutil.Marshal(c)
}

// Fingerprint hashes Content. Two scans with the same findings and
// diagnostics share a fingerprint.
func (r *Report) Fingerprint() (string, error) {
	data, err := r.Content()
	if err != nil {
		return "", fmt.Errorf("fingerprint report %s: %w", r.ScanID, err)
	}
	return strconv.FormatUint(murmur3.Sum64(data), 16), nil
}

// Encode writes r as JSON followed by a newline.
func Encode(w io.Writer, r *Report, indent string) error {
	return jsonutil.Write(w, r, indent)
}

// Decode reads a Report written by Encode.
func Decode(rd io.Reader) (*Report, error) {
	var r Report
	if err := jsonutil.Read(rd, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
