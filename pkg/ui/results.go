package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/vulnscan/vulnscan/pkg/checks"
	"github.com/vulnscan/vulnscan/pkg/defaults"
	"github.com/vulnscan/vulnscan/pkg/finding"
	"github.com/vulnscan/vulnscan/pkg/report"
)

const maxEvidence = 60

var title = cases.Title(language.English)

// SeverityLabel is the display form of a severity ("High").
func SeverityLabel(sev finding.Severity) string {
	return title.String(string(sev))
}

// RenderReport writes rep to w as a header block followed by findings
// and diagnostics tables.
func RenderReport(w io.Writer, rep *report.Report) error {
	var b strings.Builder

	b.WriteString(TitleStyle.Render(defaults.ToolName+" report") + "\n\n")
	field(&b, "Target", URLStyle.Render(rep.TargetURL))
	field(&b, "Scan ID", ValueStyle.Render(rep.ScanID))
	field(&b, "Created", ValueStyle.Render(rep.CreatedAt.Format(time.RFC3339)))
	field(&b, "Summary", summaryLine(rep.Summary))

	b.WriteString(SectionStyle.Render("Findings") + "\n")
	if len(rep.Findings) == 0 {
		b.WriteString(SuccessStyle.Render(Icon("✔ ", "")+"No findings.") + "\n")
	} else {
		b.WriteString(findingsTable(w, rep.Findings) + "\n")
	}

	if len(rep.Diagnostics) > 0 {
		b.WriteString(SectionStyle.Render("Diagnostics") + "\n")
		b.WriteString(diagnosticsTable(w, rep.Diagnostics) + "\n")
	}

	_, err := io.WriteString(w, SanitizeString(b.String()))
	return err
}

// RenderChecks writes the registered checks as an ID/description table.
func RenderChecks(w io.Writer, cs []checks.Check) error {
	rows := make([][]string, 0, len(cs))
	for _, c := range cs {
		rows = append(rows, []string{c.ID(), checks.DescriptionOf(c)})
	}
	t := newTable(w).
		Headers("CHECK", "DESCRIPTION").
		Rows(rows...)
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

func field(b *strings.Builder, label, value string) {
	b.WriteString(LabelStyle.Render(label+":") + value + "\n")
}

func summaryLine(s report.Summary) string {
	noun := "findings"
	if s.Total == 1 {
		noun = "finding"
	}
	return fmt.Sprintf("%s (%s, %s, %s)",
		ValueStyle.Render(fmt.Sprintf("%d %s", s.Total, noun)),
		SeverityStyle(finding.High).Render(fmt.Sprintf("%d high", s.High)),
		SeverityStyle(finding.Medium).Render(fmt.Sprintf("%d medium", s.Medium)),
		SeverityStyle(finding.Low).Render(fmt.Sprintf("%d low", s.Low)))
}

func findingsTable(w io.Writer, fs []finding.Finding) string {
	rows := make([][]string, 0, len(fs))
	for _, f := range fs {
		rows = append(rows, []string{
			SeverityLabel(f.Severity),
			f.Type,
			f.CheckID,
			truncate(f.Evidence, maxEvidence),
		})
	}
	return newTable(w).
		Headers("SEVERITY", "TYPE", "CHECK", "EVIDENCE").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return HeaderStyle
			case col == 0 && row < len(fs):
				return SeverityStyle(fs[row].Severity).Padding(0, 1)
			default:
				return CellStyle
			}
		}).
		Render()
}

func diagnosticsTable(w io.Writer, ds []report.Diagnostic) string {
	rows := make([][]string, 0, len(ds))
	for _, d := range ds {
		rows = append(rows, []string{d.CheckID, d.Kind, truncate(d.Message, maxEvidence)})
	}
	return newTable(w).
		Headers("CHECK", "KIND", "MESSAGE").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return HeaderStyle
			case col == 1:
				return DiagnosticStyle.Padding(0, 1)
			default:
				return CellStyle
			}
		}).
		Render()
}

// newTable uses box drawing on Unicode terminals and ASCII elsewhere.
func newTable(w io.Writer) *table.Table {
	border := lipgloss.ASCIIBorder()
	if IsTerminal(w) && UnicodeTerminal() {
		border = lipgloss.RoundedBorder()
	}
	return table.New().
		Border(border).
		BorderStyle(BorderStyle).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return HeaderStyle
			}
			return CellStyle
		})
}

// truncate shortens s to at most n runes, marking the cut with "...".
// Newlines are flattened so a table row stays on one line.
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
