// Package report renders pure projections of one aggregate report: a
// severity summary, machine-readable JSON, a human-readable text listing,
// and HTML through an injected template capability. All projections derive
// their counts from the same Summary and therefore always agree.
package report

import (
	"fmt"
	"html"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/dverhoef/scanwarden/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SeverityColors maps severities to presentation colors for markup output.
var SeverityColors = map[schemas.Severity]string{
	schemas.SeverityCritical: "#d32f2f",
	schemas.SeverityHigh:     "#f57c00",
	schemas.SeverityMedium:   "#fbc02d",
	schemas.SeverityLow:      "#1976d2",
	schemas.SeverityInfo:     "#455a64",
}

const descriptionWrapWidth = 78

// Renderer produces report artifacts from a single immutable report.
type Renderer struct {
	report *schemas.AggregateReport
}

// New creates a Renderer over report.
func New(report *schemas.AggregateReport) *Renderer {
	return &Renderer{report: report}
}

// Summarize counts findings per severity. Present for any input, including
// an empty list; the counts always sum to Total.
func Summarize(findings []schemas.Finding) schemas.Summary {
	var s schemas.Summary
	for _, f := range findings {
		switch f.Severity {
		case schemas.SeverityCritical:
			s.Critical++
		case schemas.SeverityHigh:
			s.High++
		case schemas.SeverityMedium:
			s.Medium++
		case schemas.SeverityLow:
			s.Low++
		default:
			s.Info++
		}
		s.Total++
	}
	return s
}

// Summary returns the per-severity counts for the underlying report.
func (r *Renderer) Summary() schemas.Summary {
	return Summarize(r.report.AllFindings())
}

// sortedFindings returns the report's findings ordered by (severity rank,
// file path) without touching the report itself.
func (r *Renderer) sortedFindings() []schemas.Finding {
	findings := r.report.AllFindings()
	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Severity.Rank() != findings[j].Severity.Rank() {
			return findings[i].Severity.Rank() < findings[j].Severity.Rank()
		}
		return findings[i].Location.File < findings[j].Location.File
	})
	return findings
}

// ToJSON renders the machine-readable artifact with stable wire field names.
func (r *Renderer) ToJSON(pretty bool) (string, error) {
	payload := struct {
		ScanID    string                  `json:"scan_id"`
		Repo      string                  `json:"repo,omitempty"`
		Timestamp string                  `json:"timestamp"`
		Summary   schemas.Summary         `json:"summary"`
		Findings  []schemas.Finding       `json:"findings"`
		Meta      map[string]string       `json:"meta,omitempty"`
		Decision  *schemas.PolicyDecision `json:"policy_decision,omitempty"`
	}{
		ScanID:    r.report.ScanID,
		Repo:      r.report.Repo,
		Timestamp: r.report.Timestamp.UTC().Format("2006-01-02T15:04:05Z07:00"),
		Summary:   r.Summary(),
		Findings:  r.sortedFindings(),
		Meta:      r.report.Meta,
		Decision:  r.report.Decision,
	}
	if payload.Findings == nil {
		payload.Findings = []schemas.Finding{}
	}

	var (
		data []byte
		err  error
	)
	if pretty {
		data, err = json.MarshalIndent(payload, "", "  ")
	} else {
		data, err = json.Marshal(payload)
	}
	if err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}
	return string(data), nil
}

// ToText renders the human-readable listing, sorted most severe first.
func (r *Renderer) ToText() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Scan ID: %s\n", r.report.ScanID)
	if r.report.Repo != "" {
		fmt.Fprintf(&b, "Repo: %s\n", r.report.Repo)
	}
	fmt.Fprintf(&b, "Timestamp: %s\n\n", r.report.Timestamp.UTC().Format("2006-01-02T15:04:05Z07:00"))

	summary := r.Summary()
	b.WriteString("Summary:\n")
	for _, sev := range schemas.SeverityOrder {
		fmt.Fprintf(&b, "  %-8s : %d\n", sev, summary.Count(sev))
	}
	fmt.Fprintf(&b, "  %-8s : %d\n\n", "TOTAL", summary.Total)

	failed := r.report.FailedCategories()
	sort.Slice(failed, func(i, j int) bool { return failed[i] < failed[j] })
	for _, cat := range failed {
		fmt.Fprintf(&b, "WARNING: scanner %q failed: %s\n", cat, r.report.Categories[cat].ExecutionError)
	}

	findings := r.sortedFindings()
	if len(findings) == 0 {
		b.WriteString("No findings.\n")
		return b.String()
	}

	b.WriteString("Findings:\n")
	for _, f := range findings {
		fmt.Fprintf(&b, "[%s] %s\n", f.Severity, f.Title)
		fmt.Fprintf(&b, "  Location : %s\n", f.Location)
		if f.RuleID != "" {
			fmt.Fprintf(&b, "  Rule     : %s\n", f.RuleID)
		}
		if f.Description != "" {
			b.WriteString("  Description:\n")
			b.WriteString(indent(wrap(strings.TrimSpace(f.Description), descriptionWrapWidth), "  "))
			b.WriteByte('\n')
		}
		b.WriteString(strings.Repeat("-", 72))
		b.WriteByte('\n')
	}
	return b.String()
}

// ToHTML renders markup through the injected template capability. With a nil
// capability it degrades to the escaped text listing inside <pre>, so an
// HTML artifact is always producible.
func (r *Renderer) ToHTML(renderer schemas.TemplateRenderer, templateName string) (string, error) {
	if renderer == nil {
		return "<html><body><pre>" + html.EscapeString(r.ToText()) + "</pre></body></html>", nil
	}

	colors := make(map[string]string, len(SeverityColors))
	for sev, c := range SeverityColors {
		colors[string(sev)] = c
	}
	context := map[string]any{
		"scan_id":         r.report.ScanID,
		"repo":            r.report.Repo,
		"timestamp":       r.report.Timestamp.UTC().Format("2006-01-02T15:04:05Z07:00"),
		"meta":            r.report.Meta,
		"findings":        r.sortedFindings(),
		"severity_colors": colors,
		"summary":         r.Summary(),
	}
	out, err := renderer.Render(templateName, context)
	if err != nil {
		return "", fmt.Errorf("failed to render markup: %w", err)
	}
	return out, nil
}

// wrap breaks text into lines at most width runes long, on word boundaries.
// Words longer than width stay on their own line.
func wrap(text string, width int) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}
	var b strings.Builder
	lineLen := 0
	for i, w := range words {
		if i > 0 {
			if lineLen+1+len(w) > width {
				b.WriteByte('\n')
				lineLen = 0
			} else {
				b.WriteByte(' ')
				lineLen++
			}
		}
		b.WriteString(w)
		lineLen += len(w)
	}
	return b.String()
}

func indent(text, prefix string) string {
	if text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
