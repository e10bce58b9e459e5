// Package normalize maps scanner-native records onto the common Finding
// shape. Normalization is pure: it produces new immutable values and never
// mutates the raw record.
package normalize

import (
	"fmt"
	"strconv"

	"github.com/dverhoef/scanwarden/api/schemas"
	"github.com/dverhoef/scanwarden/internal/redact"
)

// Field-name aliases across the supported scanner families, checked in
// order. gitleaks uses RuleID/File/StartLine, trivy uses VulnerabilityID/
// Target, checkov-style IaC tools use check_id/file_path/file_line_range.
var (
	titleKeys       = []string{"title", "Title", "Description", "check_name", "VulnerabilityID"}
	descriptionKeys = []string{"description", "Description", "Match", "Message", "guideline"}
	severityKeys    = []string{"severity", "Severity", "level"}
	fileKeys        = []string{"file", "File", "path", "Path", "file_path", "Target"}
	lineKeys        = []string{"line", "Line", "StartLine", "start_line", "file_line"}
	ruleKeys        = []string{"rule_id", "RuleID", "rule", "Rule", "check_id", "policy", "VulnerabilityID"}
	idKeys          = []string{"id", "ID", "Fingerprint"}
)

// Normalizer converts raw scanner records into Findings, redacting every
// textual field exactly once.
type Normalizer struct {
	redactor *redact.Redactor
}

// New creates a Normalizer around the given redactor.
func New(r *redact.Redactor) *Normalizer {
	return &Normalizer{redactor: r}
}

// Normalize maps one raw record onto the common Finding shape. Unknown
// severity strings normalize to INFO; the function never fails.
func (n *Normalizer) Normalize(category schemas.Category, rec schemas.RawRecord) schemas.Finding {
	title := n.redactor.Redact(firstString(rec, titleKeys))
	if title == "" {
		title = fmt.Sprintf("Unclassified %s finding", category)
	}

	loc := schemas.Location{
		File: n.redactor.Redact(firstString(rec, fileKeys)),
		Line: firstInt(rec, lineKeys),
	}

	id := firstString(rec, idKeys)
	if id == "" {
		id = schemas.DeriveFindingID(title, category, loc)
	}

	return schemas.Finding{
		ID:          id,
		Title:       title,
		Description: n.redactor.Redact(firstString(rec, descriptionKeys)),
		Severity:    schemas.ParseSeverity(firstString(rec, severityKeys)),
		Category:    category,
		Location:    loc,
		RuleID:      n.redactor.Redact(firstString(rec, ruleKeys)),
	}
}

// NormalizeAll maps a batch of raw records for one category.
func (n *Normalizer) NormalizeAll(category schemas.Category, recs []schemas.RawRecord) []schemas.Finding {
	findings := make([]schemas.Finding, 0, len(recs))
	for _, rec := range recs {
		findings = append(findings, n.Normalize(category, rec))
	}
	return findings
}

func firstString(rec schemas.RawRecord, keys []string) string {
	for _, k := range keys {
		if v, ok := rec[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func firstInt(rec schemas.RawRecord, keys []string) int {
	for _, k := range keys {
		v, ok := rec[k]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64: // JSON numbers decode as float64
			return int(n)
		case string:
			if parsed, err := strconv.Atoi(n); err == nil {
				return parsed
			}
		}
	}
	return 0
}
