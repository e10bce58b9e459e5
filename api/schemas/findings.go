package schemas

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
)

// -- Finding Schemas --

// Severity represents the severity level of a normalized finding. The values
// are uppercase to match the wire format emitted by the supported scanners
// and consumed by the report renderers.
type Severity string

// Constants defining the standard severity levels, most severe first.
const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
)

// SeverityOrder lists all severities from most to least severe. Renderers and
// the policy engine rely on this being a fixed, total order.
var SeverityOrder = []Severity{
	SeverityCritical,
	SeverityHigh,
	SeverityMedium,
	SeverityLow,
	SeverityInfo,
}

// Rank returns the position of s in SeverityOrder; lower is more severe.
// Unknown values rank below INFO.
func (s Severity) Rank() int {
	for i, sev := range SeverityOrder {
		if s == sev {
			return i
		}
	}
	return len(SeverityOrder)
}

// MoreSevere reports whether s outranks other.
func (s Severity) MoreSevere(other Severity) bool {
	return s.Rank() < other.Rank()
}

// ParseSeverity maps an arbitrary scanner-supplied severity string onto the
// fixed severity set. Unrecognized or empty input maps to INFO; this function
// never fails.
func ParseSeverity(raw string) Severity {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "CRITICAL":
		return SeverityCritical
	case "HIGH":
		return SeverityHigh
	case "MEDIUM", "MODERATE":
		return SeverityMedium
	case "LOW":
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// Category identifies which scanner family produced a finding.
type Category string

// Built-in scanner categories. The set is open; custom categories from
// configuration are carried through unchanged.
const (
	CategorySecrets   Category = "secrets"
	CategoryIaC       Category = "iac"
	CategoryContainer Category = "container"
)

// Location points at the place in the scanned artifact where a finding was
// observed. Line is 1-based; 0 means unknown.
type Location struct {
	File string `json:"file"`
	Line int    `json:"line,omitempty"`
}

func (l Location) String() string {
	if l.File == "" {
		return "<unknown>"
	}
	if l.Line > 0 {
		return fmt.Sprintf("%s:%d", l.File, l.Line)
	}
	return l.File
}

// Finding is one normalized security observation. All textual fields have
// been redacted by the normalizer before a Finding is constructed; consumers
// never re-apply redaction.
type Finding struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Severity    Severity `json:"severity"`
	Category    Category `json:"category"`
	Location    Location `json:"location"`
	RuleID      string   `json:"rule_id,omitempty"`
}

// DeriveFindingID produces a stable identifier for findings whose source
// record carries none, hashed over the fields that make a finding distinct.
func DeriveFindingID(title string, category Category, loc Location) string {
	h := sha1.New()
	fmt.Fprintf(h, "%s|%s|%s", title, category, loc.String())
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// RawRecord is a scanner-native finding record before normalization. The
// shape is scanner specific; the normalizer only requires that title,
// description, severity, file, line and rule fields be extractable.
type RawRecord map[string]any
