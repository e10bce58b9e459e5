package schemas

import "time"

// -- Aggregate Run Schemas --

// CategoryResult is the outcome of running one scanner category. A category
// whose invocation failed carries ExecutionError and an empty or partial
// findings list; it never blocks sibling categories.
type CategoryResult struct {
	Category       Category  `json:"category"`
	Findings       []Finding `json:"findings"`
	ExecutionError string    `json:"execution_error,omitempty"`
	RawExitCode    int       `json:"raw_exit_code"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}

// Failed reports whether the category's scanner invocation failed.
func (r CategoryResult) Failed() bool { return r.ExecutionError != "" }

// Summary holds per-severity finding counts plus the total. Counts for all
// five severities are always present, even when zero.
type Summary struct {
	Critical int `json:"CRITICAL"`
	High     int `json:"HIGH"`
	Medium   int `json:"MEDIUM"`
	Low      int `json:"LOW"`
	Info     int `json:"INFO"`
	Total    int `json:"TOTAL"`
}

// Count returns the counter for a single severity.
func (s Summary) Count(sev Severity) int {
	switch sev {
	case SeverityCritical:
		return s.Critical
	case SeverityHigh:
		return s.High
	case SeverityMedium:
		return s.Medium
	case SeverityLow:
		return s.Low
	case SeverityInfo:
		return s.Info
	}
	return 0
}

// AggregateReport is the complete, immutable result of one pipeline run
// across all enabled categories. The runner owns its construction; once the
// policy engine has evaluated it the report is read-only shared state.
type AggregateReport struct {
	ScanID     string                          `json:"scan_id"`
	Repo       string                          `json:"repo,omitempty"`
	Timestamp  time.Time                       `json:"timestamp"`
	Categories map[Category]CategoryResult     `json:"categories"`
	Summary    Summary                         `json:"summary"`
	Decision   *PolicyDecision                 `json:"policy_decision,omitempty"`
	Meta       map[string]string               `json:"meta,omitempty"`
}

// AllFindings flattens the per-category findings in severity-set order. The
// result is a fresh slice; the report itself is never mutated.
func (r *AggregateReport) AllFindings() []Finding {
	var out []Finding
	for _, cat := range r.Categories {
		out = append(out, cat.Findings...)
	}
	return out
}

// FailedCategories returns the categories whose scanner invocation failed.
func (r *AggregateReport) FailedCategories() []Category {
	var out []Category
	for name, cat := range r.Categories {
		if cat.Failed() {
			out = append(out, name)
		}
	}
	return out
}

// -- Policy Schemas --

// Exit codes of the end-to-end pipeline.
const (
	ExitPass = 0
	ExitWarn = 1
	ExitFail = 2
)

// PolicyConfig holds the configured severity thresholds. It is supplied
// externally and never mutated by the core.
type PolicyConfig struct {
	FailOn []Severity `json:"fail_on"`
	WarnOn []Severity `json:"warn_on"`
}

// PolicyDecision is the deterministic outcome of evaluating one aggregate
// report against a policy configuration.
type PolicyDecision struct {
	ExitCode  int        `json:"exit_code"`
	Triggered []Severity `json:"triggered_severities,omitempty"`
}
