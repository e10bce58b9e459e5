// Package policy converts an aggregate report plus configured severity
// thresholds into a single pass/warn/fail decision. Evaluation is a pure
// function: deterministic, order-independent, no side effects.
package policy

import (
	"fmt"
	"sort"

	"github.com/dverhoef/scanwarden/api/schemas"
)

// ExitError carries a non-zero policy exit code through cobra's error
// plumbing so main can honor the 0/1/2 contract. Err is set when the code
// stems from a pipeline failure rather than a finding threshold.
type ExitError struct {
	Code     int
	Decision schemas.PolicyDecision
	Err      error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("scan failed: %v", e.Err)
	}
	switch e.Code {
	case schemas.ExitWarn:
		return "scan policy produced a warning"
	case schemas.ExitFail:
		return "scan policy failed"
	}
	return fmt.Sprintf("scan policy exit code %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// Evaluate computes the policy decision for a report. Severities present in
// any finding are matched against the fail/warn sets; a category whose
// scanner invocation failed contributes the most severe configured fail_on
// severity (CRITICAL when fail_on is empty), so an unresolved execution
// failure can never pass silently.
func Evaluate(report *schemas.AggregateReport, cfg schemas.PolicyConfig) schemas.PolicyDecision {
	present := map[schemas.Severity]bool{}
	for _, f := range report.AllFindings() {
		present[f.Severity] = true
	}
	if len(report.FailedCategories()) > 0 {
		present[executionFailureSeverity(cfg)] = true
	}

	failOn := severitySet(cfg.FailOn)
	warnOn := severitySet(cfg.WarnOn)

	var triggered []schemas.Severity
	code := schemas.ExitPass
	for sev := range present {
		if failOn[sev] {
			code = schemas.ExitFail
			triggered = append(triggered, sev)
		}
	}
	if code == schemas.ExitPass {
		for sev := range present {
			if warnOn[sev] {
				code = schemas.ExitWarn
				triggered = append(triggered, sev)
			}
		}
	}

	// Sort for deterministic output regardless of map iteration order.
	sort.Slice(triggered, func(i, j int) bool {
		return triggered[i].Rank() < triggered[j].Rank()
	})

	return schemas.PolicyDecision{ExitCode: code, Triggered: triggered}
}

// executionFailureSeverity is the severity an execution error counts as: the
// highest severity in fail_on, or CRITICAL when fail_on is empty.
func executionFailureSeverity(cfg schemas.PolicyConfig) schemas.Severity {
	out := schemas.SeverityCritical
	if len(cfg.FailOn) == 0 {
		return out
	}
	out = cfg.FailOn[0]
	for _, sev := range cfg.FailOn[1:] {
		if sev.MoreSevere(out) {
			out = sev
		}
	}
	return out
}

func severitySet(list []schemas.Severity) map[schemas.Severity]bool {
	out := make(map[schemas.Severity]bool, len(list))
	for _, s := range list {
		out[s] = true
	}
	return out
}
