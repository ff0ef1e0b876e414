package core

import "time"

// CheckResult is the outcome of one DQ rule evaluated against a staged dataset.
// It lives for the duration of a run only.
type CheckResult struct {
	RuleID         string        `json:"rule_id"`
	Group          string        `json:"group,omitempty"`
	Passed         bool          `json:"passed"`
	ViolationCount int64         `json:"violation_count"`
	Error          string        `json:"error,omitempty"`
	Attempts       int           `json:"attempts"`
	Duration       time.Duration `json:"duration"`
	// AfterDecision is set when the result arrived after the run had already
	// been failed. Such results are kept for diagnostics only.
	AfterDecision bool `json:"after_decision,omitempty"`
}

// Failed reports whether the result blocks promotion. An execution error counts
// as a failure.
func (r CheckResult) Failed() bool {
	return !r.Passed || r.Error != ""
}

// Violation converts a failed result into its DataViolation entry.
func (r CheckResult) Violation() Violation {
	return Violation{RuleID: r.RuleID, ViolationCount: r.ViolationCount, Error: r.Error}
}
