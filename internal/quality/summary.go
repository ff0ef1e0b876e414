package quality

import (
	"github.com/leapstack-labs/leapgate/pkg/core"
)

// Status is the overall verdict of a set of results.
type Status string

// Statuses, in order of severity.
const (
	StatusPass  Status = "pass"
	StatusFail  Status = "fail"
	StatusError Status = "error"
)

// Summary aggregates check results.
type Summary struct {
	Total   int      `json:"checks_total"`
	Passed  int      `json:"checks_pass"`
	Failed  int      `json:"checks_fail"`
	Errored int      `json:"checks_error"`
	Failing []string `json:"failing_check_ids,omitempty"`

	violations []core.Violation
}

// Summarize folds results into a Summary. Failing ids keep result order.
func Summarize(results []core.CheckResult) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch {
		case r.Error != "":
			s.Errored++
		case r.Passed:
			s.Passed++
			continue
		default:
			s.Failed++
		}
		s.Failing = append(s.Failing, r.RuleID)
		s.violations = append(s.violations, r.Violation())
	}
	return s
}

// Status returns error if any check errored, fail if any failed, else pass.
func (s Summary) Status() Status {
	switch {
	case s.Errored > 0:
		return StatusError
	case s.Failed > 0:
		return StatusFail
	default:
		return StatusPass
	}
}

// AllPassed reports whether promotion may proceed. An errored check blocks
// promotion exactly like a failed one.
func (s Summary) AllPassed() bool {
	return s.Failed == 0 && s.Errored == 0
}

// Violation returns the run-level DataViolation, or nil when all checks passed.
func (s Summary) Violation() *core.DataViolation {
	if s.AllPassed() {
		return nil
	}
	out := make([]core.Violation, len(s.violations))
	copy(out, s.violations)
	return &core.DataViolation{Violations: out}
}
