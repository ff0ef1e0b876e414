package core

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ConfigurationError reports a fatal, non-retryable problem with the pipeline
// definition: missing connection settings, empty allowed sets, bad patterns,
// duplicate rules and the like.
type ConfigurationError struct {
	// Field names the offending setting (e.g. "rules.NULL_CHECK[0].column").
	Field string
	// Reason is a human-readable explanation.
	Reason string
	// Err is an optional underlying cause.
	Err error
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	b.WriteString("configuration error")
	if e.Field != "" {
		b.WriteString(" in ")
		b.WriteString(e.Field)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// NewConfigurationError is a shorthand constructor.
func NewConfigurationError(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// TransientError wraps an infrastructure failure that may succeed on retry
// (gateway unreachable, query timeout, serialization conflict).
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	if e.Op == "" {
		return "transient error: " + e.Err.Error()
	}
	return fmt.Sprintf("transient error during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Violation is one failed rule inside a DataViolation.
type Violation struct {
	RuleID         string `json:"rule_id"`
	ViolationCount int64  `json:"violation_count"`
	Error          string `json:"error,omitempty"`
}

// DataViolation is returned when one or more DQ rules failed. It always carries
// the full set of failed rules, never only the first one.
type DataViolation struct {
	Violations []Violation
}

func (e *DataViolation) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		if v.Error != "" {
			parts = append(parts, fmt.Sprintf("%s (error: %s)", v.RuleID, v.Error))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s (%d violating rows)", v.RuleID, v.ViolationCount))
	}
	return fmt.Sprintf("data quality gate failed: %d rule(s) violated: %s", len(e.Violations), strings.Join(parts, ", "))
}

// RuleIDs returns the sorted ids of the violated rules.
func (e *DataViolation) RuleIDs() []string {
	ids := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		ids[i] = v.RuleID
	}
	sort.Strings(ids)
	return ids
}

// PromotionError is returned when the staging to published transfer failed and
// was rolled back (type coercion failure, constraint violation).
type PromotionError struct {
	Table string
	Err   error
}

// ErrCommitUnknown marks a promotion whose COMMIT failed. The server may have
// applied it, so the promotion must not be repeated.
var ErrCommitUnknown = errors.New("commit outcome unknown")

func (e *PromotionError) Error() string {
	if errors.Is(e.Err, ErrCommitUnknown) {
		return fmt.Sprintf("promotion into %s: %v", e.Table, e.Err)
	}
	return fmt.Sprintf("promotion into %s rolled back: %v", e.Table, e.Err)
}

func (e *PromotionError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or anything it wraps) is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsConfiguration reports whether err (or anything it wraps) is a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// AsDataViolation extracts a DataViolation from err.
func AsDataViolation(err error) (*DataViolation, bool) {
	var dv *DataViolation
	if errors.As(err, &dv) {
		return dv, true
	}
	return nil, false
}
