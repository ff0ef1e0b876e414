package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from RunState
		to   RunState
		want bool
	}{
		{RunStatePending, RunStateStagingReady, true},
		{RunStateStagingReady, RunStateValidating, true},
		{RunStateValidating, RunStatePassed, true},
		{RunStateValidating, RunStateFailed, true},
		{RunStatePassed, RunStatePromoting, true},
		{RunStatePromoting, RunStateCommitted, true},
		{RunStatePromoting, RunStateAborted, true},
		{RunStateFailed, RunStateAborted, true},
		{RunStatePending, RunStateAborted, true},
		{RunStateValidating, RunStateAborted, true},

		{RunStatePending, RunStateValidating, false},
		{RunStateFailed, RunStatePassed, false},
		{RunStateFailed, RunStatePromoting, false},
		{RunStateValidating, RunStatePromoting, false},
		{RunStatePassed, RunStateCommitted, false},
		{RunStateCommitted, RunStateAborted, false},
		{RunStateAborted, RunStatePending, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestRunState_IsTerminal(t *testing.T) {
	assert.True(t, RunStateCommitted.IsTerminal())
	assert.True(t, RunStateAborted.IsTerminal())
	assert.False(t, RunStatePassed.IsTerminal())
	assert.False(t, RunStateFailed.IsTerminal())
}

func TestErrorTaxonomy(t *testing.T) {
	cause := errors.New("connection refused")

	transient := fmt.Errorf("load: %w", &TransientError{Op: "bulk load", Err: cause})
	assert.True(t, IsTransient(transient))
	assert.False(t, IsConfiguration(transient))
	assert.ErrorIs(t, transient, cause)

	cfgErr := fmt.Errorf("compile: %w", NewConfigurationError("rules[0].allowed", "allowed set is empty"))
	assert.True(t, IsConfiguration(cfgErr))
	assert.False(t, IsTransient(cfgErr))
	assert.Contains(t, cfgErr.Error(), "rules[0].allowed")

	dv := &DataViolation{Violations: []Violation{
		{RuleID: "not_null.user_id", ViolationCount: 3},
		{RuleID: "enum_membership.platform", ViolationCount: 1},
		{RuleID: "format_match.event_time", Error: "timeout"},
	}}
	got, ok := AsDataViolation(fmt.Errorf("run: %w", dv))
	assert.True(t, ok)
	assert.Equal(t, []string{"enum_membership.platform", "format_match.event_time", "not_null.user_id"}, got.RuleIDs())
	assert.Contains(t, dv.Error(), "3 rule(s) violated")
	assert.Contains(t, dv.Error(), "enum_membership.platform (1 violating rows)")

	pe := &PromotionError{Table: "fct_event_stream", Err: cause}
	assert.ErrorIs(t, pe, cause)
	assert.Contains(t, pe.Error(), "fct_event_stream")
}

func TestCheckResult_Failed(t *testing.T) {
	assert.False(t, CheckResult{Passed: true}.Failed())
	assert.True(t, CheckResult{Passed: false, ViolationCount: 2}.Failed())
	assert.True(t, CheckResult{Passed: false, Error: "boom"}.Failed())
}
