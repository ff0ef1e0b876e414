package core

import (
	"context"
	"time"
)

// Store defines the interface for run history persistence.
type Store interface {
	Close() error

	// Run operations
	CreateRun(ctx context.Context, pipeline string) (*Run, error)
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRunState(ctx context.Context, id string, state RunState) error
	CompleteRun(ctx context.Context, id string, state RunState, errMsg string) error
	CompleteValidation(ctx context.Context, id string) error
	RecordLoad(ctx context.Context, id string, rowsLoaded int64, checksum string) error
	RecordPromotion(ctx context.Context, id string, rowsPromoted int64) error
	ListRuns(ctx context.Context, pipeline string, limit int) ([]*Run, error)

	// Task run operations
	RecordTaskRun(ctx context.Context, tr *TaskRun) error
	UpdateTaskRun(ctx context.Context, tr *TaskRun) error
	GetTaskRunsForRun(ctx context.Context, runID string) ([]*TaskRun, error)
}

// RunState is a node of the pipeline run state machine.
type RunState string

// Run state constants.
const (
	RunStatePending      RunState = "PENDING"
	RunStateStagingReady RunState = "STAGING_READY"
	RunStateValidating   RunState = "VALIDATING"
	RunStatePassed       RunState = "PASSED"
	RunStateFailed       RunState = "FAILED"
	RunStatePromoting    RunState = "PROMOTING"
	RunStateCommitted    RunState = "COMMITTED"
	RunStateAborted      RunState = "ABORTED"
)

var runTransitions = map[RunState][]RunState{
	RunStatePending:      {RunStateStagingReady},
	RunStateStagingReady: {RunStateValidating},
	RunStateValidating:   {RunStatePassed, RunStateFailed},
	RunStatePassed:       {RunStatePromoting},
	RunStateFailed:       {RunStateAborted},
	RunStatePromoting:    {RunStateCommitted, RunStateAborted},
}

// CanTransitionTo reports whether moving from s to next is legal.
// Any non-terminal state may abort on an infrastructure or configuration failure.
func (s RunState) CanTransitionTo(next RunState) bool {
	if s.IsTerminal() {
		return false
	}
	if next == RunStateAborted {
		return true
	}
	for _, allowed := range runTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s RunState) IsTerminal() bool {
	return s == RunStateCommitted || s == RunStateAborted
}

// Run represents one pipeline execution.
type Run struct {
	ID             string
	Pipeline       string
	State          RunState
	StartedAt      time.Time
	CompletedAt    *time.Time
	Error          string
	SourceChecksum string
	RowsLoaded     int64
	RowsPromoted   int64
}

// TaskKind classifies a node of the run graph.
type TaskKind string

// Task kinds.
const (
	TaskKindCreateStaging   TaskKind = "create_staging"
	TaskKindLoadStaging     TaskKind = "load_staging"
	TaskKindCheck           TaskKind = "check"
	TaskKindCreatePublished TaskKind = "create_published"
	TaskKindPromote         TaskKind = "promote"
)

// TaskStatus represents the status of an individual task within a run.
type TaskStatus string

// Task status constants.
const (
	TaskStatusPending TaskStatus = "pending"
	TaskStatusRunning TaskStatus = "running"
	TaskStatusSuccess TaskStatus = "success"
	TaskStatusFailed  TaskStatus = "failed"
	TaskStatusSkipped TaskStatus = "skipped"
)

// TaskRun represents a single execution of a task within a run.
type TaskRun struct {
	ID             string
	RunID          string
	TaskID         string
	Kind           TaskKind
	Status         TaskStatus
	Attempts       int
	RowsAffected   int64
	ViolationCount int64
	StartedAt      time.Time
	CompletedAt    *time.Time
	Error          string
	ExecutionMS    int64
}
