package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/leapstack-labs/leapgate/pkg/core"
)

// RecordTaskRun inserts a task run. ID and StartedAt are filled when empty.
func (s *SQLiteStore) RecordTaskRun(ctx context.Context, tr *core.TaskRun) error {
	if s.db == nil {
		return errNotOpened
	}
	if tr.ID == "" {
		tr.ID = generateID()
	}
	if tr.StartedAt.IsZero() {
		tr.StartedAt = time.Now().UTC()
	}
	if tr.Status == "" {
		tr.Status = core.TaskStatusPending
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_runs (id, run_id, task_id, kind, status, attempts, rows_affected,
			violation_count, started_at, completed_at, error, execution_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.ID, tr.RunID, tr.TaskID, string(tr.Kind), string(tr.Status), tr.Attempts, tr.RowsAffected,
		tr.ViolationCount, tr.StartedAt, nullTime(tr.CompletedAt), nullString(tr.Error), tr.ExecutionMS,
	)
	if err != nil {
		return fmt.Errorf("failed to record task run %s: %w", tr.TaskID, err)
	}
	return nil
}

// UpdateTaskRun overwrites the mutable fields of a task run.
func (s *SQLiteStore) UpdateTaskRun(ctx context.Context, tr *core.TaskRun) error {
	if s.db == nil {
		return errNotOpened
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE task_runs SET status = ?, attempts = ?, rows_affected = ?, violation_count = ?,
			completed_at = ?, error = ?, execution_ms = ?
		WHERE id = ?`,
		string(tr.Status), tr.Attempts, tr.RowsAffected, tr.ViolationCount,
		nullTime(tr.CompletedAt), nullString(tr.Error), tr.ExecutionMS, tr.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task run %s: %w", tr.TaskID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("task run not found: %s", tr.ID)
	}
	return nil
}

// GetTaskRunsForRun returns the task runs of a run ordered by start time.
func (s *SQLiteStore) GetTaskRunsForRun(ctx context.Context, runID string) ([]*core.TaskRun, error) {
	if s.db == nil {
		return nil, errNotOpened
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, task_id, kind, status, attempts, rows_affected, violation_count,
			started_at, completed_at, error, execution_ms
		FROM task_runs WHERE run_id = ? ORDER BY started_at, task_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get task runs: %w", err)
	}
	defer rows.Close()

	var out []*core.TaskRun
	for rows.Next() {
		var (
			tr          core.TaskRun
			kind        string
			status      string
			completedAt sql.NullTime
			errMsg      sql.NullString
		)
		if err := rows.Scan(&tr.ID, &tr.RunID, &tr.TaskID, &kind, &status, &tr.Attempts, &tr.RowsAffected,
			&tr.ViolationCount, &tr.StartedAt, &completedAt, &errMsg, &tr.ExecutionMS); err != nil {
			return nil, fmt.Errorf("failed to scan task run: %w", err)
		}
		tr.Kind = core.TaskKind(kind)
		tr.Status = core.TaskStatus(status)
		if completedAt.Valid {
			t := completedAt.Time
			tr.CompletedAt = &t
		}
		tr.Error = errMsg.String
		out = append(out, &tr)
	}
	return out, rows.Err()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
