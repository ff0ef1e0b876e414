package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leapstack-labs/leapgate/pkg/core"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

const runColumns = `id, pipeline, state, started_at, completed_at, error, source_checksum, rows_loaded, rows_promoted`

// CreateRun creates a PENDING run for pipeline.
func (s *SQLiteStore) CreateRun(ctx context.Context, pipeline string) (*core.Run, error) {
	if s.db == nil {
		return nil, errNotOpened
	}

	run := &core.Run{
		ID:        generateID(),
		Pipeline:  pipeline,
		State:     core.RunStatePending,
		StartedAt: time.Now().UTC(),
	}
	s.logger.Debug("creating run", slog.String("id", run.ID), slog.String("pipeline", pipeline))

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, pipeline, state, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Pipeline, string(run.State), run.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*core.Run, error) {
	if s.db == nil {
		return nil, errNotOpened
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// UpdateRunState moves a run to state. Illegal transitions are rejected.
func (s *SQLiteStore) UpdateRunState(ctx context.Context, id string, state core.RunState) error {
	return s.transition(ctx, id, state, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE runs SET state = ? WHERE id = ?`, string(state), id)
		return err
	})
}

// CompleteRun moves a run to a terminal state and stamps completion.
func (s *SQLiteStore) CompleteRun(ctx context.Context, id string, state core.RunState, errMsg string) error {
	if !state.IsTerminal() {
		return fmt.Errorf("cannot complete run %s with non-terminal state %s", id, state)
	}
	return s.transition(ctx, id, state, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE runs SET state = ?, completed_at = ?, error = ? WHERE id = ?`,
			string(state), time.Now().UTC(), nullString(errMsg), id,
		)
		return err
	})
}

// CompleteValidation stamps completion of a validate-only run, which stays
// in PASSED.
func (s *SQLiteStore) CompleteValidation(ctx context.Context, id string) error {
	return s.updateRun(ctx, id,
		`UPDATE runs SET completed_at = ? WHERE id = ? AND state = ?`,
		time.Now().UTC(), id, string(core.RunStatePassed))
}

func (s *SQLiteStore) transition(ctx context.Context, id string, next core.RunState, apply func(*sql.Tx) error) error {
	if s.db == nil {
		return errNotOpened
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT state FROM runs WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to read run state: %w", err)
	}
	if !core.RunState(current).CanTransitionTo(next) {
		return fmt.Errorf("illegal run transition %s -> %s", current, next)
	}
	if err := apply(tx); err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run update: %w", err)
	}
	s.logger.Debug("run state changed", slog.String("id", id), slog.String("from", current), slog.String("to", string(next)))
	return nil
}

// RecordLoad stores staging load statistics.
func (s *SQLiteStore) RecordLoad(ctx context.Context, id string, rowsLoaded int64, checksum string) error {
	return s.updateRun(ctx, id, `UPDATE runs SET rows_loaded = ?, source_checksum = ? WHERE id = ?`, rowsLoaded, nullString(checksum), id)
}

// RecordPromotion stores the number of rows written to the published table.
func (s *SQLiteStore) RecordPromotion(ctx context.Context, id string, rowsPromoted int64) error {
	return s.updateRun(ctx, id, `UPDATE runs SET rows_promoted = ? WHERE id = ?`, rowsPromoted, id)
}

func (s *SQLiteStore) updateRun(ctx context.Context, id, query string, args ...any) error {
	if s.db == nil {
		return errNotOpened
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first. An empty pipeline
// lists runs of every pipeline.
func (s *SQLiteStore) ListRuns(ctx context.Context, pipeline string, limit int) ([]*core.Run, error) {
	if s.db == nil {
		return nil, errNotOpened
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE (? = '' OR pipeline = ?) ORDER BY started_at DESC, id LIMIT ?`,
		pipeline, pipeline, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*core.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*core.Run, error) {
	var (
		run         core.Run
		state       string
		completedAt sql.NullTime
		errMsg      sql.NullString
		checksum    sql.NullString
	)
	if err := sc.Scan(&run.ID, &run.Pipeline, &state, &run.StartedAt, &completedAt, &errMsg, &checksum, &run.RowsLoaded, &run.RowsPromoted); err != nil {
		return nil, err
	}
	run.State = core.RunState(state)
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	run.Error = errMsg.String
	run.SourceChecksum = checksum.String
	return &run, nil
}
