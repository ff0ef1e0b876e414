package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// BaseSQLGateway provides common database/sql functionality for gateways.
// Embed this struct in concrete gateway implementations to get standard
// Close, Exec, QueryCount, BulkLoad and Begin implementations.
type BaseSQLGateway struct {
	DB         *sql.DB
	Cfg        Config
	Logger     *slog.Logger
	SQLDialect *Dialect
	// IsTransient classifies driver-specific retryable errors.
	IsTransient func(error) bool
}

// errNotConnected is returned by every operation before Connect.
var errNotConnected = errors.New("database connection not established")

// Close closes the database connection.
func (b *BaseSQLGateway) Close() error {
	if b.DB != nil {
		b.logger().Debug("closing database connection")
		return b.DB.Close()
	}
	return nil
}

// IsConnected returns true if the database connection is established.
func (b *BaseSQLGateway) IsConnected() bool {
	return b.DB != nil
}

// Dialect returns the configured dialect.
func (b *BaseSQLGateway) Dialect() *Dialect {
	return b.SQLDialect
}

// Exec executes a statement that doesn't return rows.
func (b *BaseSQLGateway) Exec(ctx context.Context, sqlStr string, args ...any) (int64, error) {
	if b.DB == nil {
		return 0, errNotConnected
	}
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	res, err := b.DB.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, b.classify("execute SQL", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		// Not every driver reports rows affected for DDL.
		return 0, nil
	}
	return n, nil
}

// QueryCount executes a query returning one integer.
func (b *BaseSQLGateway) QueryCount(ctx context.Context, sqlStr string, args ...any) (int64, error) {
	if b.DB == nil {
		return 0, errNotConnected
	}
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	var n sql.NullInt64
	if err := b.DB.QueryRowContext(ctx, sqlStr, args...).Scan(&n); err != nil {
		return 0, b.classify("execute count query", err)
	}
	return n.Int64, nil
}

// BulkLoad inserts rows with a prepared statement inside one transaction.
func (b *BaseSQLGateway) BulkLoad(ctx context.Context, table string, columns []string, rows [][]any, mode LoadMode) (int64, error) {
	if b.DB == nil {
		return 0, errNotConnected
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("bulk load into %s: columns must not be empty", table)
	}

	d := b.SQLDialect
	quoted := d.QuoteQualified(table)
	cols := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = d.QuoteIdent(c)
		placeholders[i] = d.FormatPlaceholder(i + 1)
	}
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoted, strings.Join(cols, ", "), strings.Join(placeholders, ", ")) //nolint:gosec // identifiers are quoted

	tx, err := b.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, b.classify("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if mode == LoadModeReplace {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+quoted); err != nil {
			return 0, b.classify("clear "+table, err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return 0, b.classify("prepare insert", err)
	}
	defer func() { _ = stmt.Close() }()

	var inserted int64
	for _, row := range rows {
		if len(row) != len(columns) {
			return 0, fmt.Errorf("bulk load into %s: row length %d != columns length %d", table, len(row), len(columns))
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return 0, b.classify("bulk load", err)
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, b.classify("commit bulk load", err)
	}
	return inserted, nil
}

// Begin starts a transaction. The transaction is bound to ctx, not to the
// per-query timeout.
func (b *BaseSQLGateway) Begin(ctx context.Context) (Tx, error) {
	if b.DB == nil {
		return nil, errNotConnected
	}
	tx, err := b.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, b.classify("begin transaction", err)
	}
	return &sqlTx{tx: tx, base: b}, nil
}

func (b *BaseSQLGateway) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.Cfg.QueryTimeout > 0 {
		return context.WithTimeout(ctx, b.Cfg.QueryTimeout)
	}
	return ctx, func() {}
}

func (b *BaseSQLGateway) classify(op string, err error) error {
	return Classify(op, err, b.IsTransient)
}

func (b *BaseSQLGateway) logger() *slog.Logger {
	if b.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return b.Logger
}

type sqlTx struct {
	tx   *sql.Tx
	base *BaseSQLGateway
}

func (t *sqlTx) Exec(ctx context.Context, sqlStr string, args ...any) (int64, error) {
	ctx, cancel := t.base.withTimeout(ctx)
	defer cancel()

	res, err := t.tx.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, t.base.classify("execute SQL", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func (t *sqlTx) Commit(_ context.Context) error {
	if err := t.tx.Commit(); err != nil {
		return t.base.classify("commit", err)
	}
	return nil
}

func (t *sqlTx) Rollback(_ context.Context) error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to rollback: %w", err)
	}
	return nil
}
