// Package gateway provides the dataset gateway contract used by leapgate to
// reach the relational engine that hosts the staging and published tables.
//
// Concrete gateway implementations live in pkg/gateways/ subdirectories and
// register themselves by type name.
package gateway

import (
	"context"
	"time"
)

// LoadMode controls how BulkLoad treats rows already present in the table.
type LoadMode string

// Load modes.
const (
	LoadModeReplace LoadMode = "replace"
	LoadModeAppend  LoadMode = "append"
)

// Valid reports whether m is a known load mode.
func (m LoadMode) Valid() bool {
	return m == LoadModeReplace || m == LoadModeAppend
}

// Config holds everything a gateway needs to connect.
type Config struct {
	// Type is the registered gateway name (postgres, duckdb, sqlite, mysql).
	Type string
	// DSN is the driver connection string, resolved from the environment.
	DSN string
	// QueryTimeout bounds each round-trip. Zero means no per-query timeout.
	QueryTimeout time.Duration
	// Params holds gateway-specific settings decoded with mapstructure.
	Params map[string]any
}

// Gateway defines the interface that all dataset gateways must implement.
type Gateway interface {
	// Connect establishes a pooled connection using cfg.
	Connect(ctx context.Context, cfg Config) error

	// Close releases the connection pool.
	Close() error

	// Exec runs a statement that does not return rows and reports rows affected.
	Exec(ctx context.Context, sql string, args ...any) (int64, error)

	// QueryCount runs a query returning a single integer (a COUNT).
	QueryCount(ctx context.Context, sql string, args ...any) (int64, error)

	// BulkLoad writes rows into table. In replace mode existing rows are
	// removed first, inside the same transaction.
	BulkLoad(ctx context.Context, table string, columns []string, rows [][]any, mode LoadMode) (int64, error)

	// Begin starts a transaction.
	Begin(ctx context.Context) (Tx, error)

	// Dialect returns the SQL dialect spoken by the engine.
	Dialect() *Dialect
}

// Tx is a gateway transaction.
type Tx interface {
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
