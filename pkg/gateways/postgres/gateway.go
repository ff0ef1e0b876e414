// Package postgres provides a PostgreSQL dataset gateway for leapgate.
//
// Statements go through database/sql on top of a pgx pool; bulk loads use
// the COPY protocol on the same pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/leapstack-labs/leapgate/pkg/core"
	"github.com/leapstack-labs/leapgate/pkg/gateway"
)

// Dialect is the PostgreSQL SQL surface.
var Dialect = &gateway.Dialect{
	Name:        "postgres",
	Placeholder: gateway.PlaceholderDollar,
	IdentQuote:  `"`,
	RegexMatch:  "%s ~ %s",
	LockTable:   "LOCK TABLE %s IN SHARE ROW EXCLUSIVE MODE",
}

// Params holds PostgreSQL-specific configuration.
// Parsed from gateway.Config.Params using mapstructure.
type Params struct {
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	SearchPath      string        `mapstructure:"search_path"`
	ApplicationName string        `mapstructure:"application_name"`
}

func parseParams(raw map[string]any) (*Params, error) {
	p := &Params{}
	if len(raw) == 0 {
		return p, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           p,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, err
	}
	return p, nil
}

// Gateway implements gateway.Gateway for PostgreSQL.
type Gateway struct {
	gateway.BaseSQLGateway
	pool *pgxpool.Pool
}

// New creates a new PostgreSQL gateway instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Gateway{
		BaseSQLGateway: gateway.BaseSQLGateway{
			Logger:      logger,
			SQLDialect:  Dialect,
			IsTransient: isTransient,
		},
	}
}

// Connect establishes a pooled connection to PostgreSQL.
func (g *Gateway) Connect(ctx context.Context, cfg gateway.Config) error {
	params, err := parseParams(cfg.Params)
	if err != nil {
		return &core.ConfigurationError{Field: "target.params", Reason: "invalid postgres params", Err: err}
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return &core.ConfigurationError{Field: "target.dsn_env", Reason: "invalid postgres connection string", Err: err}
	}
	if params.MaxConns > 0 {
		poolCfg.MaxConns = params.MaxConns
	}
	if params.MinConns > 0 {
		poolCfg.MinConns = params.MinConns
	}
	if params.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = params.MaxConnLifetime
	}
	if params.SearchPath != "" {
		poolCfg.ConnConfig.RuntimeParams["search_path"] = params.SearchPath
	}
	appName := params.ApplicationName
	if appName == "" {
		appName = "leapgate"
	}
	poolCfg.ConnConfig.RuntimeParams["application_name"] = appName

	g.Logger.Debug("connecting to postgres",
		slog.String("host", poolCfg.ConnConfig.Host),
		slog.String("database", poolCfg.ConnConfig.Database),
		slog.Int("max_conns", int(poolCfg.MaxConns)))

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return gateway.Classify("open postgres pool", err, isTransient)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return gateway.Classify("ping postgres", err, isTransient)
	}

	g.pool = pool
	g.DB = stdlib.OpenDBFromPool(pool)
	g.Cfg = cfg
	return nil
}

// Close closes the database/sql handle and the underlying pool.
func (g *Gateway) Close() error {
	err := g.BaseSQLGateway.Close()
	if g.pool != nil {
		g.pool.Close()
		g.pool = nil
	}
	return err
}

// BulkLoad streams rows with COPY FROM inside one transaction.
func (g *Gateway) BulkLoad(ctx context.Context, table string, columns []string, rows [][]any, mode gateway.LoadMode) (int64, error) {
	if g.pool == nil {
		return 0, fmt.Errorf("database connection not established")
	}

	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return 0, gateway.Classify("begin transaction", err, isTransient)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if mode == gateway.LoadModeReplace {
		if _, err := tx.Exec(ctx, "DELETE FROM "+Dialect.QuoteQualified(table)); err != nil {
			return 0, gateway.Classify("clear "+table, err, isTransient)
		}
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier(strings.Split(table, ".")), columns, pgx.CopyFromRows(rows))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Detail != "" {
			return 0, gateway.Classify("copy into "+table, fmt.Errorf("%s (%s): %w", pgErr.Detail, pgErr.SQLState(), err), isTransient)
		}
		return 0, gateway.Classify("copy into "+table, err, isTransient)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, gateway.Classify("commit bulk load", err, isTransient)
	}
	return n, nil
}

// isTransient reports PostgreSQL failures worth retrying: connection
// exceptions (class 08), admin shutdown (57P0x), serialization failures and
// deadlocks.
func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"),
			strings.HasPrefix(pgErr.Code, "57P0"),
			pgErr.Code == "40001",
			pgErr.Code == "40P01",
			pgErr.Code == "53300":
			return true
		}
		return false
	}
	return pgconn.Timeout(err) || pgconn.SafeToRetry(err)
}

// Ensure Gateway implements gateway.Gateway interface
var _ gateway.Gateway = (*Gateway)(nil)
