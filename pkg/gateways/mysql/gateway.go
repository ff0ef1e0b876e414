// Package mysql provides a MySQL dataset gateway for leapgate.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/go-viper/mapstructure/v2"
	"github.com/leapstack-labs/leapgate/pkg/core"
	"github.com/leapstack-labs/leapgate/pkg/gateway"
)

// Dialect is the MySQL SQL surface. MySQL's CAST accepts a narrower set of
// target types than its column definitions.
var Dialect = &gateway.Dialect{
	Name:        "mysql",
	Placeholder: gateway.PlaceholderQuestion,
	IdentQuote:  "`",
	RegexMatch:  "%s REGEXP %s",
	ColumnTypes: map[gateway.CastKind]string{
		gateway.CastInteger:   "INT",
		gateway.CastDouble:    "DOUBLE",
		gateway.CastTimestamp: "DATETIME(6)",
	},
	CastTypes: map[gateway.CastKind]string{
		gateway.CastText:    "CHAR",
		gateway.CastInteger: "SIGNED",
		gateway.CastBigint:  "SIGNED",
		gateway.CastBoolean: "UNSIGNED",
	},
}

// MySQL server error numbers worth retrying.
const (
	errLockWaitTimeout   = 1205
	errLockDeadlock      = 1213
	errTooManyConnection = 1040
)

// Params holds MySQL-specific pool configuration.
type Params struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
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

// Gateway implements gateway.Gateway for MySQL.
type Gateway struct {
	gateway.BaseSQLGateway
}

// New creates a new MySQL gateway instance.
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

// Connect establishes a pooled connection to MySQL.
func (g *Gateway) Connect(ctx context.Context, cfg gateway.Config) error {
	params, err := parseParams(cfg.Params)
	if err != nil {
		return &core.ConfigurationError{Field: "target.params", Reason: "invalid mysql params", Err: err}
	}

	mcfg, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return &core.ConfigurationError{Field: "target.dsn_env", Reason: "invalid mysql connection string", Err: err}
	}
	mcfg.ParseTime = true

	g.Logger.Debug("connecting to mysql", slog.String("addr", mcfg.Addr), slog.String("database", mcfg.DBName))

	connector, err := mysql.NewConnector(mcfg)
	if err != nil {
		return fmt.Errorf("failed to create mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)
	if params.MaxOpenConns > 0 {
		db.SetMaxOpenConns(params.MaxOpenConns)
	}
	if params.MaxIdleConns > 0 {
		db.SetMaxIdleConns(params.MaxIdleConns)
	}
	if params.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(params.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return gateway.Classify("ping mysql", err, isTransient)
	}

	g.DB = db
	g.Cfg = cfg
	return nil
}

func isTransient(err error) bool {
	if errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case errLockWaitTimeout, errLockDeadlock, errTooManyConnection:
			return true
		}
	}
	return false
}

// Ensure Gateway implements gateway.Gateway interface
var _ gateway.Gateway = (*Gateway)(nil)
