// Package sqlite provides a SQLite dataset gateway for leapgate, backed by the
// pure-Go modernc.org/sqlite driver.
//
// SQLite has no built-in REGEXP implementation; this package registers a
// deterministic regexp(pattern, value) scalar function with the driver.
package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/leapstack-labs/leapgate/pkg/core"
	"github.com/leapstack-labs/leapgate/pkg/gateway"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Dialect is the SQLite SQL surface. Dates and timestamps stay TEXT because
// SQLite would coerce them through NUMERIC affinity.
var Dialect = &gateway.Dialect{
	Name:        "sqlite",
	Placeholder: gateway.PlaceholderQuestion,
	IdentQuote:  `"`,
	RegexMatch:  "%s REGEXP %s",
	ColumnTypes: map[gateway.CastKind]string{
		gateway.CastDouble:    "REAL",
		gateway.CastBoolean:   "INTEGER",
		gateway.CastDate:      "TEXT",
		gateway.CastTimestamp: "TEXT",
		gateway.CastDecimal:   "NUMERIC",
	},
}

var patternCache sync.Map // pattern -> *regexp.Regexp

func init() {
	sqlite.MustRegisterDeterministicScalarFunction("regexp", 2, regexpFunc)
}

// regexpFunc implements "value REGEXP pattern", which SQLite calls as
// regexp(pattern, value).
func regexpFunc(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if args[0] == nil || args[1] == nil {
		return nil, nil
	}
	pattern, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("regexp: pattern must be text, got %T", args[0])
	}

	var value string
	switch v := args[1].(type) {
	case string:
		value = v
	case []byte:
		value = string(v)
	default:
		value = fmt.Sprint(v)
	}

	re, err := compileCached(pattern)
	if err != nil {
		return nil, err
	}
	if re.MatchString(value) {
		return int64(1), nil
	}
	return int64(0), nil
}

func compileCached(pattern string) (*regexp.Regexp, error) {
	if re, ok := patternCache.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("regexp: %w", err)
	}
	patternCache.Store(pattern, re)
	return re, nil
}

// Params holds SQLite-specific configuration.
type Params struct {
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
	JournalMode string        `mapstructure:"journal_mode"`
}

func parseParams(raw map[string]any) (*Params, error) {
	p := &Params{BusyTimeout: 5 * time.Second}
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
	switch strings.ToLower(p.JournalMode) {
	case "", "delete", "truncate", "persist", "memory", "wal", "off":
	default:
		return nil, fmt.Errorf("invalid journal_mode %q", p.JournalMode)
	}
	return p, nil
}

func isMemory(dsn string) bool {
	return dsn == "" || dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}

// buildDSN appends per-connection pragmas to a file DSN.
func buildDSN(dsn string, p *Params) string {
	if isMemory(dsn) {
		if dsn == "" {
			return ":memory:"
		}
		return dsn
	}
	var pragmas []string
	if p.BusyTimeout > 0 {
		pragmas = append(pragmas, fmt.Sprintf("_pragma=busy_timeout(%d)", p.BusyTimeout.Milliseconds()))
	}
	if p.JournalMode != "" {
		pragmas = append(pragmas, fmt.Sprintf("_pragma=journal_mode(%s)", strings.ToLower(p.JournalMode)))
	}
	if len(pragmas) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(pragmas, "&")
}

// Gateway implements gateway.Gateway for SQLite.
type Gateway struct {
	gateway.BaseSQLGateway
}

// New creates a new SQLite gateway instance.
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

// Connect opens the database file (or an in-memory database).
func (g *Gateway) Connect(ctx context.Context, cfg gateway.Config) error {
	params, err := parseParams(cfg.Params)
	if err != nil {
		return &core.ConfigurationError{Field: "target.params", Reason: "invalid sqlite params", Err: err}
	}

	dsn := buildDSN(cfg.DSN, params)
	g.Logger.Debug("opening sqlite database", slog.String("dsn", dsn))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open sqlite connection: %w", err)
	}
	if isMemory(cfg.DSN) {
		// every pooled connection would see its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return gateway.Classify("ping sqlite", err, isTransient)
	}

	g.DB = db
	g.Cfg = cfg
	return nil
}

// isTransient reports SQLITE_BUSY and SQLITE_LOCKED, including extended codes.
func isTransient(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

// Ensure Gateway implements gateway.Gateway interface
var _ gateway.Gateway = (*Gateway)(nil)
