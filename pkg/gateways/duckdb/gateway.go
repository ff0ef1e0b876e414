// Package duckdb provides a DuckDB dataset gateway for leapgate.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/leapstack-labs/leapgate/pkg/core"
	"github.com/leapstack-labs/leapgate/pkg/gateway"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver
)

// Dialect is the DuckDB SQL surface.
var Dialect = &gateway.Dialect{
	Name:        "duckdb",
	Placeholder: gateway.PlaceholderQuestion,
	IdentQuote:  `"`,
	RegexMatch:  "regexp_full_match(%s, %s)",
	ColumnTypes: map[gateway.CastKind]string{
		gateway.CastDouble: "DOUBLE",
	},
}

// Params holds DuckDB-specific configuration.
// Parsed from gateway.Config.Params using mapstructure.
type Params struct {
	// Extensions to install and load (e.g., "httpfs", "icu")
	Extensions []string `mapstructure:"extensions"`

	// Settings to apply at session level (e.g., memory_limit, threads)
	Settings map[string]string `mapstructure:"settings"`
}

var settingName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func parseParams(raw map[string]any) (*Params, error) {
	p := &Params{}
	if len(raw) == 0 {
		return p, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           p,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, err
	}
	for _, ext := range p.Extensions {
		if !settingName.MatchString(ext) {
			return nil, fmt.Errorf("invalid extension name %q", ext)
		}
	}
	for k := range p.Settings {
		if !settingName.MatchString(k) {
			return nil, fmt.Errorf("invalid setting name %q", k)
		}
	}
	return p, nil
}

// Gateway implements gateway.Gateway for DuckDB.
type Gateway struct {
	gateway.BaseSQLGateway
	params *Params
}

// New creates a new DuckDB gateway instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Gateway{
		BaseSQLGateway: gateway.BaseSQLGateway{Logger: logger, SQLDialect: Dialect},
	}
}

// Connect opens the database. Use ":memory:" (or an empty DSN) for an
// in-memory database.
func (g *Gateway) Connect(ctx context.Context, cfg gateway.Config) error {
	params, err := parseParams(cfg.Params)
	if err != nil {
		return &core.ConfigurationError{Field: "target.params", Reason: "invalid duckdb params", Err: err}
	}

	path := cfg.DSN
	if path == ":memory:" {
		path = ""
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return fmt.Errorf("failed to open duckdb connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return gateway.Classify("ping duckdb", err, nil)
	}

	g.DB = db
	g.Cfg = cfg
	g.params = params

	if err := g.applyParams(ctx); err != nil {
		_ = db.Close()
		g.DB = nil
		return err
	}
	return nil
}

func (g *Gateway) applyParams(ctx context.Context) error {
	for _, ext := range g.params.Extensions {
		g.Logger.Debug("loading duckdb extension", slog.String("extension", ext))
		if _, err := g.DB.ExecContext(ctx, "INSTALL "+ext); err != nil {
			return fmt.Errorf("failed to install extension %s: %w", ext, err)
		}
		if _, err := g.DB.ExecContext(ctx, "LOAD "+ext); err != nil {
			return fmt.Errorf("failed to load extension %s: %w", ext, err)
		}
	}

	keys := make([]string, 0, len(g.params.Settings))
	for k := range g.params.Settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		stmt := fmt.Sprintf("SET %s = '%s'", k, strings.ReplaceAll(g.params.Settings[k], "'", "''"))
		if _, err := g.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply setting %s: %w", k, err)
		}
	}
	return nil
}

// Ensure Gateway implements gateway.Gateway interface
var _ gateway.Gateway = (*Gateway)(nil)
