// Package config provides the leapgate project model: which engine to reach,
// where raw rows come from, the staging and published tables, the column
// mapping and the data-quality rule set.
//
// This package is decoupled from CLI concerns. The CLI layers flags and
// environment variables on top of it in internal/cli/config.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/leapstack-labs/leapgate/internal/pipeline"
	"github.com/leapstack-labs/leapgate/internal/rules"
	"github.com/leapstack-labs/leapgate/internal/source"
	"github.com/leapstack-labs/leapgate/pkg/core"
	"github.com/leapstack-labs/leapgate/pkg/gateway"
)

// TargetConfig holds the relational engine configuration.
type TargetConfig struct {
	Type string `koanf:"type"` // postgres, duckdb, sqlite, mysql

	// DSNEnv names the environment variable holding the connection string.
	DSNEnv string `koanf:"dsn_env"`

	// QueryTimeout bounds each gateway round-trip.
	QueryTimeout time.Duration `koanf:"query_timeout"`

	// Params holds gateway-specific configuration (e.g., DuckDB extensions, pool sizes)
	Params map[string]any `koanf:"params"`
}

// Validate checks if the target configuration is valid.
// It uses the gateway registry to determine which types are available.
func (t *TargetConfig) Validate() error {
	if t.Type == "" {
		return core.NewConfigurationError("target.type", "target type is required")
	}
	if !gateway.IsRegistered(strings.ToLower(t.Type)) {
		return &core.ConfigurationError{
			Field:  "target.type",
			Reason: "unknown gateway",
			Err: &gateway.UnknownGatewayError{
				Type:      t.Type,
				Available: gateway.ListGateways(),
			},
		}
	}
	return nil
}

// GatewayConfig resolves the DSN from the environment and returns the
// connection settings for gateway.Open.
func (t *TargetConfig) GatewayConfig() (gateway.Config, error) {
	dsn, err := gateway.ResolveDSN(t.DSNEnv)
	if err != nil {
		return gateway.Config{}, err
	}
	return gateway.Config{
		Type:         strings.ToLower(t.Type),
		DSN:          dsn,
		QueryTimeout: t.QueryTimeout,
		Params:       t.Params,
	}, nil
}

// SourceConfig describes the raw delimited file.
type SourceConfig struct {
	// Path is a local path or s3://bucket/key.
	Path      string `koanf:"path"`
	Delimiter string `koanf:"delimiter"`
	Encoding  string `koanf:"encoding"`
	// EmptyAsNull defaults to true when unset.
	EmptyAsNull *bool           `koanf:"empty_as_null"`
	BatchSize   int             `koanf:"batch_size"`
	S3          source.S3Config `koanf:"s3"`
}

// StagingConfig describes the staging table.
type StagingConfig struct {
	Table    string `koanf:"table"`
	DDLFile  string `koanf:"ddl_file"`
	LoadMode string `koanf:"load_mode"` // replace (default) or append
}

// PublishedConfig describes the published table and how rows reach it.
type PublishedConfig struct {
	Table   string `koanf:"table"`
	DDLFile string `koanf:"ddl_file"`
	Mode    string `koanf:"mode"` // append (default) or replace
	// Predicate restricts which staging rows are promoted.
	Predicate string `koanf:"predicate"`
}

// ColumnConfig maps one staging column to a typed published column.
type ColumnConfig struct {
	Name   string `koanf:"name"`
	Target string `koanf:"target"`
	Type   string `koanf:"type"` // text (default), integer, double, boolean, timestamp, decimal(p,s)
}

// ExecutionConfig tunes scheduling and retries.
type ExecutionConfig struct {
	Concurrency        int           `koanf:"concurrency"`
	Retries            int           `koanf:"retries"`
	Backoff            time.Duration `koanf:"backoff"`
	StopOnFirstFailure bool          `koanf:"stop_on_first_failure"`
	LockPublished      bool          `koanf:"lock_published"`
}

// ProjectConfig holds one pipeline definition as written in leapgate.yaml.
type ProjectConfig struct {
	Name      string          `koanf:"name"`
	Target    *TargetConfig   `koanf:"target"`
	Source    SourceConfig    `koanf:"source"`
	Staging   StagingConfig   `koanf:"staging"`
	Published PublishedConfig `koanf:"published"`
	Columns   []ColumnConfig  `koanf:"columns"`

	// Rules maps group name to rules. Mutually exclusive with RulesFile.
	Rules     map[string][]rules.RuleSpec `koanf:"rules"`
	RulesFile string                      `koanf:"rules_file"`

	Execution ExecutionConfig `koanf:"execution"`
}

// Definition converts the project into a pipeline definition. Column types
// and the rule set are parsed here; every returned error is a
// *core.ConfigurationError, joined when there are several.
func (c *ProjectConfig) Definition() (*pipeline.Definition, error) {
	var errs []error

	cols := make([]pipeline.Column, 0, len(c.Columns))
	for i, col := range c.Columns {
		typ := col.Type
		if typ == "" {
			typ = string(gateway.CastText)
		}
		cast, err := gateway.ParseCast(typ)
		if err != nil {
			errs = append(errs, &core.ConfigurationError{
				Field:  fmt.Sprintf("columns[%d].type", i),
				Reason: "invalid column type",
				Err:    err,
			})
			continue
		}
		cols = append(cols, pipeline.Column{Name: col.Name, Target: col.Target, Cast: cast})
	}

	delim, err := parseDelimiter(c.Source.Delimiter)
	if err != nil {
		errs = append(errs, err)
	}

	var rs *rules.RuleSet
	if groups, err := c.ruleGroups(); err != nil {
		errs = append(errs, err)
	} else if rs, err = rules.NewRuleSet(groups); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	emptyAsNull := true
	if c.Source.EmptyAsNull != nil {
		emptyAsNull = *c.Source.EmptyAsNull
	}
	return &pipeline.Definition{
		Name: c.Name,
		Source: pipeline.Source{
			Path:        c.Source.Path,
			Delimiter:   delim,
			Encoding:    c.Source.Encoding,
			EmptyAsNull: emptyAsNull,
			BatchSize:   c.Source.BatchSize,
			S3:          c.Source.S3,
		},
		Staging:         pipeline.Table{Name: c.Staging.Table, DDLFile: c.Staging.DDLFile},
		Published:       pipeline.Table{Name: c.Published.Table, DDLFile: c.Published.DDLFile},
		StagingLoadMode: gateway.LoadMode(strings.ToLower(c.Staging.LoadMode)),
		PublishMode:     gateway.LoadMode(strings.ToLower(c.Published.Mode)),
		Columns:         cols,
		Predicate:       c.Published.Predicate,
		Rules:           rs,
		Execution: pipeline.Execution{
			Concurrency:        c.Execution.Concurrency,
			Retries:            c.Execution.Retries,
			Backoff:            c.Execution.Backoff,
			StopOnFirstFailure: c.Execution.StopOnFirstFailure,
			LockPublished:      c.Execution.LockPublished,
		},
	}, nil
}

func (c *ProjectConfig) ruleGroups() (map[string][]rules.RuleSpec, error) {
	if c.RulesFile == "" {
		return c.Rules, nil
	}
	if len(c.Rules) > 0 {
		return nil, core.NewConfigurationError("rules_file", "set either rules or rules_file, not both")
	}
	return LoadRulesFile(c.RulesFile)
}

func parseDelimiter(s string) (rune, error) {
	switch s {
	case "":
		return ',', nil
	case `\t`, "tab":
		return '\t', nil
	}
	r := []rune(s)
	if len(r) != 1 || r[0] == '"' || r[0] == '\r' || r[0] == '\n' {
		return 0, core.NewConfigurationError("source.delimiter", "delimiter must be a single character, got %q", s)
	}
	return r[0], nil
}
