// Package pipeline runs one staging -> data-quality gate -> published
// promotion as a task graph and drives the run state machine.
package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/leapstack-labs/leapgate/internal/rules"
	"github.com/leapstack-labs/leapgate/internal/source"
	"github.com/leapstack-labs/leapgate/pkg/core"
	"github.com/leapstack-labs/leapgate/pkg/gateway"
)

// Column maps one raw staging column to a typed published column.
type Column struct {
	// Name is the staging column (always text).
	Name string
	// Target is the published column name. Empty means Name.
	Target string
	// Cast is the published type.
	Cast gateway.Cast
}

// TargetName returns the published column name.
func (c Column) TargetName() string {
	if c.Target != "" {
		return c.Target
	}
	return c.Name
}

// Table names a dataset and optionally the DDL file that creates it.
type Table struct {
	Name string
	// DDLFile is executed verbatim when set; otherwise DDL is generated.
	DDLFile string
}

// Source describes where raw rows come from.
type Source struct {
	// Path is a local file or an s3://bucket/key URL.
	Path        string
	Delimiter   rune
	Encoding    string
	EmptyAsNull bool
	BatchSize   int
	S3          source.S3Config
}

// Execution tunes scheduling and retries.
type Execution struct {
	// Concurrency bounds concurrently running tasks (and therefore checks).
	Concurrency int
	// Retries is the number of extra attempts for tasks failing transiently.
	Retries int
	// Backoff is the base delay between retries.
	Backoff time.Duration
	// StopOnFirstFailure stops scheduling remaining checks once the gate failed.
	StopOnFirstFailure bool
	// LockPublished takes the dialect's table lock inside the promotion transaction.
	LockPublished bool
}

// Definition is everything needed to run a pipeline.
type Definition struct {
	Name      string
	Source    Source
	Staging   Table
	Published Table
	// StagingLoadMode applies to the staging load (default replace).
	StagingLoadMode gateway.LoadMode
	// PublishMode is append (default) or replace.
	PublishMode gateway.LoadMode
	Columns     []Column
	// Predicate optionally restricts which staged rows are promoted.
	Predicate string
	Rules     *rules.RuleSet
	Execution Execution
}

// StagingColumns returns the declared staging column names in order.
func (d *Definition) StagingColumns() []string {
	cols := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		cols[i] = c.Name
	}
	return cols
}

func (d *Definition) applyDefaults() {
	if d.StagingLoadMode == "" {
		d.StagingLoadMode = gateway.LoadModeReplace
	}
	if d.PublishMode == "" {
		d.PublishMode = gateway.LoadModeAppend
	}
	if d.Execution.Concurrency <= 0 {
		d.Execution.Concurrency = 4
	}
	if d.Execution.Backoff <= 0 {
		d.Execution.Backoff = 200 * time.Millisecond
	}
	if d.Rules == nil {
		d.Rules = rules.MustRuleSet(nil)
	}
}

// Validate reports every structural problem at once.
func (d *Definition) Validate() error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, core.NewConfigurationError(field, format, args...))
	}

	if d.Name == "" {
		add("name", "pipeline name is required")
	}
	if d.Source.Path == "" {
		add("source.path", "source path is required")
	}
	if d.Staging.Name == "" {
		add("staging.table", "staging table is required")
	}
	if d.Published.Name == "" {
		add("published.table", "published table is required")
	}
	if d.Staging.Name != "" && d.Staging.Name == d.Published.Name {
		add("published.table", "published table must differ from staging table %q", d.Staging.Name)
	}
	if !d.StagingLoadMode.Valid() {
		add("staging.load_mode", "invalid load mode %q (want replace or append)", d.StagingLoadMode)
	}
	if !d.PublishMode.Valid() {
		add("published.mode", "invalid mode %q (want append or replace)", d.PublishMode)
	}
	if len(d.Columns) == 0 {
		add("columns", "at least one column is required")
	}

	seen := make(map[string]bool)
	targets := make(map[string]bool)
	for i, c := range d.Columns {
		field := fmt.Sprintf("columns[%d]", i)
		if c.Name == "" {
			add(field+".name", "column name is required")
			continue
		}
		if seen[c.Name] {
			add(field+".name", "duplicate column %q", c.Name)
		}
		seen[c.Name] = true
		if targets[c.TargetName()] {
			add(field+".target", "duplicate published column %q", c.TargetName())
		}
		targets[c.TargetName()] = true
	}
	return errors.Join(errs...)
}
