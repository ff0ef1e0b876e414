package pipeline

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/leapstack-labs/leapgate/pkg/core"
	"github.com/leapstack-labs/leapgate/pkg/gateway"
)

// Executor is the slice of a gateway that runs statements.
type Executor interface {
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
}

// DDL is a list of statements creating one table.
type DDL struct {
	Table      string
	Statements []string
	// File is set when the statements came from a DDL file.
	File string
}

// StagingDDL drops and recreates the staging table with every column as text,
// so a run never sees rows from a previous run.
func StagingDDL(d *gateway.Dialect, table string, cols []Column) DDL {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = d.QuoteIdent(c.Name) + " " + d.ColumnType(gateway.Cast{Kind: gateway.CastText})
	}
	q := d.QuoteQualified(table)
	return DDL{
		Table: table,
		Statements: []string{
			"DROP TABLE IF EXISTS " + q,
			"CREATE TABLE " + q + " (" + strings.Join(defs, ", ") + ")",
		},
	}
}

// PublishedDDL creates the published table with typed columns when absent.
func PublishedDDL(d *gateway.Dialect, table string, cols []Column) DDL {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = d.QuoteIdent(c.TargetName()) + " " + d.ColumnType(c.Cast)
	}
	return DDL{
		Table: table,
		Statements: []string{
			"CREATE TABLE IF NOT EXISTS " + d.QuoteQualified(table) + " (" + strings.Join(defs, ", ") + ")",
		},
	}
}

// FileDDL reads a table-definition file. Its content is executed verbatim.
func FileDDL(table, path, field string) (DDL, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return DDL{}, &core.ConfigurationError{Field: field, Reason: fmt.Sprintf("cannot read DDL file %q", path), Err: err}
	}
	body := strings.TrimSpace(string(b))
	if body == "" {
		return DDL{}, core.NewConfigurationError(field, "DDL file %q is empty", path)
	}
	return DDL{Table: table, Statements: []string{body}, File: path}, nil
}

// Apply executes the statements in order.
func (d DDL) Apply(ctx context.Context, x Executor) error {
	for _, stmt := range d.Statements {
		if _, err := x.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create %s: %w", d.Table, err)
		}
	}
	return nil
}

// SQL returns the statements as one script, for display.
func (d DDL) SQL() string {
	return strings.Join(d.Statements, ";\n") + ";"
}
