package rules

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/leapstack-labs/leapgate/pkg/core"
	"github.com/leapstack-labs/leapgate/pkg/gateway"
)

// Table describes the staging table rules are compiled against.
type Table struct {
	Name    string
	Columns []string
	Dialect *gateway.Dialect
}

func (t Table) hasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Querier is the read-only slice of a gateway that checks need.
type Querier interface {
	QueryCount(ctx context.Context, sql string, args ...any) (int64, error)
}

// Check is a compiled rule: a COUNT query returning the number of violating rows.
type Check struct {
	ID    string
	Group string
	Spec  RuleSpec
	SQL   string
	Args  []any
}

// Compile renders spec against table. Failures are *core.ConfigurationError.
func Compile(spec RuleSpec, table Table) (*Check, error) {
	return compile(spec, table, "rules."+spec.ID())
}

func compile(spec RuleSpec, table Table, field string) (*Check, error) {
	if table.Dialect == nil {
		return nil, fmt.Errorf("compile %s: table has no dialect", spec.ID())
	}
	if err := spec.Validate(field); err != nil {
		return nil, err
	}
	if !table.hasColumn(spec.Column) {
		return nil, core.NewConfigurationError(field+".column", "column %q is not declared on staging table %s", spec.Column, table.Name)
	}

	d := table.Dialect
	var args []any
	bind := func(v any) string {
		args = append(args, v)
		return d.FormatPlaceholder(len(args))
	}

	var where []string
	if spec.Scope != "" {
		scope, err := ParseScope(spec.Scope)
		if err != nil {
			return nil, &core.ConfigurationError{Field: field + ".scope", Reason: "invalid scope", Err: err}
		}
		for _, c := range scope.Columns() {
			if !table.hasColumn(c) {
				return nil, core.NewConfigurationError(field+".scope", "scope column %q is not declared on staging table %s", c, table.Name)
			}
		}
		where = append(where, "("+scope.Render(d, bind)+")")
	}

	col := d.QuoteIdent(spec.Column)
	switch spec.Kind {
	case KindNotNull:
		where = append(where, col+" IS NULL")
	case KindEnumMembership:
		allowed := spec.allowedValues()
		phs := make([]string, len(allowed))
		for i, v := range allowed {
			phs[i] = bind(v)
		}
		where = append(where, col+" IS NOT NULL", fmt.Sprintf("%s NOT IN (%s)", col, strings.Join(phs, ", ")))
	case KindFormatMatch:
		pattern, err := ResolvePattern(spec)
		if err != nil {
			return nil, &core.ConfigurationError{Field: field, Reason: "invalid format", Err: err}
		}
		where = append(where, col+" IS NOT NULL", "NOT ("+d.Regex(col, bind(pattern))+")")
	}

	return &Check{
		ID:   spec.ID(),
		Spec: spec,
		SQL:  fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", d.QuoteQualified(table.Name), strings.Join(where, " AND ")),
		Args: args,
	}, nil
}

// CompileSet compiles every rule in rs in evaluation order. All compilation
// failures are reported together.
func CompileSet(rs *RuleSet, table Table) ([]*Check, error) {
	var (
		checks []*Check
		errs   []error
	)
	for _, g := range rs.Groups() {
		for i, spec := range g.Rules {
			c, err := compile(spec, table, fmt.Sprintf("rules.%s[%d]", g.Name, i))
			if err != nil {
				errs = append(errs, err)
				continue
			}
			c.Group = g.Name
			checks = append(checks, c)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return checks, nil
}

// Count executes the query and returns the number of violating rows.
func (c *Check) Count(ctx context.Context, q Querier) (int64, error) {
	n, err := q.QueryCount(ctx, c.SQL, c.Args...)
	if err != nil {
		return 0, fmt.Errorf("check %s: %w", c.ID, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("check %s: negative count %d", c.ID, n)
	}
	return n, nil
}

// Run executes the check once. Infrastructure failures are captured in the
// result rather than returned.
func (c *Check) Run(ctx context.Context, q Querier) core.CheckResult {
	start := time.Now()
	n, err := c.Count(ctx, q)
	res := core.CheckResult{
		RuleID:   c.ID,
		Group:    c.Group,
		Attempts: 1,
		Duration: time.Since(start),
	}
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.ViolationCount = n
	res.Passed = n == 0
	return res
}
