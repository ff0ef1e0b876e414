package gateway

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// PlaceholderStyle selects how bind parameters are written.
type PlaceholderStyle int

// Placeholder styles.
const (
	PlaceholderQuestion PlaceholderStyle = iota // ?
	PlaceholderDollar                           // $1, $2, ...
)

// CastKind is one of the closed set of promotion target types.
type CastKind string

// Cast kinds.
const (
	CastText      CastKind = "text"
	CastInteger   CastKind = "integer"
	CastBigint    CastKind = "bigint"
	CastDouble    CastKind = "double"
	CastBoolean   CastKind = "boolean"
	CastDate      CastKind = "date"
	CastTimestamp CastKind = "timestamp"
	CastDecimal   CastKind = "decimal"
)

// Cast is a parsed promotion cast such as decimal(10,2).
type Cast struct {
	Kind      CastKind
	Precision int
	Scale     int
}

func (c Cast) String() string {
	if c.Kind == CastDecimal {
		return fmt.Sprintf("decimal(%d,%d)", c.Precision, c.Scale)
	}
	return string(c.Kind)
}

var decimalPattern = regexp.MustCompile(`^decimal\s*\(\s*(\d+)\s*,\s*(\d+)\s*\)$`)

// ParseCast parses a cast name from configuration.
func ParseCast(s string) (Cast, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	switch CastKind(name) {
	case CastText, CastInteger, CastBigint, CastDouble, CastBoolean, CastDate, CastTimestamp:
		return Cast{Kind: CastKind(name)}, nil
	}

	m := decimalPattern.FindStringSubmatch(name)
	if m == nil {
		return Cast{}, fmt.Errorf("unsupported cast %q (want text, integer, bigint, double, boolean, date, timestamp or decimal(p,s))", s)
	}
	p, _ := strconv.Atoi(m[1])
	sc, _ := strconv.Atoi(m[2])
	if p < 1 || p > 38 || sc > p {
		return Cast{}, fmt.Errorf("invalid decimal precision/scale in %q", s)
	}
	return Cast{Kind: CastDecimal, Precision: p, Scale: sc}, nil
}

// Dialect describes the SQL surface a gateway speaks.
type Dialect struct {
	Name        string
	Placeholder PlaceholderStyle
	// IdentQuote is the identifier quote character.
	IdentQuote string
	// RegexMatch is a format string taking (value expression, pattern placeholder)
	// and yielding a boolean expression.
	RegexMatch string
	// LockTable is an optional format string taking a quoted table name. It is
	// executed at the start of a promotion transaction.
	LockTable string
	// ColumnTypes overrides the DDL type per cast kind.
	ColumnTypes map[CastKind]string
	// CastTypes overrides the CAST target per cast kind. Falls back to ColumnTypes.
	CastTypes map[CastKind]string
}

var defaultTypes = map[CastKind]string{
	CastText:      "TEXT",
	CastInteger:   "INTEGER",
	CastBigint:    "BIGINT",
	CastDouble:    "DOUBLE PRECISION",
	CastBoolean:   "BOOLEAN",
	CastDate:      "DATE",
	CastTimestamp: "TIMESTAMP",
}

// FormatPlaceholder returns the n-th (1-based) bind placeholder.
func (d *Dialect) FormatPlaceholder(n int) string {
	if d.Placeholder == PlaceholderDollar {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// QuoteIdent quotes a single identifier.
func (d *Dialect) QuoteIdent(name string) string {
	q := d.IdentQuote
	if q == "" {
		q = `"`
	}
	return q + strings.ReplaceAll(name, q, q+q) + q
}

// QuoteQualified quotes a possibly schema-qualified name part by part.
func (d *Dialect) QuoteQualified(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = d.QuoteIdent(p)
	}
	return strings.Join(parts, ".")
}

// Regex renders a regex-match predicate.
func (d *Dialect) Regex(expr, pattern string) string {
	return fmt.Sprintf(d.RegexMatch, expr, pattern)
}

// LockStatement returns the table-lock statement or "" when the dialect has none.
func (d *Dialect) LockStatement(quotedTable string) string {
	if d.LockTable == "" {
		return ""
	}
	return fmt.Sprintf(d.LockTable, quotedTable)
}

// ColumnType renders the DDL type for c.
func (d *Dialect) ColumnType(c Cast) string {
	if t, ok := d.ColumnTypes[c.Kind]; ok {
		return decorate(t, c)
	}
	if c.Kind == CastDecimal {
		return fmt.Sprintf("DECIMAL(%d,%d)", c.Precision, c.Scale)
	}
	return defaultTypes[c.Kind]
}

// CastExpr renders CAST(expr AS <type>).
func (d *Dialect) CastExpr(expr string, c Cast) string {
	t, ok := d.CastTypes[c.Kind]
	if !ok {
		return fmt.Sprintf("CAST(%s AS %s)", expr, d.ColumnType(c))
	}
	return fmt.Sprintf("CAST(%s AS %s)", expr, decorate(t, c))
}

func decorate(t string, c Cast) string {
	if c.Kind == CastDecimal && !strings.Contains(t, "(") {
		return fmt.Sprintf("%s(%d,%d)", t, c.Precision, c.Scale)
	}
	return t
}
