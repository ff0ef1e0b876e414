package rules

import (
	"context"
	"errors"
	"testing"

	"github.com/leapstack-labs/leapgate/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var eventColumns = []string{
	"event_time", "user_id", "event_type", "transaction_category",
	"miles_amount", "platform", "utm_source", "country",
}

func stagingTable() Table {
	return Table{Name: "public.stg_event_stream", Columns: eventColumns, Dialect: dollarDialect}
}

func TestCompile(t *testing.T) {
	tests := []struct {
		name     string
		spec     RuleSpec
		wantSQL  string
		wantArgs []any
	}{
		{
			name:    "not_null",
			spec:    RuleSpec{Kind: KindNotNull, Column: "user_id"},
			wantSQL: `SELECT COUNT(*) FROM "public"."stg_event_stream" WHERE "user_id" IS NULL`,
		},
		{
			name:     "scoped not_null",
			spec:     RuleSpec{Kind: KindNotNull, Column: "miles_amount", Scope: "event_type NOT IN ('share','like','reward_search')"},
			wantSQL:  `SELECT COUNT(*) FROM "public"."stg_event_stream" WHERE ("event_type" NOT IN ($1, $2, $3)) AND "miles_amount" IS NULL`,
			wantArgs: []any{"share", "like", "reward_search"},
		},
		{
			name:     "enum excludes nulls and dedupes allowed",
			spec:     RuleSpec{Kind: KindEnumMembership, Column: "platform", Allowed: []string{"ios", "android", "web", "ios"}},
			wantSQL:  `SELECT COUNT(*) FROM "public"."stg_event_stream" WHERE "platform" IS NOT NULL AND "platform" NOT IN ($1, $2, $3)`,
			wantArgs: []any{"ios", "android", "web"},
		},
		{
			name:     "scoped enum numbers scope parameters first",
			spec:     RuleSpec{Kind: KindEnumMembership, Column: "transaction_category", Scope: "event_type not in ('share','like')", Allowed: []string{"dining", "flight"}},
			wantSQL:  `SELECT COUNT(*) FROM "public"."stg_event_stream" WHERE ("event_type" NOT IN ($1, $2)) AND "transaction_category" IS NOT NULL AND "transaction_category" NOT IN ($3, $4)`,
			wantArgs: []any{"share", "like", "dining", "flight"},
		},
		{
			name:     "format by mask",
			spec:     RuleSpec{Kind: KindFormatMatch, Column: "user_id", Mask: "u_####"},
			wantSQL:  `SELECT COUNT(*) FROM "public"."stg_event_stream" WHERE "user_id" IS NOT NULL AND NOT ("user_id" ~ $1)`,
			wantArgs: []any{`^u_[0-9]{4}$`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Compile(tt.spec, stagingTable())
			require.NoError(t, err)
			assert.Equal(t, tt.spec.ID(), c.ID)
			assert.Equal(t, tt.wantSQL, c.SQL)
			assert.Equal(t, tt.wantArgs, c.Args)
		})
	}
}

func TestCompile_QuestionDialect(t *testing.T) {
	table := Table{Name: "stg", Columns: eventColumns, Dialect: questionDialect}
	c, err := Compile(RuleSpec{Kind: KindFormatMatch, Column: "event_time", Format: "timestamp_micros"}, table)
	require.NoError(t, err)
	assert.Equal(t, `SELECT COUNT(*) FROM "stg" WHERE "event_time" IS NOT NULL AND NOT ("event_time" REGEXP ?)`, c.SQL)
	require.Len(t, c.Args, 1)
}

func TestCompile_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name    string
		spec    RuleSpec
		wantErr string
	}{
		{name: "undeclared column", spec: RuleSpec{Kind: KindNotNull, Column: "device"}, wantErr: `column "device" is not declared`},
		{name: "undeclared scope column", spec: RuleSpec{Kind: KindNotNull, Column: "user_id", Scope: "device = 'x'"}, wantErr: `scope column "device"`},
		{name: "empty allowed", spec: RuleSpec{Kind: KindEnumMembership, Column: "platform", Allowed: []string{}}, wantErr: "non-empty allowed set"},
		{name: "bad pattern", spec: RuleSpec{Kind: KindFormatMatch, Column: "user_id", Pattern: "["}, wantErr: "invalid pattern"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.spec, stagingTable())
			require.Error(t, err)
			assert.True(t, core.IsConfiguration(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCompileSet(t *testing.T) {
	rs := MustRuleSet(map[string][]RuleSpec{
		"NULL_CHECK":   {{Kind: KindNotNull, Column: "user_id"}},
		"FORMAT_CHECK": {{Kind: KindFormatMatch, Column: "user_id", Mask: "u_####"}},
	})

	checks, err := CompileSet(rs, stagingTable())
	require.NoError(t, err)
	require.Len(t, checks, 2)
	assert.Equal(t, "FORMAT_CHECK", checks[0].Group)
	assert.Equal(t, "format_match.user_id", checks[0].ID)
	assert.Equal(t, "NULL_CHECK", checks[1].Group)

	bad := MustRuleSet(map[string][]RuleSpec{
		"A": {{Kind: KindNotNull, Column: "nope"}, {Kind: KindNotNull, Column: "missing"}},
	})
	_, err = CompileSet(bad, stagingTable())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rules.A[0].column")
	assert.Contains(t, err.Error(), "rules.A[1].column")
}

type fakeQuerier struct {
	count int64
	err   error
	sql   string
	args  []any
}

func (f *fakeQuerier) QueryCount(_ context.Context, sql string, args ...any) (int64, error) {
	f.sql, f.args = sql, args
	return f.count, f.err
}

func TestCheck_Run(t *testing.T) {
	c, err := Compile(RuleSpec{Kind: KindEnumMembership, Column: "platform", Allowed: []string{"ios"}}, stagingTable())
	require.NoError(t, err)
	c.Group = "ACCEPT_VALUE_CHECK"

	t.Run("pass", func(t *testing.T) {
		q := &fakeQuerier{}
		res := c.Run(context.Background(), q)
		assert.True(t, res.Passed)
		assert.Equal(t, int64(0), res.ViolationCount)
		assert.Equal(t, "ACCEPT_VALUE_CHECK", res.Group)
		assert.Equal(t, c.SQL, q.sql)
		assert.Equal(t, []any{"ios"}, q.args)
	})

	t.Run("violations", func(t *testing.T) {
		res := c.Run(context.Background(), &fakeQuerier{count: 4})
		assert.False(t, res.Passed)
		assert.Equal(t, int64(4), res.ViolationCount)
		assert.Empty(t, res.Error)
	})

	t.Run("infrastructure error is captured", func(t *testing.T) {
		res := c.Run(context.Background(), &fakeQuerier{err: errors.New("connection reset")})
		assert.False(t, res.Passed)
		assert.Contains(t, res.Error, "connection reset")
		assert.True(t, res.Failed())
	})
}
