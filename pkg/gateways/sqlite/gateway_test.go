package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/leapstack-labs/leapgate/pkg/core"
	"github.com/leapstack-labs/leapgate/pkg/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connect(t *testing.T, dsn string) *Gateway {
	t.Helper()
	g := New(nil)
	require.NoError(t, g.Connect(context.Background(), gateway.Config{DSN: dsn}))
	t.Cleanup(func() { _ = g.Close() })
	return g
}

func TestBuildDSN(t *testing.T) {
	tests := []struct {
		name   string
		dsn    string
		params *Params
		want   string
	}{
		{
			name:   "memory is untouched",
			dsn:    ":memory:",
			params: &Params{BusyTimeout: time.Second},
			want:   ":memory:",
		},
		{
			name:   "empty means memory",
			dsn:    "",
			params: &Params{},
			want:   ":memory:",
		},
		{
			name:   "file gets pragmas",
			dsn:    "/tmp/x.db",
			params: &Params{BusyTimeout: 2 * time.Second, JournalMode: "WAL"},
			want:   "/tmp/x.db?_pragma=busy_timeout(2000)&_pragma=journal_mode(wal)",
		},
		{
			name:   "existing query string",
			dsn:    "file:x.db?cache=shared",
			params: &Params{BusyTimeout: time.Second},
			want:   "file:x.db?cache=shared&_pragma=busy_timeout(1000)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildDSN(tt.dsn, tt.params))
		})
	}
}

func TestParseParams(t *testing.T) {
	p, err := parseParams(nil)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, p.BusyTimeout)

	p, err = parseParams(map[string]any{"busy_timeout": "250ms", "journal_mode": "wal"})
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, p.BusyTimeout)

	_, err = parseParams(map[string]any{"journal_mode": "bogus"})
	require.Error(t, err)

	err = New(nil).Connect(context.Background(), gateway.Config{DSN: ":memory:", Params: map[string]any{"nope": 1}})
	require.Error(t, err)
	assert.True(t, core.IsConfiguration(err))
}

func TestRegexpFunction(t *testing.T) {
	g := connect(t, ":memory:")
	ctx := context.Background()

	tests := []struct {
		value   string
		pattern string
		want    int64
	}{
		{"u_0042", `^u_[0-9]{4}$`, 1},
		{"u_42", `^u_[0-9]{4}$`, 0},
		{"2024-05-01 10:00:00.123456", `^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d{6}$`, 1},
		{"2024-05-01 10:00:00", `^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d{6}$`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, err := g.QueryCount(ctx, "SELECT ? REGEXP ?", tt.value, tt.pattern)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	// NULL value propagates as NULL, which COUNT-based checks never see
	got, err := g.QueryCount(ctx, "SELECT COUNT(*) WHERE NULL REGEXP ?", `^x$`)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got)
}

func TestGateway_LoadCountAndTx(t *testing.T) {
	g := connect(t, filepath.Join(t.TempDir(), "gw.db"))
	ctx := context.Background()

	_, err := g.Exec(ctx, `CREATE TABLE "stg" ("platform" TEXT, "miles_amount" TEXT)`)
	require.NoError(t, err)
	_, err = g.Exec(ctx, `CREATE TABLE "fct" ("platform" TEXT NOT NULL, "miles_amount" NUMERIC(10,2))`)
	require.NoError(t, err)

	n, err := g.BulkLoad(ctx, "stg", []string{"platform", "miles_amount"},
		[][]any{{"ios", "10.50"}, {"web", nil}, {nil, "3"}}, gateway.LoadModeReplace)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	nulls, err := g.QueryCount(ctx, `SELECT COUNT(*) FROM "stg" WHERE "platform" IS NULL`)
	require.NoError(t, err)
	assert.Equal(t, int64(1), nulls)

	// constraint failure inside a transaction leaves the target untouched
	tx, err := g.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Exec(ctx, `INSERT INTO "fct" SELECT "platform", CAST("miles_amount" AS NUMERIC(10,2)) FROM "stg"`)
	require.Error(t, err)
	require.NoError(t, tx.Rollback(ctx))

	count, err := g.QueryCount(ctx, `SELECT COUNT(*) FROM "fct"`)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestIsTransient_PlainError(t *testing.T) {
	assert.False(t, isTransient(assert.AnError))
}
