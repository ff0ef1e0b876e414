package duckdb

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/leapstack-labs/leapgate/pkg/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateway_Connect(t *testing.T) {
	tests := []struct {
		name      string
		setupPath func(t *testing.T) string
		verify    func(t *testing.T, path string)
	}{
		{
			name: "in-memory",
			setupPath: func(_ *testing.T) string {
				return ":memory:"
			},
		},
		{
			name: "file-based",
			setupPath: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "test.duckdb")
			},
			verify: func(t *testing.T, path string) {
				_, err := os.Stat(path)
				assert.False(t, os.IsNotExist(err), "database file was not created")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			g := New(nil)

			dbPath := tt.setupPath(t)
			require.NoError(t, g.Connect(ctx, gateway.Config{DSN: dbPath}))
			defer func() { _ = g.Close() }()

			if tt.verify != nil {
				tt.verify(t, dbPath)
			}
		})
	}
}

func TestGateway_NotConnected(t *testing.T) {
	ctx := context.Background()
	g := New(nil)

	_, err := g.Exec(ctx, "SELECT 1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database connection not established")

	_, err = g.QueryCount(ctx, "SELECT 1")
	require.Error(t, err)
}

func TestGateway_LoadAndCount(t *testing.T) {
	ctx := context.Background()
	g := New(nil)
	require.NoError(t, g.Connect(ctx, gateway.Config{
		DSN:    ":memory:",
		Params: map[string]any{"settings": map[string]any{"threads": 1}},
	}))
	defer func() { _ = g.Close() }()

	_, err := g.Exec(ctx, `CREATE TABLE "stg" ("user_id" TEXT, "event_time" TEXT)`)
	require.NoError(t, err)

	rows := [][]any{
		{"u_0001", "2024-05-01 10:00:00.000001"},
		{"u_12", "2024-05-01 10:00:00"},
		{nil, nil},
	}
	n, err := g.BulkLoad(ctx, "stg", []string{"user_id", "event_time"}, rows, gateway.LoadModeReplace)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	// replace mode leaves exactly the new rows behind
	n, err = g.BulkLoad(ctx, "stg", []string{"user_id", "event_time"}, rows[:1], gateway.LoadModeReplace)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	total, err := g.QueryCount(ctx, `SELECT COUNT(*) FROM "stg"`)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	_, err = g.BulkLoad(ctx, "stg", []string{"user_id", "event_time"}, rows[1:], gateway.LoadModeAppend)
	require.NoError(t, err)

	bad, err := g.QueryCount(ctx,
		`SELECT COUNT(*) FROM "stg" WHERE "user_id" IS NOT NULL AND NOT `+Dialect.Regex(`"user_id"`, "?"),
		`^u_[0-9]{4}$`)
	require.NoError(t, err)
	assert.Equal(t, int64(1), bad)
}

func TestGateway_Registered(t *testing.T) {
	assert.True(t, gateway.IsRegistered("duckdb"))
}
