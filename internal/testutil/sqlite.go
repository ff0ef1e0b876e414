package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/leapstack-labs/leapgate/pkg/gateway"
	"github.com/leapstack-labs/leapgate/pkg/gateways/sqlite"
)

// NewSQLiteGateway returns a connected in-memory SQLite gateway that is closed
// when the test ends.
func NewSQLiteGateway(t testing.TB) *sqlite.Gateway {
	t.Helper()
	g := sqlite.New(NewTestLogger(t))
	if err := g.Connect(context.Background(), gateway.Config{Type: "sqlite", DSN: ":memory:"}); err != nil {
		t.Fatalf("connect sqlite: %v", err)
	}
	t.Cleanup(func() { _ = g.Close() })
	return g
}

// WriteFile writes content to name inside a fresh temp dir and returns the path.
func WriteFile(t testing.TB, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}
