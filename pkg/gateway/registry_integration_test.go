package gateway_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/leapstack-labs/leapgate/pkg/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	// Import gateway packages to ensure gateways are registered via init()
	_ "github.com/leapstack-labs/leapgate/pkg/gateways/duckdb"
	_ "github.com/leapstack-labs/leapgate/pkg/gateways/mysql"
	_ "github.com/leapstack-labs/leapgate/pkg/gateways/postgres"
	_ "github.com/leapstack-labs/leapgate/pkg/gateways/sqlite"
)

func TestListGateways(t *testing.T) {
	gateways := gateway.ListGateways()

	for _, name := range []string{"duckdb", "mysql", "postgres", "sqlite"} {
		assert.Contains(t, gateways, name, "%s should be in gateway list", name)
	}
}

func TestIsRegistered(t *testing.T) {
	tests := []struct {
		name        string
		gatewayName string
		expected    bool
	}{
		{"duckdb registered", "duckdb", true},
		{"postgres registered", "postgres", true},
		{"sqlite registered", "sqlite", true},
		{"unknown not registered", "unknown_db", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := gateway.IsRegistered(tt.gatewayName)
			assert.Equal(t, tt.expected, got, "IsRegistered(%q)", tt.gatewayName)
		})
	}
}

func TestOpen_Success(t *testing.T) {
	gw, err := gateway.Open(context.Background(), gateway.Config{
		Type: "sqlite",
		DSN:  filepath.Join(t.TempDir(), "open.db"),
	}, nil)
	require.NoError(t, err, "Open(sqlite) failed")
	defer func() { _ = gw.Close() }()

	assert.Equal(t, "sqlite", gw.Dialect().Name)
}

func TestNewGateway_UnknownType(t *testing.T) {
	_, err := gateway.NewGateway(gateway.Config{Type: "unknown_gateway"}, nil)
	require.Error(t, err, "NewGateway(unknown_gateway) should fail")

	var unknownErr *gateway.UnknownGatewayError
	require.ErrorAs(t, err, &unknownErr)

	assert.Equal(t, "unknown_gateway", unknownErr.Type, "error type")
	assert.Contains(t, unknownErr.Available, "duckdb", "Available gateways should include duckdb")
}
