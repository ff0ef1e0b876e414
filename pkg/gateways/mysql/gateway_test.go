package mysql

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/leapstack-labs/leapgate/pkg/core"
	"github.com/leapstack-labs/leapgate/pkg/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "deadlock", err: &mysql.MySQLError{Number: 1213}, want: true},
		{name: "lock wait timeout", err: &mysql.MySQLError{Number: 1205}, want: true},
		{name: "invalid conn", err: fmt.Errorf("exec: %w", mysql.ErrInvalidConn), want: true},
		{name: "truncated value", err: &mysql.MySQLError{Number: 1292}, want: false},
		{name: "duplicate key", err: &mysql.MySQLError{Number: 1062}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTransient(tt.err))
		})
	}
}

func TestParseParams(t *testing.T) {
	p, err := parseParams(map[string]any{"max_open_conns": "10", "conn_max_lifetime": "5m"})
	require.NoError(t, err)
	assert.Equal(t, 10, p.MaxOpenConns)
	assert.Equal(t, 5*time.Minute, p.ConnMaxLifetime)

	_, err = parseParams(map[string]any{"pool": 3})
	require.Error(t, err)
}

func TestGateway_Connect_InvalidDSN(t *testing.T) {
	err := New(nil).Connect(context.Background(), gateway.Config{DSN: "user@tcp(localhost:3306"})
	require.Error(t, err)
	assert.True(t, core.IsConfiguration(err))
}

func TestDialect_Casts(t *testing.T) {
	assert.Equal(t, "CAST(`x` AS CHAR)", Dialect.CastExpr("`x`", gateway.Cast{Kind: gateway.CastText}))
	assert.Equal(t, "CAST(`x` AS DATETIME(6))", Dialect.CastExpr("`x`", gateway.Cast{Kind: gateway.CastTimestamp}))
	assert.Equal(t, "CAST(`x` AS DECIMAL(10,2))", Dialect.CastExpr("`x`", gateway.Cast{Kind: gateway.CastDecimal, Precision: 10, Scale: 2}))
	assert.Equal(t, "INT", Dialect.ColumnType(gateway.Cast{Kind: gateway.CastInteger}))
	assert.Equal(t, "`fct_event_stream`", Dialect.QuoteQualified("fct_event_stream"))
}

func TestGateway_Registered(t *testing.T) {
	assert.True(t, gateway.IsRegistered("mysql"))
}
