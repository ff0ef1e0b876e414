package postgres

import (
	"log/slog"

	"github.com/leapstack-labs/leapgate/pkg/gateway"
)

func init() {
	gateway.Register("postgres", func(logger *slog.Logger) gateway.Gateway { return New(logger) })
}
