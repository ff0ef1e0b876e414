package mysql

import (
	"log/slog"

	"github.com/leapstack-labs/leapgate/pkg/gateway"
)

func init() {
	gateway.Register("mysql", func(logger *slog.Logger) gateway.Gateway { return New(logger) })
}
