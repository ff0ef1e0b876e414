package gateway

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"syscall"

	"github.com/leapstack-labs/leapgate/pkg/core"
)

// DefaultDSNEnv is the variable consulted when target.dsn_env is empty.
const DefaultDSNEnv = "LEAPGATE_DSN"

// ResolveDSN reads the connection string from the named environment variable.
func ResolveDSN(envName string) (string, error) {
	if envName == "" {
		envName = DefaultDSNEnv
	}
	dsn, ok := os.LookupEnv(envName)
	if !ok || strings.TrimSpace(dsn) == "" {
		return "", &core.ConfigurationError{
			Field:  "target.dsn_env",
			Reason: fmt.Sprintf("environment variable %s is not set", envName),
		}
	}
	return dsn, nil
}

// IsConnectionError reports driver-independent failures that are worth retrying:
// timeouts, refused or reset connections, and broken pool connections.
func IsConnectionError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

// Classify wraps err for op. Retryable failures become core.TransientError;
// everything else is wrapped with a "failed to <op>" prefix. isTransient is an
// optional driver-specific classifier.
func Classify(op string, err error, isTransient func(error) bool) error {
	if err == nil {
		return nil
	}
	if core.IsTransient(err) {
		return err
	}
	if IsConnectionError(err) || (isTransient != nil && isTransient(err)) {
		return &core.TransientError{Op: op, Err: err}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
