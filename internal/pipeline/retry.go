package pipeline

import (
	"context"
	"time"

	"github.com/leapstack-labs/leapgate/pkg/core"
	"github.com/sethvargo/go-retry"
)

// withRetry calls fn until it succeeds, fails with a non-transient error or
// runs out of retries. It returns the number of attempts made.
func withRetry(ctx context.Context, retries int, base time.Duration, fn func(ctx context.Context) error) (int, error) {
	if retries < 0 {
		retries = 0
	}
	b := retry.WithMaxRetries(uint64(retries), retry.WithJitterPercent(10, retry.NewExponential(base))) //nolint:gosec // non-negative

	attempts := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempts++
		if err := fn(ctx); err != nil {
			if core.IsTransient(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
	return attempts, err
}
