// Package quality evaluates compiled data-quality checks against a staged
// dataset and summarises the outcome.
package quality

import (
	"context"
	"log/slog"
	"time"

	"github.com/leapstack-labs/leapgate/internal/rules"
	"github.com/leapstack-labs/leapgate/pkg/core"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
)

// Defaults applied when Config fields are zero.
const (
	DefaultConcurrency = 4
	DefaultBackoff     = 200 * time.Millisecond
)

// Config configures an Evaluator.
type Config struct {
	// Concurrency bounds the number of checks in flight.
	Concurrency int
	// Retries is the number of extra attempts after a transient failure.
	Retries int
	// Backoff is the base of the exponential backoff between attempts.
	Backoff time.Duration
	Logger  *slog.Logger
}

// Evaluator runs checks with bounded concurrency. A failing check never
// prevents the others from running.
type Evaluator struct {
	concurrency int
	retries     int
	backoff     time.Duration
	logger      *slog.Logger
}

// New creates an Evaluator.
func New(cfg Config) *Evaluator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Evaluator{
		concurrency: cfg.Concurrency,
		retries:     cfg.Retries,
		backoff:     cfg.Backoff,
		logger:      cfg.Logger,
	}
}

// Evaluate runs every check and returns one result per check, in input order.
func (e *Evaluator) Evaluate(ctx context.Context, checks []*rules.Check, q rules.Querier) []core.CheckResult {
	results := make([]core.CheckResult, len(checks))

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, c := range checks {
		g.Go(func() error {
			results[i] = e.Run(ctx, c, q)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// Run executes one check, retrying transient failures. Infrastructure errors
// end up in CheckResult.Error.
func (e *Evaluator) Run(ctx context.Context, c *rules.Check, q rules.Querier) core.CheckResult {
	start := time.Now()
	res := core.CheckResult{RuleID: c.ID, Group: c.Group}

	var count int64
	err := retry.Do(ctx, e.backoffPolicy(), func(ctx context.Context) error {
		res.Attempts++
		n, err := c.Count(ctx, q)
		if err != nil {
			if core.IsTransient(err) {
				e.logger.Warn("transient check failure, retrying",
					slog.String("rule", c.ID),
					slog.Int("attempt", res.Attempts),
					slog.String("error", err.Error()))
				return retry.RetryableError(err)
			}
			return err
		}
		count = n
		return nil
	})
	res.Duration = time.Since(start)

	if err != nil {
		res.Error = err.Error()
		e.logger.Error("check errored", slog.String("rule", c.ID), slog.String("error", res.Error))
		return res
	}

	res.ViolationCount = count
	res.Passed = count == 0
	if res.Passed {
		e.logger.Debug("check passed", slog.String("rule", c.ID), slog.Duration("duration", res.Duration))
	} else {
		e.logger.Info("check failed",
			slog.String("rule", c.ID),
			slog.Int64("violations", count),
			slog.Duration("duration", res.Duration))
	}
	return res
}

func (e *Evaluator) backoffPolicy() retry.Backoff {
	b := retry.NewExponential(e.backoff)
	b = retry.WithJitterPercent(10, b)
	return retry.WithMaxRetries(uint64(e.retries), b) //nolint:gosec // retries is non-negative
}
