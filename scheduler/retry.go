package scheduler

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig configures exponential backoff retry behavior.
type RetryConfig struct {
	InitialInterval     time.Duration // Initial retry interval (default 100ms)
	MaxInterval         time.Duration // Maximum retry interval (default 10s)
	MaxElapsedTime      time.Duration // Maximum total retry time (default 2min)
	Multiplier          float64       // Backoff multiplier (default 2.0)
	RandomizationFactor float64       // Jitter factor (default 0.5)
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:      2 * time.Minute,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// NewRetry returns a task that runs attempt with exponential backoff until it
// succeeds, the backoff policy gives up or the task is cancelled. The task
// holds its worker slot across retries. A cancelled task finishes without an
// error; a task that exhausts its retries finishes with the last attempt's
// error.
func NewRetry(name string, attempt func(ctx context.Context) error, cfg RetryConfig) *Task {
	return New(name, func(t *Task) {
		ctx := t.Context()

		operation := func() error {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			if err := attempt(ctx); err != nil {
				if ctx.Err() != nil {
					return backoff.Permanent(err)
				}
				return err
			}
			return nil
		}

		policy := backoff.NewExponentialBackOff()
		policy.InitialInterval = cfg.InitialInterval
		policy.MaxInterval = cfg.MaxInterval
		policy.MaxElapsedTime = cfg.MaxElapsedTime
		policy.Multiplier = cfg.Multiplier
		policy.RandomizationFactor = cfg.RandomizationFactor

		err := backoff.Retry(operation, backoff.WithContext(policy, ctx))
		if t.Canceled() {
			t.Finish()
			return
		}
		t.Finish(err)
	})
}
