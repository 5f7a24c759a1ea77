// Package retry wraps calls to external sources with capped exponential
// backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy configures Do.
type Policy struct {
	// MaxAttempts counts the first call. Values below 1 mean a single attempt.
	MaxAttempts int
	// BaseDelay is the wait before the second attempt; it doubles afterwards.
	BaseDelay time.Duration
	// Jitter randomizes each delay by ±Jitter of its value, in [0, 1].
	Jitter float64
}

// DefaultPolicy is three attempts starting at 200ms with 50% jitter.
var DefaultPolicy = Policy{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond, Jitter: 0.5}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do calls fn until it succeeds, returns a permanent error, the attempts run
// out or ctx is done. onRetry, if set, is called before each wait.
func Do[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error), onRetry func(attempt int, err error)) (T, error) {
	var (
		result  T
		attempt int
	)
	op := func() error {
		attempt++
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	}

	err := backoff.RetryNotify(op, p.backOff(ctx), func(err error, _ time.Duration) {
		if onRetry != nil {
			onRetry(attempt, err)
		}
	})
	if err != nil {
		var zero T
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			return zero, errors.Join(err, ctxErr)
		}
		return zero, err
	}
	return result, nil
}

func (p Policy) backOff(ctx context.Context) backoff.BackOffContext {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.BaseDelay
	exp.RandomizationFactor = p.Jitter
	exp.Multiplier = 2
	exp.MaxInterval = 30 * time.Second
	exp.MaxElapsedTime = 0
	exp.Reset()

	retries := p.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)
}
