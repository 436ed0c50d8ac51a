// Package resilience provides a generic retry helper built on a real
// exponential-backoff library rather than a hand-rolled loop.
package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/metric"
)

// Retry executes fn until it succeeds, attempts are exhausted, or ctx is
// done. delay is the initial backoff; it doubles on each failure up to a
// 60s cap, with full jitter.
func Retry[T any](ctx context.Context, meter metric.Meter, attempts int, delay time.Duration, fn func() (T, error)) (T, error) {
	var zero T
	if attempts <= 0 {
		return zero, nil
	}

	var attemptCounter, successCounter, failCounter metric.Int64Counter
	if meter != nil {
		attemptCounter, _ = meter.Int64Counter("ewig_resilience_retry_attempts_total")
		successCounter, _ = meter.Int64Counter("ewig_resilience_retry_success_total")
		failCounter, _ = meter.Int64Counter("ewig_resilience_retry_fail_total")
	}
	add := func(c metric.Int64Counter) {
		if c != nil {
			c.Add(ctx, 1)
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = delay
	b.MaxInterval = 60 * time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 1 // full jitter
	limited := backoff.WithMaxRetries(b, uint64(attempts-1))
	bo := backoff.WithContext(limited, ctx)

	var result T
	var lastErr error
	op := func() error {
		v, err := fn()
		add(attemptCounter)
		if err != nil {
			lastErr = err
			return err
		}
		result = v
		add(successCounter)
		return nil
	}
	if err := backoff.Retry(op, bo); err != nil {
		add(failCounter)
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, lastErr
	}
	return result, nil
}
