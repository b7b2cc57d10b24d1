package util

import (
	"context"
	"errors"
	"time"
)

// RetryOptions controls RetryWithContext. Delay is the pause after the first
// failure and doubles after each further failure, capped at MaxDelay.
// Retryable decides whether an error is worth another attempt; nil retries
// every error except context cancellation.
type RetryOptions struct {
	MaxTries  int
	Delay     time.Duration
	MaxDelay  time.Duration
	Retryable func(error) bool
}

// RetryWithContext calls fn until it returns nil error, attempts run out,
// the error is not retryable, or ctx is done.
// If MaxTries <= 0, it defaults to 1. Returns ctx.Err() if the context is
// canceled between attempts, otherwise the last error.
func RetryWithContext[T any](ctx context.Context, opts RetryOptions, fn func(context.Context) (T, error)) (T, error) {
	maxTries := opts.MaxTries
	if maxTries <= 0 {
		maxTries = 1
	}
	delay := opts.Delay

	var lastErr error
	var zero T
	for i := 0; i < maxTries; i++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, context.Canceled) || (errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil) {
			return zero, err
		}
		if opts.Retryable != nil && !opts.Retryable(err) {
			return zero, err
		}
		lastErr = err

		if i == maxTries-1 || delay <= 0 {
			continue
		}
		if err := Sleep(ctx, delay); err != nil {
			return zero, err
		}
		delay *= 2
		if opts.MaxDelay > 0 && delay > opts.MaxDelay {
			delay = opts.MaxDelay
		}
	}
	return zero, lastErr
}

// RetryErrWithContext is RetryWithContext for functions without a result.
func RetryErrWithContext(ctx context.Context, opts RetryOptions, fn func(context.Context) error) error {
	_, err := RetryWithContext(ctx, opts, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
