package backoff

import (
	"context"
	"time"
)

// Retrier runs an operation until it succeeds, fails permanently, or
// MaxAttempts runs out.
type Retrier struct {
	Policy      Policy
	MaxAttempts int
	// Retryable reports whether an error is worth another attempt. Nil
	// retries every error.
	Retryable func(error) bool
	// Sleep defaults to the package Sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Do returns nil on success, the context error if ctx ends while waiting,
// and otherwise the last error from op.
func (r Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := r.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts || ctx.Err() != nil {
			break
		}
		if r.Retryable != nil && !r.Retryable(lastErr) {
			break
		}
		if err := sleep(ctx, r.Policy.Delay(attempt)); err != nil {
			return err
		}
	}
	return lastErr
}
