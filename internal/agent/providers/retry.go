package providers

import (
	"time"

	"github.com/haasonsaas/gridiron/internal/backoff"
)

// newRetrier retries transient provider failures with exponential backoff
// starting at delay and capped at 30 seconds.
func newRetrier(maxRetries int, delay time.Duration) backoff.Retrier {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if delay <= 0 {
		delay = time.Second
	}
	return backoff.Retrier{
		Policy:      backoff.Policy{Initial: delay, Max: 30 * time.Second, Factor: 2},
		MaxAttempts: maxRetries,
		Retryable:   IsRetryable,
	}
}
