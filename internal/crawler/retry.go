package crawler

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
)

// RetryPolicy retries transient page failures with exponential backoff,
// doubling the base delay after each failed attempt. Attempts counts total
// tries, so Attempts=3 means one initial try plus two retries.
// Cancellations and non-retryable errors stop the loop immediately.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
	Logger   arbor.ILogger
}

// Do runs fn until it succeeds, exhausts the attempt budget, or hits a
// non-retryable error. The last error is returned on failure.
func (p *RetryPolicy) Do(ctx context.Context, label string, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		p.Logger.Warn().
			Err(lastErr).
			Str("target", label).
			Int("attempt", attempt).
			Int("max_attempts", attempts).
			Msg("Page attempt failed, retrying")

		select {
		case <-ctx.Done():
			return CauseOf(ctx, ctx.Err())
		case <-time.After(p.backoffFor(attempt)):
		}
	}
	return lastErr
}

// backoffFor returns the wait after the given 1-based attempt: the base
// delay for the first failure, doubled for every failure after it.
func (p *RetryPolicy) backoffFor(attempt int) time.Duration {
	return p.Backoff << (attempt - 1)
}
