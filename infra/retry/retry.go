// Package retry holds the exponential backoff helpers shared by the
// settlement path and the background jobs.
package retry

import (
	"context"
	"time"
)

// Do calls fn up to maxAttempts times with exponential backoff starting at
// baseDelay. It returns nil on the first successful call, or the last error
// if all attempts fail. Context cancellation is honoured between attempts.
func Do(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func(attempt int) error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var err error
	delay := baseDelay

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn(attempt)
		if err == nil {
			return nil
		}

		// Don't sleep after the last failed attempt.
		if attempt < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return err
}

// Backoff is the wait before attempt number retries+1 of a job that has
// already failed retries times: base * 2^retries, capped at max.
func Backoff(base, max time.Duration, retries uint32) time.Duration {
	if retries == 0 {
		return 0
	}
	d := base
	for i := uint32(1); i < retries; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}
