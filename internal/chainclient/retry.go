package chainclient

import (
	"context"
	"time"
)

// Retry calls fn up to attempts times with bounded exponential backoff,
// doubling the delay after each failure. Used by callers that need
// resilience for read-only operations (balance sync); broadcast paths must
// never be wrapped in it.
func Retry(ctx context.Context, attempts int, baseDelay time.Duration, fn func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	delay := baseDelay
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
