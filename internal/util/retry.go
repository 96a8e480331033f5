package util

import (
	"context"
	"time"
)

// Retry runs fn up to attempts times, doubling the wait between failures
// starting from baseDelay. It returns nil as soon as one call succeeds, the
// last error once every attempt has failed, or ctx.Err() if the context is
// cancelled during a backoff wait.
func Retry(ctx context.Context, attempts int, baseDelay time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(baseDelay << i):
		}
	}
	return err
}
