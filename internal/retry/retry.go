package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Config bounds a retried operation. Zero values fall back to conservative
// defaults suited to page navigations: a handful of attempts with doubling
// delays, capped so a struggling site never stalls a scan pass for long.
type Config struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    time.Duration
}

// Do runs fn until it succeeds or the attempt budget is spent. Between
// attempts it sleeps the current backoff delay plus jitter, doubling the delay
// each round up to MaxDelay. A cancelled context interrupts the wait and
// returns ctx.Err immediately so the caller can abandon the operation for the
// current pass rather than retry indefinitely.
func Do(ctx context.Context, config Config, fn func() error) error {
	attempts := config.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	baseDelay := config.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	maxDelay := config.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 8 * time.Second
	}
	jitter := config.Jitter
	if jitter <= 0 {
		jitter = 250 * time.Millisecond
	}

	var lastErr error
	delay := baseDelay
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		sleep := delay + time.Duration(rand.Int63n(int64(jitter)))
		if sleep > maxDelay {
			sleep = maxDelay
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return fmt.Errorf("%d attempts exhausted: %w", attempts, lastErr)
}
