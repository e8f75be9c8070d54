// Package retry runs an operation again on transient failures, leaving the
// caller to say which errors are transient.
package retry

import (
	"context"
	"time"
)

type Config struct {
	MaxAttempts int
	Delay       time.Duration
}

// Do runs fn up to cfg.MaxAttempts times, sleeping cfg.Delay between
// attempts. It stops early when fn succeeds, when retryable rejects the
// error, or when ctx is cancelled. The last error is returned.
func Do(ctx context.Context, cfg Config, retryable func(error) bool, fn func() error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var err error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err = fn()
		if err == nil || !retryable(err) {
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.Delay):
		}
	}
	return err
}
