package inference

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"
)

// RetryConfig bounds retries of transient backend failures.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// BackoffBase is the delay before the first retry.
	BackoffBase time.Duration
	// BackoffMultiplier scales the delay after each retry.
	BackoffMultiplier float64
	// MaxBackoff caps the delay between attempts.
	MaxBackoff time.Duration
}

// DefaultRetryConfig returns retry defaults suited to a local backend.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       500 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxBackoff:        5 * time.Second,
	}
}

// Do runs fn up to cfg.MaxAttempts times, retrying only transient backend
// errors with exponential backoff and jitter. Timeouts, rate limits, and
// fatal backend errors surface immediately.
func Do(ctx context.Context, cfg RetryConfig, fn func() (string, error)) (string, error) {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	backoff := cfg.BackoffBase
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		out, err := fn()
		if err == nil {
			return out, nil
		}
		lastErr = err

		if !IsTransient(err) || attempt == cfg.MaxAttempts {
			return "", err
		}

		delay := backoff
		if delay > cfg.MaxBackoff {
			delay = cfg.MaxBackoff
		}
		// Jitter up to half the delay to avoid thundering retries.
		delay += time.Duration(rand.Int64N(int64(delay)/2 + 1))

		slog.Debug("inference retry",
			"attempt", attempt,
			"max_attempts", cfg.MaxAttempts,
			"delay", delay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}

		backoff = time.Duration(float64(backoff) * cfg.BackoffMultiplier)
	}
	return "", lastErr
}
