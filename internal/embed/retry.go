package embed

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig shapes the exponential backoff used for backend bring-up
// (model pulls, first connections).
type RetryConfig struct {
	// MaxRetries counts retry attempts beyond the initial try.
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryConfig is 3 retries at 1s/2s/4s, capped at 16s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     16 * time.Second,
		Multiplier:   2.0,
	}
}

// DownloadWithRetry runs fn under cfg's backoff schedule. Context
// cancellation wins immediately, both before an attempt and while
// sleeping between attempts.
func DownloadWithRetry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if attempt >= cfg.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return fmt.Errorf("embed: failed after %d retries: %w", cfg.MaxRetries, lastErr)
}
