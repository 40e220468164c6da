package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// PermanentError marks an error as not worth retrying — a 4xx-equivalent
// client error the classifier has already decided WC/Scheduler/Proxy should
// propagate immediately rather than spend a backoff window on.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so Do stops retrying immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// RetryConfig is the transient-error backoff policy the Workspace
// Controller applies to Runtime calls (spec §7): exponential with jitter,
// bounded by attempt count only; there is no elapsed-time bound.
type RetryConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		MaxAttempts:  3,
	}
}

// Do runs fn with exponential backoff, 50%-150% jitter on each delay, until
// it succeeds, returns a PermanentError, or exhausts MaxAttempts.
func Do(ctx context.Context, cfg RetryConfig, operation string, fn func(ctx context.Context) error) error {
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = DefaultRetryConfig().InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultRetryConfig().MaxDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultRetryConfig().MaxAttempts
	}

	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		var permErr *PermanentError
		if errors.As(err, &permErr) {
			return permErr.Err
		}
		lastErr = err

		if attempt == cfg.MaxAttempts {
			break
		}

		jittered := time.Duration(float64(delay) * (0.5 + rand.Float64()))
		timer := time.NewTimer(jittered)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: cancelled during retry: %w", operation, ctx.Err())
		case <-timer.C:
		}
		delay = time.Duration(math.Min(float64(delay*2), float64(cfg.MaxDelay)))
	}
	return fmt.Errorf("%s: exhausted %d attempts: %w", operation, cfg.MaxAttempts, lastErr)
}
