// Package resilience provides the two composable wrappers used around every
// outbound venue call: bounded retry with exponential backoff, and a
// three-state circuit breaker. Both wrap the single remote-call signature
// func(ctx) error and may be nested in either order.
package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jpillora/backoff"

	"github.com/quantfall/tradegate/internal/domain"
)

// Op is the remote-call signature both wrappers operate on.
type Op func(ctx context.Context) error

// RetryConfig tunes the retry wrapper.
type RetryConfig struct {
	// MaxAttempts is the total number of tries, including the first. Zero
	// means the default of 3.
	MaxAttempts int
	// BaseDelay is the first backoff interval. Zero means 500ms.
	BaseDelay time.Duration
	// MaxDelay caps the backoff. Zero means 30s.
	MaxDelay time.Duration
	// Multiplier is the backoff growth factor. Zero means 2.0.
	Multiplier float64
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Multiplier == 0 {
		c.Multiplier = 2.0
	}
	return c
}

// Retry re-runs an operation on transient failures with exponential
// backoff. Non-transient errors (auth, validation) are surfaced
// immediately; on exhaustion the last error is returned.
type Retry struct {
	cfg    RetryConfig
	logger *slog.Logger

	// retryable classifies errors; defaults to domain.IsTransient.
	retryable func(error) bool
}

// NewRetry creates a Retry with the given policy.
func NewRetry(cfg RetryConfig, logger *slog.Logger) *Retry {
	return &Retry{
		cfg:       cfg.withDefaults(),
		logger:    logger.With(slog.String("component", "retry")),
		retryable: domain.IsTransient,
	}
}

// Do runs op, retrying transient failures up to MaxAttempts total tries.
func (r *Retry) Do(ctx context.Context, op Op) error {
	b := &backoff.Backoff{
		Min:    r.cfg.BaseDelay,
		Max:    r.cfg.MaxDelay,
		Factor: r.cfg.Multiplier,
		Jitter: false,
	}

	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !r.retryable(lastErr) {
			return lastErr
		}
		if attempt == r.cfg.MaxAttempts {
			break
		}

		delay := b.Duration()
		r.logger.WarnContext(ctx, "transient failure, backing off",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", r.cfg.MaxAttempts),
			slog.Duration("delay", delay),
			slog.String("error", lastErr.Error()),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("resilience: retry interrupted: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("resilience: %d attempts exhausted: %w", r.cfg.MaxAttempts, lastErr)
}

// RetryDo runs a value-returning operation through r.
func RetryDo[T any](ctx context.Context, r *Retry, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, func(ctx context.Context) error {
		var opErr error
		out, opErr = fn(ctx)
		return opErr
	})
	return out, err
}
