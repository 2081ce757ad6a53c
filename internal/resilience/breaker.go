package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker is open. Callers must not
// confuse it with a remote failure: the wrapped operation was never called.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the breaker's position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes the circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit. Zero means the default of 5.
	FailureThreshold int
	// ResetTimeout is how long the circuit stays open before letting a
	// single probe through. Zero means 60s.
	ResetTimeout time.Duration
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.ResetTimeout == 0 {
		c.ResetTimeout = 60 * time.Second
	}
	return c
}

// Breaker fails fast once a remote dependency has failed FailureThreshold
// times in a row. After ResetTimeout exactly one probe call is let through:
// success closes the circuit, failure reopens it. State is mutex-guarded
// for concurrent callers.
type Breaker struct {
	cfg    BreakerConfig
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool

	// now is injectable for reset-timeout tests.
	now func() time.Time
}

// NewBreaker creates a closed Breaker with the given policy.
func NewBreaker(cfg BreakerConfig, logger *slog.Logger) *Breaker {
	return &Breaker{
		cfg:    cfg.withDefaults(),
		logger: logger.With(slog.String("component", "breaker")),
		now:    time.Now,
	}
}

// State returns the breaker's current position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Do runs op under the breaker. While open it returns ErrCircuitOpen
// without invoking op.
func (b *Breaker) Do(ctx context.Context, op Op) error {
	if err := b.before(); err != nil {
		return err
	}

	err := op(ctx)
	b.after(err)
	return err
}

// before admits or rejects a call and claims the half-open probe slot.
func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			return ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.probing = true
		b.logger.Info("circuit half-open, probing")
		return nil
	case StateHalfOpen:
		if b.probing {
			// A probe is already in flight; only one call may test the
			// dependency.
			return ErrCircuitOpen
		}
		b.probing = true
		return nil
	}
	return nil
}

// after records the call outcome and moves the state machine.
func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.probing = false
		if err != nil {
			b.state = StateOpen
			b.openedAt = b.now()
			b.logger.Warn("probe failed, circuit reopened",
				slog.String("error", err.Error()),
			)
			return
		}
		b.state = StateClosed
		b.failures = 0
		b.logger.Info("probe succeeded, circuit closed")
		return
	}

	if err != nil {
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.state = StateOpen
			b.openedAt = b.now()
			b.logger.Error("circuit opened",
				slog.Int("consecutive_failures", b.failures),
				slog.Duration("reset_timeout", b.cfg.ResetTimeout),
			)
		}
		return
	}
	b.failures = 0
}

// BreakerDo runs a value-returning operation through b.
func BreakerDo[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := b.Do(ctx, func(ctx context.Context) error {
		var opErr error
		out, opErr = fn(ctx)
		return opErr
	})
	return out, err
}
