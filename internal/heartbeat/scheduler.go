// Package heartbeat runs the fixed-interval supervisory loop that drives
// autonomous operation. Registered callbacks run sequentially in
// registration order on every tick; ticks never overlap.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quantfall/tradegate/internal/metrics"
)

// ErrAbortTick is the control-flow sentinel a callback returns to skip the
// remaining callbacks in the current tick. It is not treated as an error
// and is never counted toward error statistics.
var ErrAbortTick = errors.New("heartbeat: abort tick")

// Runner executes one named supervisory task. Callbacks that drive an
// engine are registered through TaskCallback so the scheduler depends only
// on this capability.
type Runner interface {
	RunTask(ctx context.Context, task string) error
}

// TaskCallback adapts a Runner task to a scheduler callback.
func TaskCallback(r Runner, task string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return r.RunTask(ctx, task)
	}
}

// Config tunes the scheduler.
type Config struct {
	// Interval is the tick period. Zero means 60s.
	Interval time.Duration
	// MaxConsecutiveErrors stops the loop entirely after this many broken
	// ticks in a row. A tick is broken only when dispatch itself fails (a
	// recovered panic); plain callback errors never count. Zero means 5.
	MaxConsecutiveErrors int
}

func (c Config) withDefaults() Config {
	if c.Interval == 0 {
		c.Interval = 60 * time.Second
	}
	if c.MaxConsecutiveErrors == 0 {
		c.MaxConsecutiveErrors = 5
	}
	return c
}

// Stats is a snapshot of the scheduler's counters.
type Stats struct {
	Running           bool
	TickCount         int64
	ErrorCount        int64
	ConsecutiveErrors int
	LastTickAt        time.Time
}

type callback struct {
	name string
	fn   func(ctx context.Context) error
}

// Scheduler is the supervisory loop. Lifecycle: stopped -> running ->
// stopped; Start while running is a warn-level no-op.
type Scheduler struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	callbacks []callback
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}

	tickCount         int64
	errorCount        int64
	consecutiveErrors int
	lastTickAt        time.Time
}

// NewScheduler creates a stopped Scheduler.
func NewScheduler(cfg Config, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cfg:    cfg.withDefaults(),
		logger: logger.With(slog.String("component", "heartbeat")),
	}
}

// Register appends a callback. Registration order is load-bearing: within a
// tick, callbacks run strictly in this order. Register must be called
// before Start.
func (s *Scheduler) Register(name string, fn func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, callback{name: name, fn: fn})
}

// Start spawns the background loop. Calling Start while already running is
// a no-op with a warning.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("start called while already running")
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	s.consecutiveErrors = 0
	done := s.done
	s.mu.Unlock()

	s.logger.Info("heartbeat started",
		slog.Duration("interval", s.cfg.Interval),
		slog.Int("callbacks", len(s.callbacks)),
	)

	go func() {
		defer close(done)
		defer func() {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}()
		s.loop(loopCtx)
	}()
}

// Stop signals termination and waits for any in-flight tick to finish. It
// is safe to call when already stopped.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("heartbeat stopped")
}

// Stats returns a snapshot of the counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Running:           s.running,
		TickCount:         s.tickCount,
		ErrorCount:        s.errorCount,
		ConsecutiveErrors: s.consecutiveErrors,
		LastTickAt:        s.lastTickAt,
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			clean := s.tick(ctx)

			s.mu.Lock()
			if clean {
				s.consecutiveErrors = 0
			} else {
				s.consecutiveErrors++
			}
			stopLoop := s.consecutiveErrors >= s.cfg.MaxConsecutiveErrors
			consec := s.consecutiveErrors
			s.mu.Unlock()

			if stopLoop {
				s.logger.Error("too many consecutive tick failures, stopping loop",
					slog.Int("consecutive_errors", consec),
					slog.Int("max", s.cfg.MaxConsecutiveErrors),
				)
				return
			}
		}
	}
}

// tick runs all callbacks once. It returns false only when dispatch itself
// broke (a recovered panic). Callback errors are logged and counted but the
// tick stays clean: one misbehaving callback must not take down the
// supervision of the others. ErrAbortTick skips the rest of the tick
// without counting as a failure.
func (s *Scheduler) tick(ctx context.Context) (clean bool) {
	s.mu.Lock()
	s.tickCount++
	s.lastTickAt = time.Now().UTC()
	tickNum := s.tickCount
	cbs := s.callbacks
	s.mu.Unlock()

	metrics.HeartbeatTicks.Inc()

	clean = true

	defer func() {
		// A panicking callback fails the tick but never kills the loop.
		if r := recover(); r != nil {
			clean = false
			s.mu.Lock()
			s.errorCount++
			s.mu.Unlock()
			metrics.HeartbeatErrors.Inc()
			s.logger.Error("tick panic recovered",
				slog.Int64("tick", tickNum),
				slog.String("panic", fmt.Sprint(r)),
			)
		}
	}()

	for _, cb := range cbs {
		if ctx.Err() != nil {
			return clean
		}

		err := cb.fn(ctx)
		if err == nil {
			continue
		}
		if errors.Is(err, ErrAbortTick) {
			s.logger.Info("tick aborted",
				slog.Int64("tick", tickNum),
				slog.String("callback", cb.name),
			)
			return clean
		}

		s.mu.Lock()
		s.errorCount++
		s.mu.Unlock()
		metrics.HeartbeatErrors.Inc()
		s.logger.Error("callback failed",
			slog.Int64("tick", tickNum),
			slog.String("callback", cb.name),
			slog.String("error", err.Error()),
		)
	}
	return clean
}
