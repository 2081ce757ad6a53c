package domain

import (
	"context"
	"time"
)

// RateLimiter provides distributed rate limiting for outbound venue calls.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub for order and position events, and durable
// streams for inbound strategy signals.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// PriceCache stores the latest mark price per market.
type PriceCache interface {
	SetPrice(ctx context.Context, market string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, market string) (float64, time.Time, error)
	GetPrices(ctx context.Context, markets []string) (map[string]float64, error)
}

// LockManager provides distributed mutual exclusion, used to serialize
// operations that must not run twice (e.g. confirming the same queued
// signal from two operator sessions).
type LockManager interface {
	// Acquire returns an unlock function on success, or ErrLockHeld when
	// another party holds the lock.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
