package domain

import "time"

// PendingStatus tracks the confirmation lifecycle of a queued signal.
// Transitions are one-directional: a signal never returns to PENDING.
type PendingStatus string

const (
	PendingStatusPending   PendingStatus = "PENDING"
	PendingStatusConfirmed PendingStatus = "CONFIRMED"
	PendingStatusRejected  PendingStatus = "REJECTED"
	PendingStatusExpired   PendingStatus = "EXPIRED"
	PendingStatusFailed    PendingStatus = "FAILED"
)

// PendingSignal is a persisted order intent awaiting human confirmation in
// semi-auto mode.
type PendingSignal struct {
	ID         string
	Symbol     string
	StrategyID string
	Signal     StrategySignal
	Status     PendingStatus
	CreatedAt  time.Time
	ExpiresAt  *time.Time
	ExecutedAt *time.Time
}
