package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TradeStore persists order placements.
type TradeStore interface {
	Create(ctx context.Context, rec TradeRecord) error
	UpdateStatus(ctx context.Context, id string, status OrderStatus, executedAt *time.Time) error
	GetByID(ctx context.Context, id string) (TradeRecord, error)
	ListBySymbol(ctx context.Context, symbol string, opts ListOpts) ([]TradeRecord, error)
	// ListBefore and DeleteBefore support cold-storage archival.
	ListBefore(ctx context.Context, before time.Time) ([]TradeRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// PendingSignalStore persists queued signals awaiting confirmation.
type PendingSignalStore interface {
	Create(ctx context.Context, ps PendingSignal) error
	GetByID(ctx context.Context, id string) (PendingSignal, error)
	UpdateStatus(ctx context.Context, id string, status PendingStatus, executedAt *time.Time) error
	ListByStatus(ctx context.Context, status PendingStatus) ([]PendingSignal, error)
}

// AuditEntry is one row of the append-only audit log.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore records operator-relevant events.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
