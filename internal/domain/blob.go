package domain

import (
	"context"
	"time"
)

// BlobWriter persists trade history snapshots to object storage as
// newline-delimited JSON, one object per trade.
type BlobWriter interface {
	PutTrades(ctx context.Context, path string, trades []TradeRecord) error
}

// Archiver moves aged trade history from the database to cold storage.
type Archiver interface {
	ArchiveTrades(ctx context.Context, before time.Time) (int64, error)
}
