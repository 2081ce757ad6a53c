package domain

import "time"

// TradeRecord is one persisted order placement, simulated or live. Records
// are never deleted; later state is expressed through Status updates.
type TradeRecord struct {
	ID         string
	Symbol     string
	Side       Side
	OrderType  OrderType
	Quantity   float64
	Price      float64
	OrderID    string
	Status     OrderStatus
	StrategyID string
	Venue      string
	Simulated  bool
	CreatedAt  time.Time
	ExecutedAt *time.Time
}

// TradeResult is the synchronous outcome of one ProcessSignal call. Exactly
// one of the executed / queued / simulated / failed paths populates it.
type TradeResult struct {
	Success   bool
	Simulated bool
	Queued    bool
	// PendingID is set when the signal was queued for confirmation.
	PendingID        string
	EntryOrder       *OrderResponse
	StopOrder        *OrderResponse
	TakeProfitOrders []OrderResponse
	Quantity         float64
	// Reason carries the human-readable cause on failure, or a short
	// description of what happened on success.
	Reason string
}

// Failure builds a failed result with the given reason.
func Failure(reason string) TradeResult {
	return TradeResult{Success: false, Reason: reason}
}
