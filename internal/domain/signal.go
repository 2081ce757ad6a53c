package domain

import (
	"fmt"
	"time"
)

// Side indicates the direction of a signal or order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the inverse side, used when building protective legs.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// PositionSide denotes directional exposure on venues with hedge-mode
// position accounting.
type PositionSide string

const (
	PositionSideLong  PositionSide = "LONG"
	PositionSideShort PositionSide = "SHORT"
	PositionSideBoth  PositionSide = "BOTH"
)

// PositionSideFor maps an entry side to the exposure it opens.
func PositionSideFor(s Side) PositionSide {
	if s == SideBuy {
		return PositionSideLong
	}
	return PositionSideShort
}

// StrategySignal is a trade recommendation produced by an external signal
// generator. It is consumed once by the engine and never mutated.
type StrategySignal struct {
	Action      Side    `json:"action"`
	Entry       float64 `json:"entry"`
	StopLoss    float64 `json:"stop_loss"`
	TakeProfit1 float64 `json:"take_profit_1"`
	TakeProfit2 float64 `json:"take_profit_2"`
	// PositionSize is an explicit size override from the strategy; zero means
	// the engine computes the size itself.
	PositionSize float64 `json:"position_size,omitempty"`
	Confidence   float64 `json:"confidence"`
	Reason       string  `json:"reason,omitempty"`
	// ATR is the average true range at signal time; zero means unavailable.
	ATR       float64   `json:"atr,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the structural invariants of a signal: the stop must not
// equal the entry, confidence must be in [0,1], and the stop/entry/target
// ladder must be ordered for the signal's direction.
func (s StrategySignal) Validate() error {
	if s.Action != SideBuy && s.Action != SideSell {
		return fmt.Errorf("signal: unknown action %q", s.Action)
	}
	if s.Entry <= 0 {
		return fmt.Errorf("signal: entry must be positive, got %v", s.Entry)
	}
	if s.StopLoss == s.Entry {
		return fmt.Errorf("signal: stop loss equals entry %v", s.Entry)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("signal: confidence %v outside [0,1]", s.Confidence)
	}

	if s.TakeProfit1 == 0 && s.TakeProfit2 == 0 {
		// Targets may be omitted; the engine fills them from the bracket policy.
		return nil
	}

	switch s.Action {
	case SideBuy:
		if !(s.StopLoss < s.Entry && s.Entry < s.TakeProfit1 && s.TakeProfit1 < s.TakeProfit2) {
			return fmt.Errorf("signal: BUY levels must satisfy stop < entry < tp1 < tp2 (stop=%v entry=%v tp1=%v tp2=%v)",
				s.StopLoss, s.Entry, s.TakeProfit1, s.TakeProfit2)
		}
	case SideSell:
		if !(s.StopLoss > s.Entry && s.Entry > s.TakeProfit1 && s.TakeProfit1 > s.TakeProfit2) {
			return fmt.Errorf("signal: SELL levels must satisfy stop > entry > tp1 > tp2 (stop=%v entry=%v tp1=%v tp2=%v)",
				s.StopLoss, s.Entry, s.TakeProfit1, s.TakeProfit2)
		}
	}
	return nil
}
