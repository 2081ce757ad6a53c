// Package engine implements the mode state machine that turns a strategy
// signal into zero or more orders: paper simulation, queue-for-confirmation,
// or live bracket execution through the risk manager.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantfall/tradegate/internal/domain"
	"github.com/quantfall/tradegate/internal/metrics"
	"github.com/quantfall/tradegate/internal/risk"
)

// OrderPlacer is the slice of the order service the engine drives.
type OrderPlacer interface {
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	PlaceMarketOrder(ctx context.Context, symbol string, side domain.Side, posSide domain.PositionSide, quantity float64, strategyID string) (domain.OrderResponse, error)
	PlaceStopLoss(ctx context.Context, symbol string, side domain.Side, posSide domain.PositionSide, quantity, stopPrice float64, strategyID string) (domain.OrderResponse, error)
	PlaceTakeProfit(ctx context.Context, symbol string, side domain.Side, posSide domain.PositionSide, quantity, stopPrice float64, strategyID string) (domain.OrderResponse, error)
	RecordSimulated(ctx context.Context, resp domain.OrderResponse, strategyID string) error
}

// PositionCloser is the slice of the position service the engine drives.
type PositionCloser interface {
	ClosePartial(ctx context.Context, symbol string, percentage float64) error
}

// AccountReader provides the balance and position queries of the live
// execution path.
type AccountReader interface {
	Balances(ctx context.Context) ([]domain.AssetBalance, error)
	Positions(ctx context.Context, symbol string) ([]domain.Position, error)
}

// Alerter delivers operator notifications. May be nil.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Config holds the engine's runtime parameters.
type Config struct {
	Mode     domain.Mode
	Leverage int
	// QuoteAsset is the balance asset used for sizing. Empty means "USDT".
	QuoteAsset string
	// PaperBalance is the notional account used for paper-mode sizing. Zero
	// means 10000.
	PaperBalance float64
	// PendingTTL is how long a queued signal stays confirmable. Zero means
	// 24h.
	PendingTTL time.Duration
	// ATRMultiplier tunes ATR-based sizing. Zero means the risk manager's
	// default.
	ATRMultiplier float64
}

func (c Config) withDefaults() Config {
	if c.QuoteAsset == "" {
		c.QuoteAsset = "USDT"
	}
	if c.PaperBalance == 0 {
		c.PaperBalance = 10_000
	}
	if c.PendingTTL == 0 {
		c.PendingTTL = 24 * time.Hour
	}
	if c.Leverage == 0 {
		c.Leverage = 1
	}
	return c
}

// Engine is the risk-gated trading engine. Mode and leverage are mutable at
// runtime under a mutex; everything else is fixed at construction.
type Engine struct {
	risk      *risk.Manager
	policy    risk.BracketPolicy
	orders    OrderPlacer
	positions PositionCloser
	account   AccountReader
	pending   domain.PendingSignalStore
	locks     domain.LockManager
	alerter   Alerter
	logger    *slog.Logger

	quoteAsset    string
	paperBalance  float64
	pendingTTL    time.Duration
	atrMultiplier float64

	mu       sync.Mutex
	mode     domain.Mode
	leverage int
}

// New creates an Engine. The alerter may be nil when notifications are not
// configured.
func New(
	cfg Config,
	riskMgr *risk.Manager,
	policy risk.BracketPolicy,
	orders OrderPlacer,
	positions PositionCloser,
	account AccountReader,
	pending domain.PendingSignalStore,
	locks domain.LockManager,
	alerter Alerter,
	logger *slog.Logger,
) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		risk:          riskMgr,
		policy:        policy,
		orders:        orders,
		positions:     positions,
		account:       account,
		pending:       pending,
		locks:         locks,
		alerter:       alerter,
		logger:        logger.With(slog.String("component", "engine")),
		quoteAsset:    cfg.QuoteAsset,
		paperBalance:  cfg.PaperBalance,
		pendingTTL:    cfg.PendingTTL,
		atrMultiplier: cfg.ATRMultiplier,
		mode:          cfg.Mode,
		leverage:      cfg.Leverage,
	}
}

// Mode returns the current operating mode.
func (e *Engine) Mode() domain.Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// SetMode switches the operating mode at runtime.
func (e *Engine) SetMode(mode domain.Mode) error {
	if _, err := domain.ParseMode(string(mode)); err != nil {
		return err
	}
	e.mu.Lock()
	old := e.mode
	e.mode = mode
	e.mu.Unlock()
	e.logger.Info("mode changed",
		slog.String("from", string(old)),
		slog.String("to", string(mode)),
	)
	return nil
}

// Leverage returns the leverage applied to live entries.
func (e *Engine) Leverage() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leverage
}

// SetLeverage updates the leverage used for subsequent entries. Valid range
// is 1-125.
func (e *Engine) SetLeverage(leverage int) error {
	if leverage < 1 || leverage > 125 {
		return domain.ErrInvalidLeverage
	}
	e.mu.Lock()
	e.leverage = leverage
	e.mu.Unlock()
	return nil
}

// Risk exposes the risk manager for supervisory callers (heartbeat cycles,
// the operator bot).
func (e *Engine) Risk() *risk.Manager {
	return e.risk
}

// ProcessSignal runs a signal through the mode state machine. Failures are
// structured results, never panics or raw errors: one bad signal must not
// crash the engine.
func (e *Engine) ProcessSignal(ctx context.Context, sig domain.StrategySignal, symbol, strategyID string) domain.TradeResult {
	if err := sig.Validate(); err != nil {
		metrics.SignalsProcessed.WithLabelValues("failed").Inc()
		return domain.Failure(err.Error())
	}

	switch e.Mode() {
	case domain.ModePaper:
		res := e.simulate(ctx, sig, symbol, strategyID)
		metrics.SignalsProcessed.WithLabelValues(outcome(res)).Inc()
		return res
	case domain.ModeSemiAuto:
		res := e.queue(ctx, sig, symbol, strategyID)
		metrics.SignalsProcessed.WithLabelValues(outcome(res)).Inc()
		return res
	case domain.ModeAuto:
		res := e.executeLive(ctx, sig, symbol, strategyID)
		metrics.SignalsProcessed.WithLabelValues(outcome(res)).Inc()
		return res
	default:
		metrics.SignalsProcessed.WithLabelValues("failed").Inc()
		return domain.Failure(fmt.Sprintf("unknown mode %q", e.Mode()))
	}
}

func outcome(res domain.TradeResult) string {
	switch {
	case res.Simulated:
		return "simulated"
	case res.Queued:
		return "queued"
	case res.Success:
		return "executed"
	default:
		return "failed"
	}
}

// simulate fabricates a complete bracket with synthetic order IDs and
// persists it tagged as simulated. The venue is never called.
func (e *Engine) simulate(ctx context.Context, sig domain.StrategySignal, symbol, strategyID string) domain.TradeResult {
	quantity := sig.PositionSize
	if quantity == 0 {
		quantity = e.risk.PositionSize(e.paperBalance, sig.Entry, sig.StopLoss)
	}
	if quantity <= 0 {
		return domain.Failure("paper: computed position size is zero")
	}

	tp1, tp2 := e.targets(sig)
	half := quantity / 2
	now := time.Now().UTC()
	posSide := domain.PositionSideFor(sig.Action)

	entry := domain.OrderResponse{
		OrderID:      "PAPER_" + uuid.NewString(),
		Symbol:       symbol,
		Side:         sig.Action,
		PositionSide: posSide,
		Type:         domain.OrderTypeMarket,
		Status:       domain.OrderStatusFilled,
		Quantity:     quantity,
		AvgFillPrice: sig.Entry,
		Simulated:    true,
		CreatedAt:    now,
	}
	stop := domain.OrderResponse{
		OrderID:      "PAPER_SL_" + uuid.NewString(),
		Symbol:       symbol,
		Side:         sig.Action.Opposite(),
		PositionSide: posSide,
		Type:         domain.OrderTypeStopMarket,
		Status:       domain.OrderStatusNew,
		Quantity:     quantity,
		Price:        sig.StopLoss,
		Simulated:    true,
		CreatedAt:    now,
	}
	takeProfit1 := domain.OrderResponse{
		OrderID:      "PAPER_TP1_" + uuid.NewString(),
		Symbol:       symbol,
		Side:         sig.Action.Opposite(),
		PositionSide: posSide,
		Type:         domain.OrderTypeTakeProfitMarket,
		Status:       domain.OrderStatusNew,
		Quantity:     half,
		Price:        tp1,
		Simulated:    true,
		CreatedAt:    now,
	}
	takeProfit2 := domain.OrderResponse{
		OrderID:      "PAPER_TP2_" + uuid.NewString(),
		Symbol:       symbol,
		Side:         sig.Action.Opposite(),
		PositionSide: posSide,
		Type:         domain.OrderTypeTakeProfitMarket,
		Status:       domain.OrderStatusNew,
		Quantity:     quantity - half,
		Price:        tp2,
		Simulated:    true,
		CreatedAt:    now,
	}

	for _, resp := range []domain.OrderResponse{entry, stop, takeProfit1, takeProfit2} {
		if err := e.orders.RecordSimulated(ctx, resp, strategyID); err != nil {
			return domain.Failure(fmt.Sprintf("paper: %v", err))
		}
	}

	e.logger.InfoContext(ctx, "signal simulated",
		slog.String("symbol", symbol),
		slog.String("side", string(sig.Action)),
		slog.Float64("quantity", quantity),
		slog.Float64("entry", sig.Entry),
	)

	return domain.TradeResult{
		Success:          true,
		Simulated:        true,
		EntryOrder:       &entry,
		StopOrder:        &stop,
		TakeProfitOrders: []domain.OrderResponse{takeProfit1, takeProfit2},
		Quantity:         quantity,
		Reason:           "simulated",
	}
}

// queue persists the signal as PENDING for human confirmation. No exchange
// call is made.
func (e *Engine) queue(ctx context.Context, sig domain.StrategySignal, symbol, strategyID string) domain.TradeResult {
	now := time.Now().UTC()
	expires := now.Add(e.pendingTTL)
	ps := domain.PendingSignal{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		StrategyID: strategyID,
		Signal:     sig,
		Status:     domain.PendingStatusPending,
		CreatedAt:  now,
		ExpiresAt:  &expires,
	}

	if err := e.pending.Create(ctx, ps); err != nil {
		return domain.Failure(fmt.Sprintf("queue pending signal: %v", err))
	}

	e.logger.InfoContext(ctx, "signal queued for confirmation",
		slog.String("pending_id", ps.ID),
		slog.String("symbol", symbol),
		slog.String("side", string(sig.Action)),
	)
	e.notify(ctx, "signal_queued", "Signal awaiting confirmation",
		fmt.Sprintf("%s %s @ %.4f (stop %.4f)\nid: %s", sig.Action, symbol, sig.Entry, sig.StopLoss, ps.ID))

	return domain.TradeResult{
		Success:   true,
		Queued:    true,
		PendingID: ps.ID,
		Reason:    "queued for confirmation",
	}
}

// ConfirmPendingSignal re-hydrates a queued signal and dispatches it
// through the live path. The pending record moves to CONFIRMED or FAILED
// based on the execution outcome; it never returns to PENDING.
func (e *Engine) ConfirmPendingSignal(ctx context.Context, id string) domain.TradeResult {
	// Two operator sessions confirming the same signal must not both
	// execute it.
	if e.locks != nil {
		unlock, err := e.locks.Acquire(ctx, "pending:"+id, 30*time.Second)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				return domain.Failure(fmt.Sprintf("signal %s is being confirmed elsewhere", id))
			}
			return domain.Failure(fmt.Sprintf("lock pending signal: %v", err))
		}
		defer unlock()
	}

	ps, err := e.pending.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Failure(fmt.Sprintf("pending signal %s not found", id))
		}
		return domain.Failure(fmt.Sprintf("load pending signal: %v", err))
	}
	if ps.Status != domain.PendingStatusPending {
		return domain.Failure(fmt.Sprintf("signal %s is not pending (status %s)", id, ps.Status))
	}
	if ps.ExpiresAt != nil && time.Now().After(*ps.ExpiresAt) {
		_ = e.pending.UpdateStatus(ctx, id, domain.PendingStatusExpired, nil)
		return domain.Failure(fmt.Sprintf("signal %s expired", id))
	}

	res := e.executeLive(ctx, ps.Signal, ps.Symbol, ps.StrategyID)

	status := domain.PendingStatusConfirmed
	var executedAt *time.Time
	if res.Success {
		now := time.Now().UTC()
		executedAt = &now
	} else {
		status = domain.PendingStatusFailed
	}
	if updErr := e.pending.UpdateStatus(ctx, id, status, executedAt); updErr != nil {
		e.logger.ErrorContext(ctx, "pending status update failed",
			slog.String("pending_id", id),
			slog.String("status", string(status)),
			slog.String("error", updErr.Error()),
		)
	}
	return res
}

// RejectPendingSignal marks a queued signal REJECTED. Rejecting a
// non-pending signal returns ErrNotPending.
func (e *Engine) RejectPendingSignal(ctx context.Context, id string) error {
	ps, err := e.pending.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("engine: load pending signal %s: %w", id, err)
	}
	if ps.Status != domain.PendingStatusPending {
		return fmt.Errorf("engine: reject %s: %w", id, domain.ErrNotPending)
	}
	if err := e.pending.UpdateStatus(ctx, id, domain.PendingStatusRejected, nil); err != nil {
		return fmt.Errorf("engine: reject pending signal %s: %w", id, err)
	}
	e.logger.InfoContext(ctx, "pending signal rejected", slog.String("pending_id", id))
	return nil
}

// PendingSignals lists the signals still awaiting confirmation.
func (e *Engine) PendingSignals(ctx context.Context) ([]domain.PendingSignal, error) {
	list, err := e.pending.ListByStatus(ctx, domain.PendingStatusPending)
	if err != nil {
		return nil, fmt.Errorf("engine: list pending signals: %w", err)
	}
	return list, nil
}

// executeLive places the full bracket: leverage, balance and position
// fetch, sizing, risk validation, then entry / stop / two take-profits.
// Any failure aborts the remainder and reports it; already-placed legs are
// left in place and were persisted as they succeeded, so the operator can
// reconcile.
func (e *Engine) executeLive(ctx context.Context, sig domain.StrategySignal, symbol, strategyID string) domain.TradeResult {
	leverage := e.Leverage()
	if err := e.orders.SetLeverage(ctx, symbol, leverage); err != nil {
		return domain.Failure(fmt.Sprintf("set leverage: %v", err))
	}

	balance, err := e.quoteBalance(ctx)
	if err != nil {
		return domain.Failure(fmt.Sprintf("fetch balance: %v", err))
	}

	if status := e.risk.CheckKillSwitch(balance); status.Active {
		metrics.KillSwitchActive.Set(1)
		e.notify(ctx, "kill_switch", "Kill switch active",
			fmt.Sprintf("trading suspended, %.1fh remaining", status.HoursRemaining))
		return domain.Failure(fmt.Sprintf("kill switch active (%.1fh remaining)", status.HoursRemaining))
	}
	metrics.KillSwitchActive.Set(0)

	positions, err := e.account.Positions(ctx, "")
	if err != nil {
		return domain.Failure(fmt.Sprintf("fetch positions: %v", err))
	}
	openCount := 0
	for _, p := range positions {
		if p.Open() {
			openCount++
		}
	}

	// Sizing preference: explicit signal size, then ATR-based, then
	// stop-distance-based.
	quantity := sig.PositionSize
	if quantity == 0 && sig.ATR > 0 {
		quantity = e.risk.ATRPositionSize(balance, sig.ATR, e.atrMultiplier)
	}
	if quantity == 0 {
		quantity = e.risk.PositionSize(balance, sig.Entry, sig.StopLoss)
	}
	if quantity <= 0 {
		return domain.Failure("computed position size is zero")
	}

	if v := e.risk.ValidateOrder(risk.OrderCheck{
		Symbol:   symbol,
		Quantity: quantity,
		Price:    sig.Entry,
	}, balance, openCount); !v.OK {
		return domain.Failure(fmt.Sprintf("risk check %s: %s", v.Rule, v.Message))
	}

	posSide := domain.PositionSideFor(sig.Action)
	result := domain.TradeResult{Quantity: quantity}

	entry, err := e.orders.PlaceMarketOrder(ctx, symbol, sig.Action, posSide, quantity, strategyID)
	if err != nil {
		result.Reason = fmt.Sprintf("entry order: %v", err)
		return result
	}
	result.EntryOrder = &entry

	stop, err := e.orders.PlaceStopLoss(ctx, symbol, sig.Action.Opposite(), posSide, quantity, sig.StopLoss, strategyID)
	if err != nil {
		result.Reason = fmt.Sprintf("stop-loss order: %v (entry %s already placed)", err, entry.OrderID)
		return result
	}
	result.StopOrder = &stop

	// The bracket splits the position 50/50; the second target's quantity is
	// the remainder so rounding never leaks size.
	tp1Price, tp2Price := e.targets(sig)
	half := quantity / 2

	tp1, err := e.orders.PlaceTakeProfit(ctx, symbol, sig.Action.Opposite(), posSide, half, tp1Price, strategyID)
	if err != nil {
		result.Reason = fmt.Sprintf("take-profit 1: %v (entry %s and stop %s already placed)", err, entry.OrderID, stop.OrderID)
		return result
	}
	result.TakeProfitOrders = append(result.TakeProfitOrders, tp1)

	tp2, err := e.orders.PlaceTakeProfit(ctx, symbol, sig.Action.Opposite(), posSide, quantity-half, tp2Price, strategyID)
	if err != nil {
		result.Reason = fmt.Sprintf("take-profit 2: %v (3 legs already placed)", err)
		return result
	}
	result.TakeProfitOrders = append(result.TakeProfitOrders, tp2)

	result.Success = true
	result.Reason = "executed"

	e.logger.InfoContext(ctx, "bracket executed",
		slog.String("symbol", symbol),
		slog.String("side", string(sig.Action)),
		slog.Float64("quantity", quantity),
		slog.Float64("entry", sig.Entry),
		slog.Float64("stop", sig.StopLoss),
		slog.Float64("tp1", tp1Price),
		slog.Float64("tp2", tp2Price),
	)
	e.notify(ctx, "trade_executed", "Trade executed",
		fmt.Sprintf("%s %s qty %.6f @ %.4f, stop %.4f, targets %.4f / %.4f",
			sig.Action, symbol, quantity, sig.Entry, sig.StopLoss, tp1Price, tp2Price))

	return result
}

// CloseWithProfit closes the given percentage of the symbol's position. In
// paper mode this is a no-op success.
func (e *Engine) CloseWithProfit(ctx context.Context, symbol string, percentage float64) error {
	if e.Mode() == domain.ModePaper {
		e.logger.InfoContext(ctx, "paper mode, close is a no-op",
			slog.String("symbol", symbol),
			slog.Float64("percentage", percentage),
		)
		return nil
	}
	return e.positions.ClosePartial(ctx, symbol, percentage)
}

// targets resolves the take-profit ladder: explicit signal targets win,
// otherwise the venue's bracket policy fills them in.
func (e *Engine) targets(sig domain.StrategySignal) (float64, float64) {
	if sig.TakeProfit1 != 0 && sig.TakeProfit2 != 0 {
		return sig.TakeProfit1, sig.TakeProfit2
	}
	return e.policy.Levels(sig.Entry, sig.StopLoss, sig.Action)
}

// quoteBalance returns the free balance of the configured quote asset.
func (e *Engine) quoteBalance(ctx context.Context) (float64, error) {
	balances, err := e.account.Balances(ctx)
	if err != nil {
		return 0, err
	}
	for _, b := range balances {
		if b.Asset == e.quoteAsset {
			return b.Free, nil
		}
	}
	return 0, fmt.Errorf("no %s balance on account", e.quoteAsset)
}

func (e *Engine) notify(ctx context.Context, event, title, message string) {
	if e.alerter == nil {
		return
	}
	if err := e.alerter.Notify(ctx, event, title, message); err != nil {
		e.logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
