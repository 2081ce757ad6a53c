package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/quantfall/tradegate/internal/domain"
	"github.com/quantfall/tradegate/internal/risk"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeOrders struct {
	simulated []domain.OrderResponse
	placed    []domain.OrderRequest
	leverage  map[string]int

	// failOn aborts the matching placement with an error: "entry", "stop",
	// "tp1", "tp2".
	failOn string
	tpSeen int
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{leverage: map[string]int{}}
}

func (f *fakeOrders) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	f.leverage[symbol] = leverage
	return nil
}

func (f *fakeOrders) PlaceMarketOrder(ctx context.Context, symbol string, side domain.Side, posSide domain.PositionSide, quantity float64, strategyID string) (domain.OrderResponse, error) {
	if f.failOn == "entry" {
		return domain.OrderResponse{}, errors.New("entry rejected")
	}
	f.placed = append(f.placed, domain.OrderRequest{
		Symbol: symbol, Side: side, PositionSide: posSide,
		Type: domain.OrderTypeMarket, Quantity: quantity,
	})
	return domain.OrderResponse{
		OrderID: fmt.Sprintf("E%d", len(f.placed)), Symbol: symbol,
		Side: side, Type: domain.OrderTypeMarket,
		Status: domain.OrderStatusFilled, Quantity: quantity,
	}, nil
}

func (f *fakeOrders) PlaceStopLoss(ctx context.Context, symbol string, side domain.Side, posSide domain.PositionSide, quantity, stopPrice float64, strategyID string) (domain.OrderResponse, error) {
	if f.failOn == "stop" {
		return domain.OrderResponse{}, errors.New("stop rejected")
	}
	f.placed = append(f.placed, domain.OrderRequest{
		Symbol: symbol, Side: side, PositionSide: posSide,
		Type: domain.OrderTypeStopMarket, Quantity: quantity, StopPrice: stopPrice,
	})
	return domain.OrderResponse{
		OrderID: fmt.Sprintf("S%d", len(f.placed)), Symbol: symbol,
		Side: side, Type: domain.OrderTypeStopMarket,
		Status: domain.OrderStatusNew, Quantity: quantity,
	}, nil
}

func (f *fakeOrders) PlaceTakeProfit(ctx context.Context, symbol string, side domain.Side, posSide domain.PositionSide, quantity, stopPrice float64, strategyID string) (domain.OrderResponse, error) {
	f.tpSeen++
	if (f.failOn == "tp1" && f.tpSeen == 1) || (f.failOn == "tp2" && f.tpSeen == 2) {
		return domain.OrderResponse{}, errors.New("take profit rejected")
	}
	f.placed = append(f.placed, domain.OrderRequest{
		Symbol: symbol, Side: side, PositionSide: posSide,
		Type: domain.OrderTypeTakeProfitMarket, Quantity: quantity, StopPrice: stopPrice,
	})
	return domain.OrderResponse{
		OrderID: fmt.Sprintf("T%d", len(f.placed)), Symbol: symbol,
		Side: side, Type: domain.OrderTypeTakeProfitMarket,
		Status: domain.OrderStatusNew, Quantity: quantity,
	}, nil
}

func (f *fakeOrders) RecordSimulated(ctx context.Context, resp domain.OrderResponse, strategyID string) error {
	f.simulated = append(f.simulated, resp)
	return nil
}

type fakePositions struct {
	closed []string
}

func (f *fakePositions) ClosePartial(ctx context.Context, symbol string, percentage float64) error {
	f.closed = append(f.closed, fmt.Sprintf("%s:%.0f", symbol, percentage))
	return nil
}

type fakeAccount struct {
	balance   float64
	positions []domain.Position
}

func (f *fakeAccount) Balances(ctx context.Context) ([]domain.AssetBalance, error) {
	return []domain.AssetBalance{{Asset: "USDT", Free: f.balance}}, nil
}

func (f *fakeAccount) Positions(ctx context.Context, symbol string) ([]domain.Position, error) {
	return f.positions, nil
}

type fakePendingStore struct {
	signals map[string]domain.PendingSignal
}

func newFakePendingStore() *fakePendingStore {
	return &fakePendingStore{signals: map[string]domain.PendingSignal{}}
}

func (f *fakePendingStore) Create(ctx context.Context, ps domain.PendingSignal) error {
	f.signals[ps.ID] = ps
	return nil
}

func (f *fakePendingStore) GetByID(ctx context.Context, id string) (domain.PendingSignal, error) {
	ps, ok := f.signals[id]
	if !ok {
		return domain.PendingSignal{}, domain.ErrNotFound
	}
	return ps, nil
}

func (f *fakePendingStore) UpdateStatus(ctx context.Context, id string, status domain.PendingStatus, executedAt *time.Time) error {
	ps, ok := f.signals[id]
	if !ok {
		return domain.ErrNotFound
	}
	ps.Status = status
	ps.ExecutedAt = executedAt
	f.signals[id] = ps
	return nil
}

func (f *fakePendingStore) ListByStatus(ctx context.Context, status domain.PendingStatus) ([]domain.PendingSignal, error) {
	var out []domain.PendingSignal
	for _, ps := range f.signals {
		if ps.Status == status {
			out = append(out, ps)
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type harness struct {
	engine    *Engine
	orders    *fakeOrders
	positions *fakePositions
	account   *fakeAccount
	pending   *fakePendingStore
}

func newHarness(mode domain.Mode) *harness {
	h := &harness{
		orders:    newFakeOrders(),
		positions: &fakePositions{},
		account:   &fakeAccount{balance: 10000},
		pending:   newFakePendingStore(),
	}
	rm := risk.NewManager(risk.Config{
		MaxPositionPct:    50,
		MaxLeverage:       10,
		RiskPerTradePct:   2,
		DailyLossLimitUSD: 500,
		KillSwitchPct:     20,
		MaxPositions:      5,
	}, testLogger())
	h.engine = New(
		Config{Mode: mode, Leverage: 3},
		rm,
		risk.RatioPolicy{Ratio: 2},
		h.orders,
		h.positions,
		h.account,
		h.pending,
		nil, // no lock manager
		nil, // no alerter
		testLogger(),
	)
	return h
}

func buySignal() domain.StrategySignal {
	return domain.StrategySignal{
		Action:     domain.SideBuy,
		Entry:      100,
		StopLoss:   98,
		Confidence: 0.8,
		CreatedAt:  time.Now().UTC(),
	}
}

// ---------------------------------------------------------------------------
// Paper mode
// ---------------------------------------------------------------------------

func TestPaperModeNeverTouchesVenue(t *testing.T) {
	h := newHarness(domain.ModePaper)

	res := h.engine.ProcessSignal(context.Background(), buySignal(), "BTCUSDT", "strat")
	if !res.Success || !res.Simulated {
		t.Fatalf("result = %+v, want simulated success", res)
	}
	if len(h.orders.placed) != 0 {
		t.Errorf("venue placements = %d, want 0 in paper mode", len(h.orders.placed))
	}
	if len(h.orders.simulated) != 4 {
		t.Fatalf("simulated records = %d, want 4 (entry, stop, tp1, tp2)", len(h.orders.simulated))
	}

	prefixes := []string{"PAPER_", "PAPER_SL_", "PAPER_TP1_", "PAPER_TP2_"}
	for i, want := range prefixes {
		if !strings.HasPrefix(h.orders.simulated[i].OrderID, want) {
			t.Errorf("order %d ID = %q, want prefix %q", i, h.orders.simulated[i].OrderID, want)
		}
	}
	if !h.orders.simulated[0].Simulated {
		t.Error("entry record should be tagged simulated")
	}
}

func TestPaperModeBracketQuantities(t *testing.T) {
	h := newHarness(domain.ModePaper)
	sig := buySignal()
	sig.PositionSize = 3

	res := h.engine.ProcessSignal(context.Background(), sig, "BTCUSDT", "strat")
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}

	entry, stop := h.orders.simulated[0], h.orders.simulated[1]
	tp1, tp2 := h.orders.simulated[2], h.orders.simulated[3]
	if entry.Quantity != 3 || stop.Quantity != 3 {
		t.Errorf("entry/stop quantity = %v/%v, want 3/3", entry.Quantity, stop.Quantity)
	}
	if tp1.Quantity != 1.5 || tp2.Quantity != 1.5 {
		t.Errorf("tp quantities = %v/%v, want 1.5/1.5", tp1.Quantity, tp2.Quantity)
	}
	// Protective legs are on the opposite side.
	if stop.Side != domain.SideSell || tp1.Side != domain.SideSell {
		t.Errorf("protective legs side = %v/%v, want SELL", stop.Side, tp1.Side)
	}
	// Ratio policy: entry 100, stop 98, ratio 2 -> 104 and 106.
	if tp1.Price != 104 || tp2.Price != 106 {
		t.Errorf("tp prices = %v/%v, want 104/106", tp1.Price, tp2.Price)
	}
}

func TestInvalidSignalRejected(t *testing.T) {
	h := newHarness(domain.ModePaper)
	sig := buySignal()
	sig.StopLoss = sig.Entry // invalid

	res := h.engine.ProcessSignal(context.Background(), sig, "BTCUSDT", "strat")
	if res.Success {
		t.Fatal("invalid signal must fail")
	}
	if len(h.orders.simulated) != 0 {
		t.Error("invalid signal must not be recorded")
	}
}

// ---------------------------------------------------------------------------
// Semi-auto mode
// ---------------------------------------------------------------------------

func TestSemiAutoQueuesSignal(t *testing.T) {
	h := newHarness(domain.ModeSemiAuto)

	res := h.engine.ProcessSignal(context.Background(), buySignal(), "BTCUSDT", "strat")
	if !res.Success || !res.Queued || res.PendingID == "" {
		t.Fatalf("result = %+v, want queued with pending ID", res)
	}
	if len(h.orders.placed) != 0 || len(h.orders.simulated) != 0 {
		t.Error("queueing must not place or record orders")
	}

	ps, err := h.pending.GetByID(context.Background(), res.PendingID)
	if err != nil {
		t.Fatalf("pending signal not persisted: %v", err)
	}
	if ps.Status != domain.PendingStatusPending {
		t.Errorf("status = %v, want PENDING", ps.Status)
	}
	if ps.ExpiresAt == nil {
		t.Error("queued signal should carry an expiry")
	}
}

func TestConfirmPendingExecutesBracket(t *testing.T) {
	h := newHarness(domain.ModeSemiAuto)
	res := h.engine.ProcessSignal(context.Background(), buySignal(), "BTCUSDT", "strat")

	out := h.engine.ConfirmPendingSignal(context.Background(), res.PendingID)
	if !out.Success {
		t.Fatalf("confirm failed: %s", out.Reason)
	}
	if out.EntryOrder == nil || out.StopOrder == nil || len(out.TakeProfitOrders) != 2 {
		t.Fatalf("bracket incomplete: %+v", out)
	}

	ps, _ := h.pending.GetByID(context.Background(), res.PendingID)
	if ps.Status != domain.PendingStatusConfirmed {
		t.Errorf("status = %v, want CONFIRMED", ps.Status)
	}
	if ps.ExecutedAt == nil {
		t.Error("confirmed signal should record execution time")
	}
}

func TestConfirmNonPendingFails(t *testing.T) {
	h := newHarness(domain.ModeSemiAuto)
	res := h.engine.ProcessSignal(context.Background(), buySignal(), "BTCUSDT", "strat")

	if err := h.engine.RejectPendingSignal(context.Background(), res.PendingID); err != nil {
		t.Fatalf("reject failed: %v", err)
	}

	out := h.engine.ConfirmPendingSignal(context.Background(), res.PendingID)
	if out.Success {
		t.Fatal("confirming a rejected signal must fail")
	}
	if !strings.Contains(out.Reason, "not pending") {
		t.Errorf("reason = %q, want mention of not pending", out.Reason)
	}

	// The status never returns to PENDING.
	ps, _ := h.pending.GetByID(context.Background(), res.PendingID)
	if ps.Status != domain.PendingStatusRejected {
		t.Errorf("status = %v, want REJECTED", ps.Status)
	}
}

func TestConfirmExpiredSignal(t *testing.T) {
	h := newHarness(domain.ModeSemiAuto)
	res := h.engine.ProcessSignal(context.Background(), buySignal(), "BTCUSDT", "strat")

	ps := h.pending.signals[res.PendingID]
	past := time.Now().Add(-time.Minute)
	ps.ExpiresAt = &past
	h.pending.signals[res.PendingID] = ps

	out := h.engine.ConfirmPendingSignal(context.Background(), res.PendingID)
	if out.Success {
		t.Fatal("confirming an expired signal must fail")
	}
	got, _ := h.pending.GetByID(context.Background(), res.PendingID)
	if got.Status != domain.PendingStatusExpired {
		t.Errorf("status = %v, want EXPIRED", got.Status)
	}
}

func TestConfirmUnknownSignal(t *testing.T) {
	h := newHarness(domain.ModeSemiAuto)
	out := h.engine.ConfirmPendingSignal(context.Background(), "nope")
	if out.Success {
		t.Fatal("unknown ID must fail")
	}
}

func TestRejectNonPendingReturnsErrNotPending(t *testing.T) {
	h := newHarness(domain.ModeSemiAuto)
	res := h.engine.ProcessSignal(context.Background(), buySignal(), "BTCUSDT", "strat")

	_ = h.engine.RejectPendingSignal(context.Background(), res.PendingID)
	err := h.engine.RejectPendingSignal(context.Background(), res.PendingID)
	if !errors.Is(err, domain.ErrNotPending) {
		t.Errorf("error = %v, want ErrNotPending", err)
	}
}

func TestFailedExecutionMarksPendingFailed(t *testing.T) {
	h := newHarness(domain.ModeSemiAuto)
	res := h.engine.ProcessSignal(context.Background(), buySignal(), "BTCUSDT", "strat")

	h.orders.failOn = "entry"
	out := h.engine.ConfirmPendingSignal(context.Background(), res.PendingID)
	if out.Success {
		t.Fatal("confirm should fail when the entry is rejected")
	}

	ps, _ := h.pending.GetByID(context.Background(), res.PendingID)
	if ps.Status != domain.PendingStatusFailed {
		t.Errorf("status = %v, want FAILED", ps.Status)
	}
}

// ---------------------------------------------------------------------------
// Auto mode
// ---------------------------------------------------------------------------

func TestAutoModePlacesFullBracket(t *testing.T) {
	h := newHarness(domain.ModeAuto)
	sig := buySignal()
	sig.PositionSize = 2

	res := h.engine.ProcessSignal(context.Background(), sig, "BTCUSDT", "strat")
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if len(h.orders.placed) != 4 {
		t.Fatalf("placements = %d, want 4", len(h.orders.placed))
	}
	if h.orders.leverage["BTCUSDT"] != 3 {
		t.Errorf("leverage = %d, want 3", h.orders.leverage["BTCUSDT"])
	}

	tps := []domain.OrderRequest{h.orders.placed[2], h.orders.placed[3]}
	if tps[0].Quantity != 1 || tps[1].Quantity != 1 {
		t.Errorf("tp quantities = %v/%v, want 1/1", tps[0].Quantity, tps[1].Quantity)
	}
	if tps[0].StopPrice != 104 || tps[1].StopPrice != 106 {
		t.Errorf("tp triggers = %v/%v, want 104/106", tps[0].StopPrice, tps[1].StopPrice)
	}
}

func TestAutoModePartialFailureLeavesLegs(t *testing.T) {
	h := newHarness(domain.ModeAuto)
	h.orders.failOn = "tp2"
	sig := buySignal()
	sig.PositionSize = 2

	res := h.engine.ProcessSignal(context.Background(), sig, "BTCUSDT", "strat")
	if res.Success {
		t.Fatal("bracket with failed tp2 must report failure")
	}
	// The three successful legs stay placed and are reported.
	if len(h.orders.placed) != 3 {
		t.Errorf("placements = %d, want 3 (entry, stop, tp1 remain)", len(h.orders.placed))
	}
	if res.EntryOrder == nil || res.StopOrder == nil || len(res.TakeProfitOrders) != 1 {
		t.Errorf("partial result should carry the placed legs: %+v", res)
	}
	if !strings.Contains(res.Reason, "take-profit 2") {
		t.Errorf("reason = %q, want mention of take-profit 2", res.Reason)
	}
}

func TestAutoModeKillSwitchBlocks(t *testing.T) {
	h := newHarness(domain.ModeAuto)
	h.engine.Risk().SetInitialBalance(20000)
	h.account.balance = 10000 // 50% drawdown trips the 20% switch

	res := h.engine.ProcessSignal(context.Background(), buySignal(), "BTCUSDT", "strat")
	if res.Success {
		t.Fatal("kill switch must block execution")
	}
	if !strings.Contains(res.Reason, "kill switch") {
		t.Errorf("reason = %q, want kill switch mention", res.Reason)
	}
	if len(h.orders.placed) != 0 {
		t.Error("no orders may be placed while suspended")
	}
}

func TestAutoModeMaxPositionsBlocks(t *testing.T) {
	h := newHarness(domain.ModeAuto)
	for i := 0; i < 5; i++ {
		h.account.positions = append(h.account.positions, domain.Position{
			Symbol: fmt.Sprintf("SYM%d", i), Quantity: 1,
		})
	}

	res := h.engine.ProcessSignal(context.Background(), buySignal(), "BTCUSDT", "strat")
	if res.Success {
		t.Fatal("max positions must block execution")
	}
	if !strings.Contains(res.Reason, "max_positions") {
		t.Errorf("reason = %q, want max_positions rule", res.Reason)
	}
}

func TestAutoModeATRSizingPreferred(t *testing.T) {
	h := newHarness(domain.ModeAuto)
	sig := buySignal()
	sig.ATR = 5 // risk 200 / (5*2) = 20... exceeds caps, so shrink balance
	h.account.balance = 1000

	res := h.engine.ProcessSignal(context.Background(), sig, "BTCUSDT", "strat")
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	// risk = 1000*2% = 20, atr*mult = 10 -> quantity 2.
	if res.Quantity != 2 {
		t.Errorf("quantity = %v, want 2 (ATR sizing)", res.Quantity)
	}
}

// ---------------------------------------------------------------------------
// Mode and leverage management
// ---------------------------------------------------------------------------

func TestSetMode(t *testing.T) {
	h := newHarness(domain.ModePaper)

	if err := h.engine.SetMode(domain.ModeAuto); err != nil {
		t.Fatalf("SetMode() error = %v", err)
	}
	if h.engine.Mode() != domain.ModeAuto {
		t.Errorf("Mode() = %v, want auto", h.engine.Mode())
	}
	if err := h.engine.SetMode(domain.Mode("turbo")); err == nil {
		t.Error("unknown mode must be rejected")
	}
}

func TestSetLeverageBounds(t *testing.T) {
	h := newHarness(domain.ModePaper)

	tests := []struct {
		leverage int
		wantErr  bool
	}{
		{1, false},
		{125, false},
		{0, true},
		{126, true},
		{-3, true},
	}
	for _, tt := range tests {
		err := h.engine.SetLeverage(tt.leverage)
		if (err != nil) != tt.wantErr {
			t.Errorf("SetLeverage(%d) error = %v, wantErr %v", tt.leverage, err, tt.wantErr)
		}
	}
}

func TestCloseWithProfitPaperNoop(t *testing.T) {
	h := newHarness(domain.ModePaper)
	if err := h.engine.CloseWithProfit(context.Background(), "BTCUSDT", 50); err != nil {
		t.Fatalf("CloseWithProfit() error = %v", err)
	}
	if len(h.positions.closed) != 0 {
		t.Error("paper close must not touch positions")
	}

	_ = h.engine.SetMode(domain.ModeAuto)
	if err := h.engine.CloseWithProfit(context.Background(), "BTCUSDT", 50); err != nil {
		t.Fatalf("CloseWithProfit() error = %v", err)
	}
	if len(h.positions.closed) != 1 {
		t.Errorf("live close calls = %d, want 1", len(h.positions.closed))
	}
}
