package service

import (
	"context"
	"testing"

	"github.com/quantfall/tradegate/internal/domain"
)

type fakeLossRecorder struct {
	losses []float64
}

func (f *fakeLossRecorder) RecordLoss(amount float64) {
	f.losses = append(f.losses, amount)
}

func newPositionHarness() (*PositionService, *orderHarness, *fakeLossRecorder) {
	h := newOrderHarness()
	losses := &fakeLossRecorder{}
	svc := NewPositionService(h.venue, h.svc, h.bus, losses, testLogger())
	return svc, h, losses
}

func TestPositionsFiltersFlat(t *testing.T) {
	svc, h, _ := newPositionHarness()
	h.venue.positions = []domain.Position{
		{Symbol: "BTCUSDT", Side: domain.PositionSideLong, Quantity: 0.5},
		{Symbol: "ETHUSDT", Side: domain.PositionSideLong, Quantity: 0},
	}

	got, err := svc.Positions(context.Background(), "")
	if err != nil {
		t.Fatalf("Positions() error = %v", err)
	}
	if len(got) != 1 || got[0].Symbol != "BTCUSDT" {
		t.Errorf("Positions() = %+v, want only the open BTCUSDT position", got)
	}
}

func TestClosePartialPlacesReduceOnlyOpposite(t *testing.T) {
	svc, h, _ := newPositionHarness()
	h.venue.positions = []domain.Position{
		{Symbol: "BTCUSDT", Side: domain.PositionSideLong, Quantity: 2},
	}

	if err := svc.ClosePartial(context.Background(), "BTCUSDT", 50); err != nil {
		t.Fatalf("ClosePartial() error = %v", err)
	}
	if h.venue.placeCalls != 1 {
		t.Fatalf("venue calls = %d, want 1", h.venue.placeCalls)
	}
	rec := h.trades.created[0]
	if rec.Side != domain.SideSell || rec.Quantity != 1 {
		t.Errorf("close order = %+v, want SELL qty 1", rec)
	}
}

func TestClosePartialShortClosesWithBuy(t *testing.T) {
	svc, h, _ := newPositionHarness()
	h.venue.positions = []domain.Position{
		{Symbol: "BTCUSDT", Side: domain.PositionSideShort, Quantity: -2},
	}

	if err := svc.ClosePosition(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("ClosePosition() error = %v", err)
	}
	rec := h.trades.created[0]
	if rec.Side != domain.SideBuy || rec.Quantity != 2 {
		t.Errorf("close order = %+v, want BUY qty 2 (absolute size)", rec)
	}
}

func TestClosePartialValidatesPercentage(t *testing.T) {
	svc, _, _ := newPositionHarness()

	for _, pct := range []float64{0, -5, 101} {
		if err := svc.ClosePartial(context.Background(), "BTCUSDT", pct); err == nil {
			t.Errorf("ClosePartial(%v) should fail", pct)
		}
	}
}

func TestCloseNoOpenPositionsIsNoop(t *testing.T) {
	svc, h, _ := newPositionHarness()

	if err := svc.ClosePosition(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("ClosePosition() error = %v", err)
	}
	if h.venue.placeCalls != 0 {
		t.Error("nothing to close must place no orders")
	}
}

func TestCloseRecordsRealizedLoss(t *testing.T) {
	svc, h, losses := newPositionHarness()
	h.venue.positions = []domain.Position{
		{Symbol: "BTCUSDT", Side: domain.PositionSideLong, Quantity: 2, UnrealizedPnL: -150},
	}

	if err := svc.ClosePosition(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("ClosePosition() error = %v", err)
	}
	if len(losses.losses) != 1 || losses.losses[0] != 150 {
		t.Errorf("recorded losses = %v, want [150]", losses.losses)
	}
}

func TestClosePartialRecordsProportionalLoss(t *testing.T) {
	svc, h, losses := newPositionHarness()
	h.venue.positions = []domain.Position{
		{Symbol: "BTCUSDT", Side: domain.PositionSideLong, Quantity: 2, UnrealizedPnL: -150},
	}

	if err := svc.ClosePartial(context.Background(), "BTCUSDT", 50); err != nil {
		t.Fatalf("ClosePartial() error = %v", err)
	}
	if len(losses.losses) != 1 || losses.losses[0] != 75 {
		t.Errorf("recorded losses = %v, want half the mark loss", losses.losses)
	}
}

func TestCloseWinningPositionRecordsNothing(t *testing.T) {
	svc, h, losses := newPositionHarness()
	h.venue.positions = []domain.Position{
		{Symbol: "BTCUSDT", Side: domain.PositionSideLong, Quantity: 1, UnrealizedPnL: 320},
	}

	if err := svc.ClosePosition(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("ClosePosition() error = %v", err)
	}
	if len(losses.losses) != 0 {
		t.Errorf("recorded losses = %v, want none for a winning close", losses.losses)
	}
}

func TestPnLAggregates(t *testing.T) {
	svc, h, _ := newPositionHarness()
	h.venue.positions = []domain.Position{
		{Symbol: "BTCUSDT", Quantity: 1, UnrealizedPnL: 120.5},
		{Symbol: "ETHUSDT", Quantity: 2, UnrealizedPnL: -40.5},
	}

	got, err := svc.PnL(context.Background(), "")
	if err != nil {
		t.Fatalf("PnL() error = %v", err)
	}
	if got != 80 {
		t.Errorf("PnL() = %v, want 80", got)
	}
}
