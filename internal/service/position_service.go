package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"

	"github.com/quantfall/tradegate/internal/domain"
)

// LossRecorder accumulates realized losses against the daily budget.
type LossRecorder interface {
	RecordLoss(amount float64)
}

// PositionService queries live positions and closes them fully or
// partially through reduce-only market orders. Realized losses on close
// are fed into the LossRecorder so the daily loss limit sees them.
type PositionService struct {
	venue  domain.ExchangeClient
	orders *OrderService
	bus    domain.SignalBus
	losses LossRecorder
	logger *slog.Logger
}

// NewPositionService creates a PositionService. losses may be nil, in which
// case realized losses are not tracked.
func NewPositionService(venue domain.ExchangeClient, orders *OrderService, bus domain.SignalBus, losses LossRecorder, logger *slog.Logger) *PositionService {
	return &PositionService{
		venue:  venue,
		orders: orders,
		bus:    bus,
		losses: losses,
		logger: logger.With(slog.String("component", "position_service")),
	}
}

// Positions returns the open positions for a symbol (all symbols when
// empty). Flat entries are filtered out.
func (s *PositionService) Positions(ctx context.Context, symbol string) ([]domain.Position, error) {
	all, err := s.venue.Positions(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("position_service: get positions for %q: %w", symbol, err)
	}
	open := make([]domain.Position, 0, len(all))
	for _, p := range all {
		if p.Open() {
			open = append(open, p)
		}
	}
	return open, nil
}

// ClosePosition fully closes every open position on the symbol with a
// reduce-only market order sized to the exact open quantity, sign-inverted.
func (s *PositionService) ClosePosition(ctx context.Context, symbol string) error {
	return s.close(ctx, symbol, 100)
}

// ClosePartial closes the given percentage of each open position on the
// symbol.
func (s *PositionService) ClosePartial(ctx context.Context, symbol string, percentage float64) error {
	if percentage <= 0 || percentage > 100 {
		return fmt.Errorf("position_service: percentage must be in (0,100], got %v", percentage)
	}
	return s.close(ctx, symbol, percentage)
}

func (s *PositionService) close(ctx context.Context, symbol string, percentage float64) error {
	positions, err := s.Positions(ctx, symbol)
	if err != nil {
		return err
	}
	if len(positions) == 0 {
		s.logger.InfoContext(ctx, "no open positions to close",
			slog.String("symbol", symbol),
		)
		return nil
	}

	for _, pos := range positions {
		quantity := math.Abs(pos.Quantity) * percentage / 100
		side := closeSide(pos)
		// The closed fraction realizes the same fraction of the mark PnL.
		realized := pos.UnrealizedPnL * percentage / 100

		resp, placeErr := s.orders.submit(ctx, domain.OrderRequest{
			Symbol:       pos.Symbol,
			Side:         side,
			PositionSide: pos.Side,
			Type:         domain.OrderTypeMarket,
			Quantity:     quantity,
			ReduceOnly:   true,
		}, "")
		if placeErr != nil {
			return fmt.Errorf("position_service: close %s (%.1f%%): %w", pos.Symbol, percentage, placeErr)
		}

		if s.losses != nil && realized < 0 {
			s.losses.RecordLoss(-realized)
		}

		evt, _ := json.Marshal(map[string]any{
			"event":        "position_closed",
			"symbol":       pos.Symbol,
			"side":         string(pos.Side),
			"quantity":     quantity,
			"percentage":   percentage,
			"realized_pnl": realized,
			"order_id":     resp.OrderID,
		})
		if pubErr := s.bus.Publish(ctx, "positions", evt); pubErr != nil {
			s.logger.WarnContext(ctx, "publish close event failed",
				slog.String("symbol", pos.Symbol),
				slog.String("error", pubErr.Error()),
			)
		}

		s.logger.InfoContext(ctx, "position closed",
			slog.String("symbol", pos.Symbol),
			slog.String("side", string(pos.Side)),
			slog.Float64("quantity", quantity),
			slog.Float64("percentage", percentage),
			slog.Float64("realized_pnl", realized),
		)
	}
	return nil
}

// PnL returns the aggregate unrealized PnL across the symbol's open
// positions (all symbols when empty).
func (s *PositionService) PnL(ctx context.Context, symbol string) (float64, error) {
	positions, err := s.Positions(ctx, symbol)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, p := range positions {
		total += p.UnrealizedPnL
	}
	return total, nil
}

// closeSide returns the order side that reduces the position.
func closeSide(pos domain.Position) domain.Side {
	if pos.Side == domain.PositionSideShort || pos.Quantity < 0 {
		return domain.SideBuy
	}
	return domain.SideSell
}
