// Package service implements the execution façade between the engine and a
// venue: retry-wrapped order placement with persistence, cancellation, and
// position management.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quantfall/tradegate/internal/domain"
	"github.com/quantfall/tradegate/internal/metrics"
	"github.com/quantfall/tradegate/internal/resilience"
)

// orderRateLimit bounds outbound placements per venue.
const (
	orderRateLimit       = 10
	orderRateLimitWindow = time.Second
)

// OrderService places and cancels orders through an ExchangeClient, records
// every placement, and publishes order events. Every remote call goes
// through the circuit breaker with retry inside it.
type OrderService struct {
	venue   domain.ExchangeClient
	trades  domain.TradeStore
	limiter domain.RateLimiter
	bus     domain.SignalBus
	audit   domain.AuditStore
	retry   *resilience.Retry
	breaker *resilience.Breaker
	logger  *slog.Logger
}

// NewOrderService creates an OrderService with all required dependencies.
func NewOrderService(
	venue domain.ExchangeClient,
	trades domain.TradeStore,
	limiter domain.RateLimiter,
	bus domain.SignalBus,
	audit domain.AuditStore,
	retry *resilience.Retry,
	breaker *resilience.Breaker,
	logger *slog.Logger,
) *OrderService {
	return &OrderService{
		venue:   venue,
		trades:  trades,
		limiter: limiter,
		bus:     bus,
		audit:   audit,
		retry:   retry,
		breaker: breaker,
		logger:  logger.With(slog.String("component", "order_service")),
	}
}

// PlaceMarketOrder submits a market order and records the resulting trade.
func (s *OrderService) PlaceMarketOrder(ctx context.Context, symbol string, side domain.Side, posSide domain.PositionSide, quantity float64, strategyID string) (domain.OrderResponse, error) {
	return s.submit(ctx, domain.OrderRequest{
		Symbol:       symbol,
		Side:         side,
		PositionSide: posSide,
		Type:         domain.OrderTypeMarket,
		Quantity:     quantity,
	}, strategyID)
}

// PlaceLimitOrder submits a limit order at the given price.
func (s *OrderService) PlaceLimitOrder(ctx context.Context, symbol string, side domain.Side, posSide domain.PositionSide, quantity, price float64, strategyID string) (domain.OrderResponse, error) {
	return s.submit(ctx, domain.OrderRequest{
		Symbol:       symbol,
		Side:         side,
		PositionSide: posSide,
		Type:         domain.OrderTypeLimit,
		Quantity:     quantity,
		Price:        price,
	}, strategyID)
}

// PlaceStopLoss submits a stop-market order triggering at stopPrice.
func (s *OrderService) PlaceStopLoss(ctx context.Context, symbol string, side domain.Side, posSide domain.PositionSide, quantity, stopPrice float64, strategyID string) (domain.OrderResponse, error) {
	return s.submit(ctx, domain.OrderRequest{
		Symbol:       symbol,
		Side:         side,
		PositionSide: posSide,
		Type:         domain.OrderTypeStopMarket,
		Quantity:     quantity,
		StopPrice:    stopPrice,
	}, strategyID)
}

// PlaceTakeProfit submits a take-profit-market order triggering at
// stopPrice.
func (s *OrderService) PlaceTakeProfit(ctx context.Context, symbol string, side domain.Side, posSide domain.PositionSide, quantity, stopPrice float64, strategyID string) (domain.OrderResponse, error) {
	return s.submit(ctx, domain.OrderRequest{
		Symbol:       symbol,
		Side:         side,
		PositionSide: posSide,
		Type:         domain.OrderTypeTakeProfitMarket,
		Quantity:     quantity,
		StopPrice:    stopPrice,
	}, strategyID)
}

// submit rate-limits, places the order through breaker+retry, persists the
// trade, publishes an event, and writes an audit entry. A persistence
// failure after a successful placement is surfaced as a reconciliation
// error: the remote side effect already happened and cannot be undone.
func (s *OrderService) submit(ctx context.Context, req domain.OrderRequest, strategyID string) (domain.OrderResponse, error) {
	allowed, err := s.limiter.Allow(ctx, "orders:"+s.venue.Name(), orderRateLimit, orderRateLimitWindow)
	if err != nil {
		return domain.OrderResponse{}, fmt.Errorf("order_service: rate limiter: %w", err)
	}
	if !allowed {
		return domain.OrderResponse{}, domain.ErrRateLimited
	}

	resp, err := resilience.BreakerDo(ctx, s.breaker, func(ctx context.Context) (domain.OrderResponse, error) {
		return resilience.RetryDo(ctx, s.retry, func(ctx context.Context) (domain.OrderResponse, error) {
			return s.venue.PlaceOrder(ctx, req)
		})
	})
	if err != nil {
		metrics.OrdersFailed.WithLabelValues(s.venue.Name()).Inc()
		return domain.OrderResponse{}, fmt.Errorf("order_service: place %s %s %s: %w",
			req.Type, req.Side, req.Symbol, err)
	}

	metrics.OrdersPlaced.WithLabelValues(s.venue.Name(), string(req.Type)).Inc()

	rec := tradeFromResponse(resp, s.venue.Name(), strategyID)
	if storeErr := s.trades.Create(ctx, rec); storeErr != nil {
		s.logger.ErrorContext(ctx, "trade persistence failed after placement, needs reconciliation",
			slog.String("order_id", resp.OrderID),
			slog.String("symbol", resp.Symbol),
			slog.String("error", storeErr.Error()),
		)
		return resp, fmt.Errorf("order_service: record trade for placed order %s: %w", resp.OrderID, storeErr)
	}

	s.publishOrderEvent(ctx, "order_placed", resp)

	if auditErr := s.audit.Log(ctx, "order_placed", map[string]any{
		"order_id": resp.OrderID,
		"symbol":   resp.Symbol,
		"side":     string(resp.Side),
		"type":     string(resp.Type),
		"quantity": resp.Quantity,
		"venue":    s.venue.Name(),
		"strategy": strategyID,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("order_id", resp.OrderID),
			slog.String("error", auditErr.Error()),
		)
	}

	s.logger.InfoContext(ctx, "order placed",
		slog.String("order_id", resp.OrderID),
		slog.String("symbol", resp.Symbol),
		slog.String("side", string(resp.Side)),
		slog.String("type", string(resp.Type)),
		slog.Float64("quantity", resp.Quantity),
	)

	return resp, nil
}

// RecordSimulated persists a paper-trading order without touching the
// venue.
func (s *OrderService) RecordSimulated(ctx context.Context, resp domain.OrderResponse, strategyID string) error {
	rec := tradeFromResponse(resp, "paper", strategyID)
	rec.Simulated = true
	if err := s.trades.Create(ctx, rec); err != nil {
		return fmt.Errorf("order_service: record simulated trade: %w", err)
	}
	s.publishOrderEvent(ctx, "order_simulated", resp)
	return nil
}

// CancelOrder cancels a single order on the venue.
func (s *OrderService) CancelOrder(ctx context.Context, symbol, orderID string) error {
	err := s.breaker.Do(ctx, func(ctx context.Context) error {
		return s.retry.Do(ctx, func(ctx context.Context) error {
			return s.venue.CancelOrder(ctx, symbol, orderID)
		})
	})
	if err != nil {
		return fmt.Errorf("order_service: cancel order %s on %s: %w", orderID, symbol, err)
	}

	s.logger.InfoContext(ctx, "order cancelled",
		slog.String("order_id", orderID),
		slog.String("symbol", symbol),
	)
	return nil
}

// CancelSummary reports the outcome of a cancel-all sweep.
type CancelSummary struct {
	Total     int
	Cancelled int
}

// Ratio returns the fraction of open orders successfully cancelled, 1.0
// when there was nothing to cancel.
func (cs CancelSummary) Ratio() float64 {
	if cs.Total == 0 {
		return 1.0
	}
	return float64(cs.Cancelled) / float64(cs.Total)
}

// CancelAllOrders fetches the open orders for a symbol and cancels each
// independently, reporting a success ratio rather than all-or-nothing.
func (s *OrderService) CancelAllOrders(ctx context.Context, symbol string) (CancelSummary, error) {
	open, err := s.venue.OpenOrders(ctx, symbol)
	if err != nil {
		return CancelSummary{}, fmt.Errorf("order_service: list open orders for %s: %w", symbol, err)
	}

	summary := CancelSummary{Total: len(open)}
	for _, o := range open {
		if cancelErr := s.CancelOrder(ctx, symbol, o.OrderID); cancelErr != nil {
			s.logger.ErrorContext(ctx, "cancel failed during cancel-all",
				slog.String("order_id", o.OrderID),
				slog.String("error", cancelErr.Error()),
			)
			continue
		}
		summary.Cancelled++
	}

	s.logger.InfoContext(ctx, "cancel-all finished",
		slog.String("symbol", symbol),
		slog.Int("total", summary.Total),
		slog.Int("cancelled", summary.Cancelled),
	)
	return summary, nil
}

// SetLeverage validates and applies leverage on the venue. Venues without
// leverage accept any value as a no-op.
func (s *OrderService) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if leverage < 1 || leverage > 125 {
		return domain.ErrInvalidLeverage
	}
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		return s.venue.SetLeverage(ctx, symbol, leverage)
	})
	if err != nil {
		return fmt.Errorf("order_service: set leverage %dx on %s: %w", leverage, symbol, err)
	}
	return nil
}

// SetMarginType applies the margin mode, treating the venue's "already set"
// response as success.
func (s *OrderService) SetMarginType(ctx context.Context, symbol, marginType string) error {
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		return s.venue.SetMarginType(ctx, symbol, marginType)
	})
	if err != nil {
		if alreadySet(err) {
			s.logger.DebugContext(ctx, "margin type already set",
				slog.String("symbol", symbol),
				slog.String("margin_type", marginType),
			)
			return nil
		}
		return fmt.Errorf("order_service: set margin type %s on %s: %w", marginType, symbol, err)
	}
	return nil
}

// alreadySet recognises the venue's no-change margin responses.
func alreadySet(err error) bool {
	var ve *domain.VenueError
	if errors.As(err, &ve) {
		if ve.Code == -4046 {
			return true
		}
		return strings.Contains(ve.Message, "No need to change margin type")
	}
	return strings.Contains(err.Error(), "No need to change margin type")
}

func (s *OrderService) publishOrderEvent(ctx context.Context, event string, resp domain.OrderResponse) {
	evt, _ := json.Marshal(map[string]any{
		"event":    event,
		"order_id": resp.OrderID,
		"symbol":   resp.Symbol,
		"side":     string(resp.Side),
		"type":     string(resp.Type),
		"quantity": resp.Quantity,
		"status":   string(resp.Status),
	})
	if pubErr := s.bus.Publish(ctx, "orders", evt); pubErr != nil {
		s.logger.WarnContext(ctx, "publish event failed",
			slog.String("order_id", resp.OrderID),
			slog.String("error", pubErr.Error()),
		)
	}
}

// tradeFromResponse converts a venue acknowledgement to a persistable
// record.
func tradeFromResponse(resp domain.OrderResponse, venue, strategyID string) domain.TradeRecord {
	price := resp.AvgFillPrice
	if price == 0 {
		price = resp.Price
	}
	rec := domain.TradeRecord{
		ID:         uuid.NewString(),
		Symbol:     resp.Symbol,
		Side:       resp.Side,
		OrderType:  resp.Type,
		Quantity:   resp.Quantity,
		Price:      price,
		OrderID:    resp.OrderID,
		Status:     resp.Status,
		StrategyID: strategyID,
		Venue:      venue,
		Simulated:  resp.Simulated,
		CreatedAt:  time.Now().UTC(),
	}
	if resp.Status == domain.OrderStatusFilled {
		now := time.Now().UTC()
		rec.ExecutedAt = &now
	}
	return rec
}
