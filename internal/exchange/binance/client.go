// Package binance adapts the Binance USD-M futures API to the venue
// interface the engine trades through.
package binance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"

	"github.com/quantfall/tradegate/internal/domain"
)

// Config holds Binance API credentials and environment selection.
type Config struct {
	APIKey    string
	APISecret string
	Testnet   bool
}

// Client implements domain.ExchangeClient over Binance USD-M futures.
type Client struct {
	api    *futures.Client
	logger *slog.Logger
}

var _ domain.ExchangeClient = (*Client)(nil)

// NewClient creates a futures client. Testnet selection is process-global
// in the underlying SDK, so set it once at startup.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	futures.UseTestnet = cfg.Testnet
	return &Client{
		api:    futures.NewClient(cfg.APIKey, cfg.APISecret),
		logger: logger.With(slog.String("component", "binance")),
	}
}

// Name identifies the venue in logs, metrics, and trade records.
func (c *Client) Name() string { return "binance" }

// PlaceOrder submits an order and maps the acknowledgement back to the
// domain response.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResponse, error) {
	svc := c.api.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(req.Side)).
		Type(futures.OrderType(req.Type)).
		Quantity(formatFloat(req.Quantity))

	if req.PositionSide != "" {
		svc = svc.PositionSide(futures.PositionSideType(req.PositionSide))
	}
	if req.Type == domain.OrderTypeLimit {
		svc = svc.Price(formatFloat(req.Price)).TimeInForce(futures.TimeInForceTypeGTC)
	}
	if req.StopPrice > 0 {
		svc = svc.StopPrice(formatFloat(req.StopPrice))
	}
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return domain.OrderResponse{}, wrapErr("place order", err)
	}

	return domain.OrderResponse{
		OrderID:      strconv.FormatInt(res.OrderID, 10),
		Symbol:       res.Symbol,
		Side:         domain.Side(res.Side),
		PositionSide: domain.PositionSide(res.PositionSide),
		Type:         domain.OrderType(res.Type),
		Status:       domain.OrderStatus(res.Status),
		Quantity:     parseFloat(res.OrigQuantity),
		Price:        parseFloat(res.Price),
		AvgFillPrice: parseFloat(res.AvgPrice),
		CreatedAt:    time.UnixMilli(res.UpdateTime).UTC(),
	}, nil
}

// CancelOrder cancels an order by the venue-assigned numeric ID.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("binance: order id %q is not numeric: %w", orderID, err)
	}
	if _, err := c.api.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx); err != nil {
		return wrapErr("cancel order", err)
	}
	return nil
}

// OpenOrders lists the resting orders on a symbol.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]domain.OrderResponse, error) {
	orders, err := c.api.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, wrapErr("list open orders", err)
	}
	out := make([]domain.OrderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, domain.OrderResponse{
			OrderID:      strconv.FormatInt(o.OrderID, 10),
			Symbol:       o.Symbol,
			Side:         domain.Side(o.Side),
			PositionSide: domain.PositionSide(o.PositionSide),
			Type:         domain.OrderType(o.Type),
			Status:       domain.OrderStatus(o.Status),
			Quantity:     parseFloat(o.OrigQuantity),
			Price:        parseFloat(o.Price),
			CreatedAt:    time.UnixMilli(o.Time).UTC(),
		})
	}
	return out, nil
}

// SetLeverage applies the symbol's leverage.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if _, err := c.api.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx); err != nil {
		return wrapErr("change leverage", err)
	}
	return nil
}

// SetMarginType applies the symbol's margin mode (ISOLATED or CROSSED).
// Binance rejects a no-op change with code -4046; callers treat that as
// success.
func (c *Client) SetMarginType(ctx context.Context, symbol, marginType string) error {
	err := c.api.NewChangeMarginTypeService().
		Symbol(symbol).
		MarginType(futures.MarginType(marginType)).
		Do(ctx)
	if err != nil {
		return wrapErr("change margin type", err)
	}
	return nil
}

// Balances returns the futures wallet balances.
func (c *Client) Balances(ctx context.Context) ([]domain.AssetBalance, error) {
	balances, err := c.api.NewGetBalanceService().Do(ctx)
	if err != nil {
		return nil, wrapErr("get balances", err)
	}
	out := make([]domain.AssetBalance, 0, len(balances))
	for _, b := range balances {
		total := parseFloat(b.Balance)
		free := parseFloat(b.AvailableBalance)
		out = append(out, domain.AssetBalance{
			Asset:  b.Asset,
			Free:   free,
			Locked: total - free,
		})
	}
	return out, nil
}

// Positions returns position risk entries for the symbol (all symbols when
// empty), including flat ones; callers filter.
func (c *Client) Positions(ctx context.Context, symbol string) ([]domain.Position, error) {
	svc := c.api.NewGetPositionRiskService()
	if symbol != "" {
		svc = svc.Symbol(symbol)
	}
	risks, err := svc.Do(ctx)
	if err != nil {
		return nil, wrapErr("get positions", err)
	}
	out := make([]domain.Position, 0, len(risks))
	for _, r := range risks {
		qty := parseFloat(r.PositionAmt)
		side := domain.PositionSide(r.PositionSide)
		if side == domain.PositionSideBoth {
			if qty < 0 {
				side = domain.PositionSideShort
			} else {
				side = domain.PositionSideLong
			}
		}
		out = append(out, domain.Position{
			Symbol:        r.Symbol,
			Side:          side,
			Quantity:      qty,
			EntryPrice:    parseFloat(r.EntryPrice),
			MarkPrice:     parseFloat(r.MarkPrice),
			UnrealizedPnL: parseFloat(r.UnRealizedProfit),
			Leverage:      int(parseFloat(r.Leverage)),
		})
	}
	return out, nil
}

// wrapErr converts SDK API errors to domain venue errors so transient-code
// classification and the -4046 margin special case work upstream.
func wrapErr(action string, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("binance: %s: %w", action, &domain.VenueError{
			Venue:   "binance",
			Code:    apiErr.Code,
			Message: apiErr.Message,
		})
	}
	return fmt.Errorf("binance: %s: %w", action, err)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
