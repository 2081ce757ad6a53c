// Package dexswap adapts the dexswap perpetuals gateway to the venue
// interface. The gateway keeps an off-chain orderbook: REST requests are
// HMAC-authenticated and every order additionally carries an EIP-712
// signature the gateway verifies against the trader's address.
package dexswap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/quantfall/tradegate/internal/crypto"
	"github.com/quantfall/tradegate/internal/domain"
)

// priceScale is the gateway's fixed-point scaling for sizes and prices.
const priceScale = 1e8

// Config holds the gateway endpoint and authentication material.
type Config struct {
	BaseURL string
	APIKey  string
	// APISecret is the base64-encoded HMAC secret.
	APISecret string
	// SigningKey is the hex-encoded secp256k1 key used for order
	// signatures.
	SigningKey string
	ChainID    int
}

// Client implements domain.ExchangeClient over the dexswap gateway.
type Client struct {
	baseURL    string
	auth       *crypto.HMACAuth
	signer     *crypto.Signer
	httpClient *http.Client
	logger     *slog.Logger
}

var _ domain.ExchangeClient = (*Client)(nil)

// NewClient creates a gateway client. The signing key must be resolvable or
// construction fails.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	signer, err := crypto.NewSigner(cfg.SigningKey, cfg.ChainID)
	if err != nil {
		return nil, fmt.Errorf("dexswap: %w", err)
	}
	return &Client{
		baseURL: cfg.BaseURL,
		auth:    &crypto.HMACAuth{Key: cfg.APIKey, Secret: cfg.APISecret},
		signer:  signer,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.With(slog.String("component", "dexswap")),
	}, nil
}

// Name identifies the venue in logs, metrics, and trade records.
func (c *Client) Name() string { return "dexswap" }

// gateway wire types.

type orderRequest struct {
	Market     string `json:"market"`
	Trader     string `json:"trader"`
	Side       string `json:"side"`
	Type       string `json:"type"`
	Size       string `json:"size"`
	Price      string `json:"price"`
	StopPrice  string `json:"stop_price,omitempty"`
	ReduceOnly bool   `json:"reduce_only,omitempty"`
	Expiration string `json:"expiration"`
	Nonce      string `json:"nonce"`
	Signature  string `json:"signature"`
}

type orderResponse struct {
	OrderID   string `json:"order_id"`
	Market    string `json:"market"`
	Side      string `json:"side"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	Size      string `json:"size"`
	Price     string `json:"price"`
	FillPrice string `json:"fill_price"`
	CreatedAt int64  `json:"created_at"`
}

// PlaceOrder signs and submits an order.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResponse, error) {
	nonce := strconv.FormatInt(time.Now().UnixNano(), 10)
	expiration := strconv.FormatInt(time.Now().Add(24*time.Hour).Unix(), 10)

	payload := crypto.PerpOrderPayload{
		Market:     req.Symbol,
		Trader:     c.signer.Address().Hex(),
		Size:       scale(req.Quantity),
		Price:      scale(req.Price),
		Expiration: expiration,
		Nonce:      nonce,
		Side:       sideOrdinal(req.Side),
	}
	if req.ReduceOnly {
		payload.ReduceOnly = 1
	}

	sig, err := c.signer.SignOrder(payload)
	if err != nil {
		return domain.OrderResponse{}, fmt.Errorf("dexswap: sign order: %w", err)
	}

	wire := orderRequest{
		Market:     req.Symbol,
		Trader:     payload.Trader,
		Side:       string(req.Side),
		Type:       string(req.Type),
		Size:       payload.Size,
		Price:      payload.Price,
		ReduceOnly: req.ReduceOnly,
		Expiration: expiration,
		Nonce:      nonce,
		Signature:  sig,
	}
	if req.StopPrice > 0 {
		wire.StopPrice = scale(req.StopPrice)
	}

	body, err := c.doRequest(ctx, http.MethodPost, "/v1/orders", wire)
	if err != nil {
		return domain.OrderResponse{}, fmt.Errorf("dexswap: place order: %w", err)
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OrderResponse{}, fmt.Errorf("dexswap: decode order response: %w", err)
	}

	return c.toDomainOrder(resp), nil
}

// CancelOrder cancels an order by its gateway-assigned ID.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	path := fmt.Sprintf("/v1/orders/%s", url.PathEscape(orderID))
	if _, err := c.doRequest(ctx, http.MethodDelete, path, nil); err != nil {
		return fmt.Errorf("dexswap: cancel order %s: %w", orderID, err)
	}
	return nil
}

// OpenOrders lists the resting orders on a market.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]domain.OrderResponse, error) {
	path := "/v1/orders?market=" + url.QueryEscape(symbol)
	body, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("dexswap: list open orders: %w", err)
	}

	var resp struct {
		Orders []orderResponse `json:"orders"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("dexswap: decode open orders: %w", err)
	}

	out := make([]domain.OrderResponse, 0, len(resp.Orders))
	for _, o := range resp.Orders {
		out = append(out, c.toDomainOrder(o))
	}
	return out, nil
}

// SetLeverage is a no-op: dexswap accounts are cross-margined and leverage
// is implied by account collateral.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	c.logger.DebugContext(ctx, "leverage is account-level on dexswap, ignoring",
		slog.String("market", symbol),
		slog.Int("leverage", leverage),
	)
	return nil
}

// SetMarginType is a no-op: the gateway supports cross margin only.
func (c *Client) SetMarginType(ctx context.Context, symbol, marginType string) error {
	return nil
}

// Balances returns the account's collateral balances.
func (c *Client) Balances(ctx context.Context) ([]domain.AssetBalance, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/v1/account/balances", nil)
	if err != nil {
		return nil, fmt.Errorf("dexswap: get balances: %w", err)
	}

	var resp struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("dexswap: decode balances: %w", err)
	}

	out := make([]domain.AssetBalance, 0, len(resp.Balances))
	for _, b := range resp.Balances {
		out = append(out, domain.AssetBalance{
			Asset:  b.Asset,
			Free:   unscale(b.Free),
			Locked: unscale(b.Locked),
		})
	}
	return out, nil
}

// Positions returns the account's perpetual positions for a market (all
// markets when empty).
func (c *Client) Positions(ctx context.Context, symbol string) ([]domain.Position, error) {
	path := "/v1/positions"
	if symbol != "" {
		path += "?market=" + url.QueryEscape(symbol)
	}
	body, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("dexswap: get positions: %w", err)
	}

	var resp struct {
		Positions []struct {
			Market        string `json:"market"`
			Size          string `json:"size"`
			EntryPrice    string `json:"entry_price"`
			MarkPrice     string `json:"mark_price"`
			UnrealizedPnL string `json:"unrealized_pnl"`
			Leverage      int    `json:"leverage"`
		} `json:"positions"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("dexswap: decode positions: %w", err)
	}

	out := make([]domain.Position, 0, len(resp.Positions))
	for _, p := range resp.Positions {
		qty := unscale(p.Size)
		side := domain.PositionSideLong
		if qty < 0 {
			side = domain.PositionSideShort
		}
		out = append(out, domain.Position{
			Symbol:        p.Market,
			Side:          side,
			Quantity:      qty,
			EntryPrice:    unscale(p.EntryPrice),
			MarkPrice:     unscale(p.MarkPrice),
			UnrealizedPnL: unscale(p.UnrealizedPnL),
			Leverage:      p.Leverage,
		})
	}
	return out, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doRequest builds, authenticates, sends, and reads an HTTP request against
// the gateway.
func (c *Client) doRequest(ctx context.Context, method, path string, reqBody any) ([]byte, error) {
	var bodyStr string
	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.auth.Headers(method, path, bodyStr) {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	return respBody, nil
}

// checkStatus maps non-2xx responses to venue errors so transient
// classification works upstream.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &apiErr)

	if statusCode == http.StatusTooManyRequests {
		return fmt.Errorf("HTTP %d: %w", statusCode, domain.ErrRateLimited)
	}
	return fmt.Errorf("HTTP %d: %w", statusCode, &domain.VenueError{
		Venue:   "dexswap",
		Code:    int64(apiErr.Code),
		Message: apiErr.Message,
	})
}

func (c *Client) toDomainOrder(o orderResponse) domain.OrderResponse {
	qty := unscale(o.Size)
	side := domain.Side(o.Side)
	return domain.OrderResponse{
		OrderID:      o.OrderID,
		Symbol:       o.Market,
		Side:         side,
		PositionSide: domain.PositionSideFor(side),
		Type:         domain.OrderType(o.Type),
		Status:       domain.OrderStatus(o.Status),
		Quantity:     qty,
		Price:        unscale(o.Price),
		AvgFillPrice: unscale(o.FillPrice),
		CreatedAt:    time.Unix(o.CreatedAt, 0).UTC(),
	}
}

func sideOrdinal(s domain.Side) int {
	if s == domain.SideSell {
		return 1
	}
	return 0
}

// scale converts a float quantity to the gateway's fixed-point integer
// string.
func scale(v float64) string {
	return strconv.FormatInt(int64(math.Round(v*priceScale)), 10)
}

// unscale converts a fixed-point integer string back to a float.
func unscale(s string) float64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return float64(v) / priceScale
}
