package domain

import "context"

// ExchangeClient is the venue capability consumed by the execution layer.
// Implementations exist for the centralized derivatives exchange and the
// decentralized swap aggregator; the engine never depends on either
// directly.
type ExchangeClient interface {
	// Name identifies the venue, e.g. "binance" or "dexswap".
	Name() string

	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResponse, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	OpenOrders(ctx context.Context, symbol string) ([]OrderResponse, error)

	// SetLeverage is idempotent on the venue side. Venues without leverage
	// return ErrUnsupported.
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	// SetMarginType changes the margin mode; implementations must treat the
	// venue's "already set" response as success.
	SetMarginType(ctx context.Context, symbol, marginType string) error

	Balances(ctx context.Context) ([]AssetBalance, error)
	// Positions returns live positions; an empty symbol means all symbols.
	Positions(ctx context.Context, symbol string) ([]Position, error)
}
