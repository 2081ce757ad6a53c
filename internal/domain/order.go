package domain

import "time"

// OrderType selects the venue order type.
type OrderType string

const (
	OrderTypeMarket           OrderType = "MARKET"
	OrderTypeLimit            OrderType = "LIMIT"
	OrderTypeStopMarket       OrderType = "STOP_MARKET"
	OrderTypeTakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
)

// OrderStatus tracks the venue-side order lifecycle.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// OrderRequest is a venue-neutral order specification passed to an
// ExchangeClient.
type OrderRequest struct {
	Symbol       string
	Side         Side
	PositionSide PositionSide
	Type         OrderType
	Quantity     float64
	// Price is the limit price; used only for limit orders.
	Price float64
	// StopPrice is the trigger price for stop-market and take-profit-market
	// orders.
	StopPrice  float64
	ReduceOnly bool
}

// OrderResponse is the venue's acknowledgement of a placed order.
type OrderResponse struct {
	OrderID      string
	Symbol       string
	Side         Side
	PositionSide PositionSide
	Type         OrderType
	Status       OrderStatus
	Quantity     float64
	Price        float64
	AvgFillPrice float64
	// Simulated marks orders fabricated by paper trading; they never reached
	// a venue.
	Simulated bool
	CreatedAt time.Time
}
