// Package broker hosts the venue client, its resilience wrappers, and a paper implementation.
package broker

import (
	"context"
	"time"

	"github.com/bipulsin/trademanthan-sub001/internal/market"
	"github.com/bipulsin/trademanthan-sub001/internal/options"
)

// OrderSide enumerates order directions sent to the venue.
type OrderSide string

const (
	// Buy indicates a buy-to-open or buy-to-close order.
	Buy OrderSide = "BUY"
	// Sell indicates a sell-to-open or sell-to-close order.
	Sell OrderSide = "SELL"
)

// OrderStatus is the venue-reported lifecycle state of an order.
type OrderStatus string

const (
	StatusNew       OrderStatus = "NEW"
	StatusFilled    OrderStatus = "FILLED"
	StatusCancelled OrderStatus = "CANCELLED"
	StatusRejected  OrderStatus = "REJECTED"
)

// OrderRequest is a placement request. Price zero means market.
type OrderRequest struct {
	Symbol   string
	Side     OrderSide
	Qty      int
	Price    float64
	ClientID string
}

// OrderAck is the venue's acknowledgement of a placement.
type OrderAck struct {
	OrderID   string
	Status    OrderStatus
	FillPrice float64
}

// Order is an order as reported by the venue's open-order listing.
type Order struct {
	ID       string
	Symbol   string
	Side     OrderSide
	Qty      int
	Price    float64
	Status   OrderStatus
	PlacedAt time.Time
}

// NetPosition is the venue-side view of a holding.
type NetPosition struct {
	Symbol     string
	Qty        int // negative for short
	EntryPrice float64
}

// Client is the venue surface the execution engine consumes. Implementations
// must be safe for use from the coordinator's fan-out workers.
type Client interface {
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error)
	GetBalance(ctx context.Context) (float64, error)
	GetAllProducts(ctx context.Context) ([]options.Contract, error)
	GetOptionPremium(ctx context.Context, symbol string) (float64, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOpenOrders(ctx context.Context) ([]Order, error)
	GetPositions(ctx context.Context) ([]NetPosition, error)
	GetMarginedPositions(ctx context.Context) ([]NetPosition, error)
}
