package models

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedOrderKind is returned for order types the simulator cannot evaluate.
	ErrUnsupportedOrderKind = errors.New("unsupported order kind")
	// ErrInvalidOrder is returned for orders with a bad action, quantity or limit price.
	ErrInvalidOrder = errors.New("invalid order")
)

// Action is the direction of an order.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// OrderType names an order kind. Only market and limit orders are simulated.
type OrderType string

const (
	OrderTypeMarket    OrderType = "MKT"
	OrderTypeLimit     OrderType = "LMT"
	OrderTypeStop      OrderType = "STP"
	OrderTypeStopLimit OrderType = "STP LMT"
	OrderTypeBracket   OrderType = "BRACKET"
)

// Order is a request to trade a quantity of a contract. Quantity is always a
// positive magnitude; Action gives the direction.
type Order struct {
	Action     Action    `json:"action"`
	Type       OrderType `json:"type"`
	Quantity   float64   `json:"quantity"`
	LimitPrice float64   `json:"limit_price,omitempty"`
}

// MarketOrder returns a market order.
func MarketOrder(action Action, quantity float64) Order {
	return Order{Action: action, Type: OrderTypeMarket, Quantity: quantity}
}

// LimitOrder returns a limit order with a per-unit limit price.
func LimitOrder(action Action, quantity, limitPrice float64) Order {
	return Order{Action: action, Type: OrderTypeLimit, Quantity: quantity, LimitPrice: limitPrice}
}

// Validate rejects orders the simulator cannot accept.
func (o Order) Validate() error {
	switch o.Type {
	case OrderTypeMarket, OrderTypeLimit:
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedOrderKind, o.Type)
	}
	if o.Action != ActionBuy && o.Action != ActionSell {
		return fmt.Errorf("%w: action %q", ErrInvalidOrder, o.Action)
	}
	if o.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %v", ErrInvalidOrder, o.Quantity)
	}
	if o.Type == OrderTypeLimit && o.LimitPrice <= 0 {
		return fmt.Errorf("%w: limit price must be positive, got %v", ErrInvalidOrder, o.LimitPrice)
	}
	return nil
}

// Sign is +1 for buys and -1 for sells.
func (o Order) Sign() float64 {
	if o.Action == ActionBuy {
		return 1
	}
	return -1
}

// SignedQuantity is the position change the order produces when filled.
func (o Order) SignedQuantity() float64 {
	return o.Sign() * o.Quantity
}
