package trading

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the side of an order or position.
type Direction string

const (
	DirectionNone Direction = ""
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// Opposite returns the reversing side.
func (d Direction) Opposite() Direction {
	switch d {
	case DirectionBuy:
		return DirectionSell
	case DirectionSell:
		return DirectionBuy
	default:
		return DirectionNone
	}
}

func (d Direction) String() string {
	if d == DirectionNone {
		return "NONE"
	}
	return string(d)
}

// OrderStatus is the broker-reported lifecycle state.
type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "OPEN"
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusComplete  OrderStatus = "COMPLETE"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusRejected  OrderStatus = "REJECTED"
)

// IsLive reports whether the order still works at the broker.
func (s OrderStatus) IsLive() bool {
	return s == OrderStatusOpen || s == OrderStatusPending
}

// Order is the broker's view of an order.
type Order struct {
	OrderID         string      `json:"order_id"`
	TradingSymbol   string      `json:"trading_symbol"`
	InstrumentID    string      `json:"instrument_id"`
	TransactionType Direction   `json:"transaction_type"`
	Quantity        int64       `json:"quantity"`
	FilledQuantity  int64       `json:"filled_quantity"`
	AveragePrice    float64     `json:"average_price"`
	Status          OrderStatus `json:"status"`
	ExecutedAt      time.Time   `json:"executed_at"`
}

// Position is a net broker position; Quantity is negative for shorts.
type Position struct {
	TradingSymbol string  `json:"trading_symbol"`
	InstrumentID  string  `json:"instrument_id"`
	Quantity      int64   `json:"quantity"`
	AveragePrice  float64 `json:"average_price"`
}

// OrderRequest describes a market order. Entries carry a protective stop at
// TriggerPrice, which may be any value including zero. A SquareOff order
// flattens the position and attaches no stop.
type OrderRequest struct {
	InstrumentID  string
	TradingSymbol string
	Exchange      string
	Product       string
	Direction     Direction
	Quantity      int64
	TriggerPrice  decimal.Decimal
	SquareOff     bool
}

var (
	ErrOrderRejected = errors.New("order rejected by broker")
	ErrUnknownOrder  = errors.New("unknown order")
)

// OrderError carries a failed broker call back to the state machine.
type OrderError struct {
	Op     string
	Symbol string
	Err    error
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Symbol, e.Err)
}

func (e *OrderError) Unwrap() error {
	return e.Err
}

// Rejected wraps a broker refusal so callers can match ErrOrderRejected.
func Rejected(op, symbol string, cause error) error {
	return &OrderError{Op: op, Symbol: symbol, Err: fmt.Errorf("%w: %v", ErrOrderRejected, cause)}
}
