package interfaces

import (
	"context"

	trading "algotrader/internal/domain/entity/trading"

	"github.com/shopspring/decimal"
)

// Broker is the execution API. Failed placements return *trading.OrderError.
type Broker interface {
	ListOrders(ctx context.Context) ([]trading.Order, error)
	ListPositions(ctx context.Context) ([]trading.Position, error)
	PlaceOrder(ctx context.Context, req trading.OrderRequest) (string, error)
	ModifyOrder(ctx context.Context, orderID string, triggerPrice decimal.Decimal) error
}

// PriceObserver is implemented by brokers that simulate fills from the feed.
type PriceObserver interface {
	ObservePrice(instrumentID string, price float64)
}

// PnLStore holds the latest points-per-share per trading symbol for the
// current trading day.
type PnLStore interface {
	SetPoints(ctx context.Context, day, symbol string, points float64) error
	GetPoints(ctx context.Context, day string, symbols []string) (map[string]float64, error)
}

// EventPublisher journals trading events. Publish must not block on I/O.
type EventPublisher interface {
	Publish(event trading.Event)
}
