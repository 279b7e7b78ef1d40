// Package paper is an in-process broker that fills market orders at the
// last price seen on the feed.
package paper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	trading "algotrader/internal/domain/entity/trading"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var ErrNoPrice = errors.New("no price observed for instrument")

type stop struct {
	instrumentID string
	direction    trading.Direction
	trigger      decimal.Decimal
}

// Broker keeps orders and net positions in memory. It is safe for
// concurrent use.
type Broker struct {
	logger *logrus.Entry
	now    func() time.Time

	mu        sync.Mutex
	symbols   map[string]string
	prices    map[string]float64
	orders    []trading.Order
	positions map[string]*trading.Position
	stops     map[string]stop
}

func NewBroker(configs []trading.InstrumentConfig, logger *logrus.Logger) *Broker {
	symbols := make(map[string]string, len(configs))
	for _, cfg := range configs {
		symbols[cfg.InstrumentID] = cfg.TradingSymbol
	}
	return &Broker{
		logger:    logger.WithField("component", "paper_broker"),
		now:       func() time.Time { return time.Now().UTC() },
		symbols:   symbols,
		prices:    make(map[string]float64),
		positions: make(map[string]*trading.Position),
		stops:     make(map[string]stop),
	}
}

// ObservePrice records the latest traded price used for fills.
func (b *Broker) ObservePrice(instrumentID string, price float64) {
	if price <= 0 {
		return
	}
	b.mu.Lock()
	b.prices[instrumentID] = price
	b.mu.Unlock()
}

func (b *Broker) PlaceOrder(ctx context.Context, req trading.OrderRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if req.Quantity <= 0 {
		return "", trading.Rejected("place", req.TradingSymbol, fmt.Errorf("quantity %d", req.Quantity))
	}
	if req.Direction != trading.DirectionBuy && req.Direction != trading.DirectionSell {
		return "", trading.Rejected("place", req.TradingSymbol, fmt.Errorf("direction %q", req.Direction))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	price, ok := b.prices[req.InstrumentID]
	if !ok {
		return "", &trading.OrderError{Op: "place", Symbol: req.TradingSymbol, Err: ErrNoPrice}
	}

	orderID := uuid.NewString()
	b.orders = append(b.orders, trading.Order{
		OrderID:         orderID,
		TradingSymbol:   req.TradingSymbol,
		InstrumentID:    req.InstrumentID,
		TransactionType: req.Direction,
		Quantity:        req.Quantity,
		FilledQuantity:  req.Quantity,
		AveragePrice:    price,
		Status:          trading.OrderStatusComplete,
		ExecutedAt:      b.now(),
	})
	b.fill(req, price)

	if req.SquareOff {
		for id, s := range b.stops {
			if s.instrumentID == req.InstrumentID {
				delete(b.stops, id)
			}
		}
	} else {
		b.stops[orderID] = stop{instrumentID: req.InstrumentID, direction: req.Direction, trigger: req.TriggerPrice}
	}

	b.logger.WithFields(logrus.Fields{
		"order_id":  orderID,
		"symbol":    req.TradingSymbol,
		"direction": req.Direction,
		"quantity":  req.Quantity,
		"price":     price,
	}).Info("paper order filled")
	return orderID, nil
}

// fill updates the net position with a weighted average entry price.
func (b *Broker) fill(req trading.OrderRequest, price float64) {
	pos, ok := b.positions[req.InstrumentID]
	if !ok {
		pos = &trading.Position{TradingSymbol: req.TradingSymbol, InstrumentID: req.InstrumentID}
		b.positions[req.InstrumentID] = pos
	}
	qty := req.Quantity
	if req.Direction == trading.DirectionSell {
		qty = -qty
	}
	next := pos.Quantity + qty
	switch {
	case next == 0:
		pos.AveragePrice = 0
	case pos.Quantity == 0 || (pos.Quantity > 0) != (next > 0):
		pos.AveragePrice = price
	case (pos.Quantity > 0) == (qty > 0):
		pos.AveragePrice = (pos.AveragePrice*float64(abs(pos.Quantity)) + price*float64(abs(qty))) / float64(abs(next))
	}
	pos.Quantity = next
}

func (b *Broker) ModifyOrder(ctx context.Context, orderID string, triggerPrice decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.stops[orderID]
	if !ok {
		return &trading.OrderError{Op: "modify", Symbol: b.symbols[s.instrumentID], Err: fmt.Errorf("%w: %s", trading.ErrUnknownOrder, orderID)}
	}
	s.trigger = triggerPrice
	b.stops[orderID] = s
	return nil
}

// StopFor returns the trigger currently attached to orderID.
func (b *Broker) StopFor(orderID string) (decimal.Decimal, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.stops[orderID]
	return s.trigger, ok
}

func (b *Broker) ListOrders(ctx context.Context) ([]trading.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]trading.Order, len(b.orders))
	copy(out, b.orders)
	return out, nil
}

func (b *Broker) ListPositions(ctx context.Context) ([]trading.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]trading.Position, 0, len(b.positions))
	for _, p := range b.positions {
		if p.Quantity != 0 {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TradingSymbol < out[j].TradingSymbol })
	return out, nil
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
