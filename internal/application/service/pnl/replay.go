package pnl

import (
	"sort"

	trading "algotrader/internal/domain/entity/trading"
)

type lot struct {
	side     trading.Direction
	quantity int64
	price    float64
}

// Result is the money P/L of one symbol split into closed and open parts.
type Result struct {
	Realized   float64 `json:"realized"`
	Unrealized float64 `json:"unrealized"`
	OpenQty    int64   `json:"open_quantity"`
}

func (r Result) Total() float64 {
	return r.Realized + r.Unrealized
}

// Replay matches the completed orders of one symbol first-in first-out.
// Open lots are marked to lastPrice; a non-positive lastPrice leaves them
// unvalued. OpenQty is signed, negative for a net short.
func Replay(orders []trading.Order, lastPrice float64) Result {
	fills := make([]trading.Order, 0, len(orders))
	for _, o := range orders {
		if o.Status != trading.OrderStatusComplete || filled(o) <= 0 || o.AveragePrice <= 0 {
			continue
		}
		fills = append(fills, o)
	}
	sort.SliceStable(fills, func(i, j int) bool {
		return fills[i].ExecutedAt.Before(fills[j].ExecutedAt)
	})

	var (
		res  Result
		book []lot
	)
	for _, o := range fills {
		qty := filled(o)
		for qty > 0 && len(book) > 0 && book[0].side != o.TransactionType {
			head := &book[0]
			n := min(qty, head.quantity)
			if head.side == trading.DirectionBuy {
				res.Realized += (o.AveragePrice - head.price) * float64(n)
			} else {
				res.Realized += (head.price - o.AveragePrice) * float64(n)
			}
			head.quantity -= n
			qty -= n
			if head.quantity == 0 {
				book = book[1:]
			}
		}
		if qty > 0 {
			book = append(book, lot{side: o.TransactionType, quantity: qty, price: o.AveragePrice})
		}
	}

	for _, l := range book {
		if l.side == trading.DirectionBuy {
			res.OpenQty += l.quantity
			if lastPrice > 0 {
				res.Unrealized += (lastPrice - l.price) * float64(l.quantity)
			}
		} else {
			res.OpenQty -= l.quantity
			if lastPrice > 0 {
				res.Unrealized += (l.price - lastPrice) * float64(l.quantity)
			}
		}
	}
	return res
}

func filled(o trading.Order) int64 {
	if o.FilledQuantity > 0 {
		return o.FilledQuantity
	}
	return o.Quantity
}
