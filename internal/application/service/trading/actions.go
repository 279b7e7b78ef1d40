package trading

import (
	"context"
	"errors"
	"fmt"

	"algotrader/internal/application/service/strategy"
	trading "algotrader/internal/domain/entity/trading"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// enter places a market order on a fresh breakout signal.
func (m *Machine) enter(ctx context.Context, in Input) (Action, error) {
	if !m.state.StoppedBucket.IsZero() && m.state.StoppedBucket.Equal(in.Bucket) {
		return ActionNone, nil
	}
	signal, ok := strategy.Evaluate(in.Series, m.cfg.BreakoutPercentage, m.cfg.TradeSide)
	if !ok {
		return ActionNone, nil
	}

	live, err := m.hasLiveOrder(ctx)
	if err != nil {
		return ActionNone, err
	}
	if live {
		m.logger.WithField("direction", signal.Direction).Debug("live order exists, entry skipped")
		return ActionNone, nil
	}

	m.update(func(s *trading.TradeState) { s.Phase = trading.PhaseEntering })
	orderID, err := m.place(ctx, signal.Direction, m.cfg.LotSize, signal.Stop)
	if err != nil {
		m.update(func(s *trading.TradeState) { s.Flatten() })
		m.rejected(ActionEntry, in, signal.Direction, err)
		return ActionNone, err
	}

	m.update(func(s *trading.TradeState) {
		s.Open(orderID, signal.Direction, signal.Stop, in.Price, m.cfg.LotSize)
	})
	m.forceRefresh = true
	m.recorder.OrderPlaced(ActionEntry, signal.Direction)
	m.logger.WithFields(logrus.Fields{
		"direction": signal.Direction,
		"stop":      signal.Stop.String(),
		"order_id":  orderID,
		"price":     in.Price,
	}).Info("entry placed")
	m.publish(trading.EventEntry, in, func(e *trading.Event) {
		e.Direction = signal.Direction
		e.Stop = signal.Stop.String()
		e.OrderID = orderID
	})
	return ActionEntry, nil
}

// trail tightens the protective stop to the band implied by the two latest
// sealed candles. A stop that is equal or looser leaves the broker untouched.
func (m *Machine) trail(ctx context.Context, in Input) (Action, error) {
	bands, err := strategy.SeriesBands(in.Series, m.cfg.BreakoutPercentage)
	if err != nil {
		return ActionNone, nil
	}
	direction := m.state.CurrentOrderType
	next := strategy.StopFor(direction, bands)
	current := m.state.CurrentStopPrice

	tighter := false
	switch direction {
	case trading.DirectionBuy:
		tighter = next.GreaterThan(current)
	case trading.DirectionSell:
		tighter = next.LessThan(current)
	}
	if !tighter {
		return ActionNone, nil
	}

	if err := m.broker.ModifyOrder(ctx, m.state.OrderID, next); err != nil {
		m.recorder.OrderFailed(ActionTrail)
		return ActionNone, fmt.Errorf("trail %s to %s: %w", m.cfg.TradingSymbol, next, err)
	}
	m.update(func(s *trading.TradeState) {
		s.CurrentStopPrice = next
		s.Phase = trading.PhaseTrailing
	})
	m.recorder.OrderPlaced(ActionTrail, direction)
	m.logger.WithFields(logrus.Fields{"from": current.String(), "to": next.String()}).Info("stop trailed")
	m.publish(trading.EventTrail, in, func(e *trading.Event) {
		e.Direction = direction
		e.Stop = next.String()
		e.OrderID = m.state.OrderID
	})
	return ActionTrail, nil
}

// handleStop flattens the position after a stop hit and, when both sides are
// allowed, enters the opposite direction.
func (m *Machine) handleStop(ctx context.Context, in Input) (Action, error) {
	direction := m.state.CurrentOrderType
	m.update(func(s *trading.TradeState) { s.Phase = trading.PhaseReversing })

	squared, err := m.squareOff(ctx, in)
	if err != nil {
		m.update(func(s *trading.TradeState) {
			s.PendingSquareOff = true
			s.Phase = trading.PhaseActive
		})
		return ActionNone, err
	}
	m.update(func(s *trading.TradeState) { s.PendingSquareOff = false })

	reverse := direction.Opposite()
	if m.cfg.TradeSide != trading.TradeSideBoth || !m.cfg.TradeSide.Allows(reverse) {
		m.stopOut(in)
		return squaredAction(squared), nil
	}
	bands, err := strategy.SeriesBands(in.Series, m.cfg.BreakoutPercentage)
	if err != nil {
		m.logger.WithError(err).Warn("no bands for reversal, going flat")
		m.stopOut(in)
		return squaredAction(squared), nil
	}
	stop := strategy.StopFor(reverse, bands)

	orderID, err := m.place(ctx, reverse, m.cfg.LotSize, stop)
	if err != nil {
		m.stopOut(in)
		m.rejected(ActionReversal, in, reverse, err)
		return squaredAction(squared), err
	}
	m.update(func(s *trading.TradeState) {
		s.Open(orderID, reverse, stop, in.Price, m.cfg.LotSize)
	})
	m.forceRefresh = true
	m.recorder.OrderPlaced(ActionReversal, reverse)
	m.logger.WithFields(logrus.Fields{
		"direction": reverse,
		"stop":      stop.String(),
		"order_id":  orderID,
		"price":     in.Price,
	}).Info("position reversed")
	m.publish(trading.EventReversal, in, func(e *trading.Event) {
		e.Direction = reverse
		e.Stop = stop.String()
		e.OrderID = orderID
	})
	return ActionReversal, nil
}

func squaredAction(squared bool) Action {
	if squared {
		return ActionSquareOff
	}
	return ActionNone
}

// stopOut returns to flat and blocks re-entry until the next bucket.
func (m *Machine) stopOut(in Input) {
	m.update(func(s *trading.TradeState) {
		s.Flatten()
		s.StoppedBucket = in.Bucket
	})
}

// squareOff flattens the broker's net position for the symbol. It reports
// whether an order was sent.
func (m *Machine) squareOff(ctx context.Context, in Input) (bool, error) {
	positions, err := m.broker.ListPositions(ctx)
	if err != nil {
		m.recorder.OrderFailed(ActionSquareOff)
		return false, fmt.Errorf("list positions for %s: %w", m.cfg.TradingSymbol, err)
	}
	var net int64
	for _, p := range positions {
		if p.TradingSymbol == m.cfg.TradingSymbol {
			net += p.Quantity
		}
	}
	if net == 0 {
		return false, nil
	}

	direction := trading.DirectionSell
	qty := net
	if net < 0 {
		direction = trading.DirectionBuy
		qty = -net
	}
	orderID, err := m.flatten(ctx, direction, qty)
	if err != nil {
		m.rejected(ActionSquareOff, in, direction, err)
		return false, err
	}
	m.forceRefresh = true
	m.recorder.OrderPlaced(ActionSquareOff, direction)
	m.logger.WithFields(logrus.Fields{
		"direction": direction,
		"quantity":  qty,
		"order_id":  orderID,
		"price":     in.Price,
	}).Info("position squared off")
	m.publish(trading.EventSquareOff, in, func(e *trading.Event) {
		e.Direction = direction
		e.OrderID = orderID
	})
	return true, nil
}

// halt squares off and closes the instrument for the rest of the day. The
// halt sticks even when the square-off fails; the flatten is retried on
// later ticks.
func (m *Machine) halt(ctx context.Context, in Input) error {
	_, err := m.squareOff(ctx, in)
	m.update(func(s *trading.TradeState) {
		s.Halt()
		s.PendingSquareOff = err != nil
	})
	m.recorder.Halted(m.cfg.TradingSymbol)
	m.logger.WithFields(logrus.Fields{
		"threshold": m.cfg.ExitThresholdPoints,
		"points":    m.state.LastPnLPoints,
	}).Warn("daily threshold reached, trading halted for the day")
	m.publish(trading.EventHalt, in, func(e *trading.Event) {
		e.Message = fmt.Sprintf("threshold %v reached", m.cfg.ExitThresholdPoints)
	})
	return err
}

func (m *Machine) retryHaltSquareOff(ctx context.Context, in Input) (Action, error) {
	squared, err := m.squareOff(ctx, in)
	if err != nil {
		return ActionNone, err
	}
	m.update(func(s *trading.TradeState) { s.PendingSquareOff = false })
	return squaredAction(squared), nil
}

func (m *Machine) hasLiveOrder(ctx context.Context) (bool, error) {
	orders, err := m.broker.ListOrders(ctx)
	if err != nil {
		return false, fmt.Errorf("list orders for %s: %w", m.cfg.TradingSymbol, err)
	}
	for _, o := range orders {
		if o.TradingSymbol == m.cfg.TradingSymbol && o.Status.IsLive() {
			return true, nil
		}
	}
	return false, nil
}

// place sends an entry or reversal with its protective stop at stop.
func (m *Machine) place(ctx context.Context, direction trading.Direction, qty int64, stop decimal.Decimal) (string, error) {
	req := m.request(direction, qty)
	req.TriggerPrice = stop
	return m.broker.PlaceOrder(ctx, req)
}

// flatten sends a square-off order; the broker drops the symbol's stops.
func (m *Machine) flatten(ctx context.Context, direction trading.Direction, qty int64) (string, error) {
	req := m.request(direction, qty)
	req.SquareOff = true
	return m.broker.PlaceOrder(ctx, req)
}

func (m *Machine) request(direction trading.Direction, qty int64) trading.OrderRequest {
	return trading.OrderRequest{
		InstrumentID:  m.cfg.InstrumentID,
		TradingSymbol: m.cfg.TradingSymbol,
		Exchange:      m.cfg.Exchange,
		Product:       m.cfg.Product,
		Direction:     direction,
		Quantity:      qty,
	}
}

func (m *Machine) rejected(action Action, in Input, direction trading.Direction, err error) {
	m.recorder.OrderFailed(action)
	entry := m.logger.WithError(err).WithFields(logrus.Fields{"action": action, "direction": direction})
	var orderErr *trading.OrderError
	if errors.As(err, &orderErr) && errors.Is(err, trading.ErrOrderRejected) {
		entry.Warn("order rejected by broker")
	} else {
		entry.Error("order placement failed")
	}
	m.publish(trading.EventRejected, in, func(e *trading.Event) {
		e.Direction = direction
		e.Message = err.Error()
	})
}
