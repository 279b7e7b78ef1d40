// Package trading drives the per-instrument order lifecycle: entry on a
// breakout, trailing the protective stop, reversal or square-off on a stop
// hit, and the daily halt once the threshold group's P/L reaches its limit.
package trading

import (
	"context"
	"sync"
	"time"

	marketdata "algotrader/internal/domain/entity/marketdata"
	trading "algotrader/internal/domain/entity/trading"
	interfaces "algotrader/internal/domain/interfaces"

	"github.com/sirupsen/logrus"
)

// Action is the first action a step took, if any.
type Action string

const (
	ActionNone      Action = ""
	ActionEntry     Action = "entry"
	ActionTrail     Action = "trail"
	ActionSquareOff Action = "square_off"
	ActionReversal  Action = "reversal"
	ActionHalt      Action = "halt"
)

// PnL is the slice of the P/L aggregator the machine depends on.
type PnL interface {
	Refresh(ctx context.Context, day, symbol string, lastPrice float64, force bool) (float64, error)
	GroupTotal(ctx context.Context, day string, threshold float64) (float64, error)
}

// Recorder receives trading metrics.
type Recorder interface {
	OrderPlaced(action Action, direction trading.Direction)
	OrderFailed(action Action)
	Halted(symbol string)
	Points(symbol string, points float64)
}

type nopRecorder struct{}

func (nopRecorder) OrderPlaced(Action, trading.Direction) {}
func (nopRecorder) OrderFailed(Action)                    {}
func (nopRecorder) Halted(string)                         {}
func (nopRecorder) Points(string, float64)                {}

// Input is everything one step needs besides the machine's own state.
type Input struct {
	Series marketdata.Series
	Price  float64
	At     time.Time
	// Day is the local trading date, YYYY-MM-DD.
	Day string
	// Bucket is the start of the forming candle.
	Bucket time.Time
	// ActionsAllowed is false after the exchange cutoff.
	ActionsAllowed bool
}

// Machine owns the TradeState of one instrument. Step must be called from a
// single goroutine; Snapshot is safe from any goroutine.
type Machine struct {
	cfg      trading.InstrumentConfig
	broker   interfaces.Broker
	pnl      PnL
	events   interfaces.EventPublisher
	recorder Recorder
	logger   *logrus.Entry

	mu    sync.RWMutex
	state trading.TradeState

	forceRefresh bool
}

// Option customizes a Machine.
type Option func(*Machine)

func WithRecorder(r Recorder) Option {
	return func(m *Machine) {
		if r != nil {
			m.recorder = r
		}
	}
}

func NewMachine(cfg trading.InstrumentConfig, broker interfaces.Broker, pnl PnL, events interfaces.EventPublisher, logger *logrus.Entry, opts ...Option) *Machine {
	m := &Machine{
		cfg:      cfg,
		broker:   broker,
		pnl:      pnl,
		events:   events,
		recorder: nopRecorder{},
		logger: logger.WithFields(logrus.Fields{
			"instrument": cfg.InstrumentID,
			"symbol":     cfg.TradingSymbol,
		}),
		state:        trading.NewTradeState(cfg),
		forceRefresh: true,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Snapshot returns a copy of the current state.
func (m *Machine) Snapshot() trading.TradeState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Step runs one evaluation for the latest tick. Order: day rollover, session
// gate, halt check, then trail and stop handling for an open position or an
// entry check when flat. It stops at the first action taken.
func (m *Machine) Step(ctx context.Context, in Input) (Action, error) {
	m.rollover(in.Day)

	if m.state.CloseTradeForDay {
		if m.state.PendingSquareOff {
			return m.retryHaltSquareOff(ctx, in)
		}
		return ActionNone, nil
	}
	if !in.ActionsAllowed {
		return ActionNone, nil
	}

	entriesBlocked := false
	if halted, err := m.checkHalt(ctx, in); err != nil {
		m.logger.WithError(err).Warn("p/l check failed, entries suspended for this tick")
		entriesBlocked = true
	} else if halted {
		return ActionHalt, m.halt(ctx, in)
	}

	if m.state.Active() {
		if m.state.PendingSquareOff {
			return m.handleStop(ctx, in)
		}
		action, err := m.trail(ctx, in)
		if err != nil {
			m.logger.WithError(err).Warn("trailing stop update failed")
		} else if action != ActionNone {
			return action, nil
		}
		if m.stopHit(in.Price) {
			return m.handleStop(ctx, in)
		}
		return ActionNone, nil
	}

	if entriesBlocked {
		return ActionNone, nil
	}
	return m.enter(ctx, in)
}

func (m *Machine) update(fn func(s *trading.TradeState)) {
	m.mu.Lock()
	fn(&m.state)
	m.state.UpdatedAt = time.Now().UTC()
	m.mu.Unlock()
}

func (m *Machine) rollover(day string) {
	if day == "" || m.state.TradingDay == day {
		return
	}
	previous := m.state.TradingDay
	m.update(func(s *trading.TradeState) {
		s.TradingDay = day
		s.StoppedBucket = time.Time{}
		s.LastPnLPoints = 0
		if s.CloseTradeForDay {
			s.CloseTradeForDay = false
			s.PendingSquareOff = false
			s.Phase = trading.PhaseFlat
		}
	})
	m.forceRefresh = true
	if previous != "" {
		m.logger.WithFields(logrus.Fields{"from": previous, "to": day}).Info("trading day rolled over")
	}
}

// checkHalt refreshes this symbol's points, then reads the group total.
// The store write happens before the read so the decision sees our value.
func (m *Machine) checkHalt(ctx context.Context, in Input) (bool, error) {
	points, err := m.pnl.Refresh(ctx, in.Day, m.cfg.TradingSymbol, in.Price, m.forceRefresh)
	if err != nil {
		return false, err
	}
	m.forceRefresh = false
	m.recorder.Points(m.cfg.TradingSymbol, points)
	m.update(func(s *trading.TradeState) { s.LastPnLPoints = points })

	if !m.cfg.HaltEnabled() {
		return false, nil
	}
	total, err := m.pnl.GroupTotal(ctx, in.Day, m.cfg.ExitThresholdPoints)
	if err != nil {
		return false, err
	}
	return total >= m.cfg.ExitThresholdPoints, nil
}

func (m *Machine) stopHit(price float64) bool {
	stop, _ := m.state.CurrentStopPrice.Float64()
	switch m.state.CurrentOrderType {
	case trading.DirectionBuy:
		return price <= stop
	case trading.DirectionSell:
		return price >= stop
	default:
		return false
	}
}

func (m *Machine) publish(kind trading.EventKind, in Input, fn func(e *trading.Event)) {
	if m.events == nil {
		return
	}
	e := trading.NewEvent(kind, m.cfg, in.At)
	e.Price = in.Price
	if fn != nil {
		fn(&e)
	}
	m.events.Publish(e)
}
