// Package engine routes feed ticks to per-instrument workers. Each
// instrument owns a bounded queue drained by exactly one goroutine, so its
// candle builder and state machine never run concurrently while different
// instruments proceed in parallel.
package engine

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"time"

	candles "algotrader/internal/application/service/marketdata"
	tradingsvc "algotrader/internal/application/service/trading"
	marketdata "algotrader/internal/domain/entity/marketdata"
	trading "algotrader/internal/domain/entity/trading"
	interfaces "algotrader/internal/domain/interfaces"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Drop reasons reported to Metrics.
const (
	DropUnknownInstrument = "unknown_instrument"
	DropBeforeSession     = "before_session"
	DropQueueFull         = "queue_full"
	DropStopped           = "stopped"
	DropMalformed         = "malformed"
	DropLate              = "late"
)

// Metrics receives engine counters.
type Metrics interface {
	TickProcessed(instrumentID string)
	TickDropped(reason string)
	QueueDepth(instrumentID string, depth int)
	Action(instrumentID string, action tradingsvc.Action)
}

type nopMetrics struct{}

func (nopMetrics) TickProcessed(string)             {}
func (nopMetrics) TickDropped(string)               {}
func (nopMetrics) QueueDepth(string, int)           {}
func (nopMetrics) Action(string, tradingsvc.Action) {}

// Deps are the collaborators shared by every instrument.
type Deps struct {
	Candles  interfaces.CandleRepository
	Broker   interfaces.Broker
	PnL      tradingsvc.PnL
	Events   interfaces.EventPublisher
	Recorder tradingsvc.Recorder
	Metrics  Metrics
	// Observer receives every routed price before the state machine runs;
	// the paper broker uses it to fill at the latest price.
	Observer interfaces.PriceObserver
}

// Options tune queueing and in-flight order handling.
type Options struct {
	QueueSize    int
	OrderTimeout time.Duration
}

type worker struct {
	cfg     trading.InstrumentConfig
	builder *candles.Builder
	machine *tradingsvc.Machine
	queue   chan marketdata.Tick
	logger  *logrus.Entry
}

type Engine struct {
	session  *Session
	opts     Options
	metrics  Metrics
	observer interfaces.PriceObserver
	logger   *logrus.Entry

	workers map[string]*worker
	order   []string
	stopped atomic.Bool
}

func New(configs []trading.InstrumentConfig, session *Session, deps Deps, opts Options, logger *logrus.Logger) *Engine {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.OrderTimeout <= 0 {
		opts.OrderTimeout = 10 * time.Second
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	entry := logger.WithField("component", "engine")

	e := &Engine{
		session:  session,
		opts:     opts,
		metrics:  metrics,
		observer: deps.Observer,
		logger:   entry,
		workers:  make(map[string]*worker, len(configs)),
	}
	store := candles.NewService(deps.Candles)
	for _, cfg := range configs {
		wlog := entry.WithFields(logrus.Fields{"instrument": cfg.InstrumentID, "symbol": cfg.TradingSymbol})
		e.workers[cfg.InstrumentID] = &worker{
			cfg:     cfg,
			builder: candles.NewBuilder(cfg.InstrumentID, cfg.IntervalMinutes, store, entry),
			machine: tradingsvc.NewMachine(cfg, deps.Broker, deps.PnL, deps.Events, entry, tradingsvc.WithRecorder(deps.Recorder)),
			queue:   make(chan marketdata.Tick, opts.QueueSize),
			logger:  wlog,
		}
		e.order = append(e.order, cfg.InstrumentID)
	}
	sort.Strings(e.order)
	return e
}

// InstrumentIDs lists the routed instruments in a stable order.
func (e *Engine) InstrumentIDs() []string {
	return append([]string(nil), e.order...)
}

// Restore loads candle history for every instrument.
func (e *Engine) Restore(ctx context.Context) error {
	var errs []error
	for _, id := range e.order {
		if err := e.workers[id].builder.Restore(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dispatch enqueues a feed batch without blocking. It is the feed's TickSink.
func (e *Engine) Dispatch(ticks []marketdata.Tick) {
	for _, tick := range ticks {
		if e.stopped.Load() {
			e.metrics.TickDropped(DropStopped)
			continue
		}
		w, ok := e.workers[tick.InstrumentID]
		if !ok {
			e.metrics.TickDropped(DropUnknownInstrument)
			e.logger.WithField("instrument", tick.InstrumentID).Debug("tick for unknown instrument skipped")
			continue
		}
		if !tick.EventTime.IsZero() && !e.session.Open(tick.EventTime) {
			e.metrics.TickDropped(DropBeforeSession)
			continue
		}
		select {
		case w.queue <- tick:
			e.metrics.QueueDepth(tick.InstrumentID, len(w.queue))
		default:
			e.metrics.TickDropped(DropQueueFull)
			w.logger.WithField("queue_size", cap(w.queue)).Warn("instrument queue full, tick dropped")
		}
	}
}

// Run drains every instrument queue until ctx is done. A tick being
// processed when ctx ends still completes within the order timeout.
func (e *Engine) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range e.order {
		w := e.workers[id]
		g.Go(func() error {
			e.loop(gctx, w)
			return nil
		})
	}
	err := g.Wait()
	e.stopped.Store(true)
	return err
}

func (e *Engine) loop(ctx context.Context, w *worker) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-w.queue:
			e.metrics.QueueDepth(w.cfg.InstrumentID, len(w.queue))
			e.process(ctx, w, tick)
		}
	}
}

func (e *Engine) process(ctx context.Context, w *worker, tick marketdata.Tick) {
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.OrderTimeout)
	defer cancel()

	tick.EventTime = e.session.Local(tick.EventTime)
	if err := w.builder.ProcessTick(opCtx, tick); err != nil {
		switch {
		case errors.Is(err, marketdata.ErrLateTick):
			e.metrics.TickDropped(DropLate)
		default:
			e.metrics.TickDropped(DropMalformed)
		}
		w.logger.WithError(err).Warn("tick dropped")
		return
	}
	if e.observer != nil {
		e.observer.ObservePrice(tick.InstrumentID, tick.Price)
	}

	action, err := w.machine.Step(opCtx, tradingsvc.Input{
		Series:         w.builder.Series(),
		Price:          tick.Price,
		At:             tick.EventTime,
		Day:            e.session.Day(tick.EventTime),
		Bucket:         w.builder.Bucket(),
		ActionsAllowed: e.session.ActionsAllowed(w.cfg.Exchange, tick.EventTime),
	})
	e.metrics.TickProcessed(tick.InstrumentID)
	if action != tradingsvc.ActionNone {
		e.metrics.Action(tick.InstrumentID, action)
	}
	if err != nil {
		w.logger.WithError(err).WithField("action", action).Warn("trading step failed")
	}
}

// States snapshots every instrument's trading state.
func (e *Engine) States() []trading.TradeState {
	out := make([]trading.TradeState, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.workers[id].machine.Snapshot())
	}
	return out
}

// Stop makes Dispatch drop further ticks.
func (e *Engine) Stop() {
	e.stopped.Store(true)
}
