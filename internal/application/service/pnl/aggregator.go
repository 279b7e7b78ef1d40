// Package pnl rebuilds per-symbol profit from broker order history and sums
// it across instruments that share a daily exit threshold.
package pnl

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	trading "algotrader/internal/domain/entity/trading"
	interfaces "algotrader/internal/domain/interfaces"
)

var ErrUnknownSymbol = errors.New("symbol is not configured")

// Aggregator recomputes points-per-share and publishes them to a shared store.
// Writes for one symbol are serialized; different symbols proceed in parallel.
type Aggregator struct {
	broker  interfaces.Broker
	store   interfaces.PnLStore
	refresh time.Duration
	loc     *time.Location
	now     func() time.Time

	configs map[string]trading.InstrumentConfig
	groups  map[float64][]string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	last  map[string]refreshMark
}

type refreshMark struct {
	day    string
	at     time.Time
	points float64
}

// NewAggregator counts only fills whose execution time falls on the trading
// day in loc. A nil loc means UTC.
func NewAggregator(broker interfaces.Broker, store interfaces.PnLStore, configs []trading.InstrumentConfig, loc *time.Location, refresh time.Duration) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	a := &Aggregator{
		broker:  broker,
		store:   store,
		refresh: refresh,
		loc:     loc,
		now:     time.Now,
		configs: make(map[string]trading.InstrumentConfig, len(configs)),
		groups:  Groups(configs),
		locks:   make(map[string]*sync.Mutex, len(configs)),
		last:    make(map[string]refreshMark, len(configs)),
	}
	for _, cfg := range configs {
		a.configs[cfg.TradingSymbol] = cfg
		a.locks[cfg.TradingSymbol] = &sync.Mutex{}
	}
	return a
}

// Groups maps every exit threshold to the sorted symbols that share it.
func Groups(configs []trading.InstrumentConfig) map[float64][]string {
	groups := make(map[float64][]string)
	for _, cfg := range configs {
		groups[cfg.ExitThresholdPoints] = append(groups[cfg.ExitThresholdPoints], cfg.TradingSymbol)
	}
	for k := range groups {
		sort.Strings(groups[k])
	}
	return groups
}

// Recompute replays the symbol's completed orders executed on day and
// converts the money result into points per share using the lot size.
func (a *Aggregator) Recompute(ctx context.Context, day, symbol string, lastPrice float64) (float64, error) {
	cfg, ok := a.configs[symbol]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	orders, err := a.broker.ListOrders(ctx)
	if err != nil {
		return 0, fmt.Errorf("list orders for %s: %w", symbol, err)
	}
	own := orders[:0:0]
	for _, o := range orders {
		if o.TradingSymbol == symbol && o.ExecutedAt.In(a.loc).Format(time.DateOnly) == day {
			own = append(own, o)
		}
	}
	return Replay(own, lastPrice).Total() / float64(cfg.LotSize), nil
}

// Refresh recomputes and stores the symbol's points unless a value for the
// same day was stored less than the refresh period ago. force bypasses the
// throttle and is used right after an order action.
func (a *Aggregator) Refresh(ctx context.Context, day, symbol string, lastPrice float64, force bool) (float64, error) {
	lock := a.lock(symbol)
	if lock == nil {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	lock.Lock()
	defer lock.Unlock()

	now := a.now()
	a.mu.Lock()
	mark, seen := a.last[symbol]
	a.mu.Unlock()
	if !force && seen && mark.day == day && now.Sub(mark.at) < a.refresh {
		return mark.points, nil
	}

	points, err := a.Recompute(ctx, day, symbol, lastPrice)
	if err != nil {
		return 0, err
	}
	if err := a.store.SetPoints(ctx, day, symbol, points); err != nil {
		return 0, fmt.Errorf("store points for %s: %w", symbol, err)
	}

	a.mu.Lock()
	a.last[symbol] = refreshMark{day: day, at: now, points: points}
	a.mu.Unlock()
	return points, nil
}

// GroupTotal sums the stored points of every symbol sharing threshold.
func (a *Aggregator) GroupTotal(ctx context.Context, day string, threshold float64) (float64, error) {
	symbols := a.groups[threshold]
	if len(symbols) == 0 {
		return 0, nil
	}
	points, err := a.store.GetPoints(ctx, day, symbols)
	if err != nil {
		return 0, fmt.Errorf("read group %v: %w", threshold, err)
	}
	var total float64
	for _, symbol := range symbols {
		total += points[symbol]
	}
	return total, nil
}

// GroupSummary is the status view of one threshold group.
type GroupSummary struct {
	Threshold float64            `json:"threshold"`
	Symbols   map[string]float64 `json:"symbols"`
	Total     float64            `json:"total"`
	Halted    bool               `json:"halted"`
}

// Summaries reports every group's stored points for day, ordered by threshold.
func (a *Aggregator) Summaries(ctx context.Context, day string) ([]GroupSummary, error) {
	thresholds := make([]float64, 0, len(a.groups))
	for t := range a.groups {
		thresholds = append(thresholds, t)
	}
	sort.Float64s(thresholds)

	out := make([]GroupSummary, 0, len(thresholds))
	for _, t := range thresholds {
		points, err := a.store.GetPoints(ctx, day, a.groups[t])
		if err != nil {
			return nil, fmt.Errorf("read group %v: %w", t, err)
		}
		s := GroupSummary{Threshold: t, Symbols: make(map[string]float64, len(a.groups[t]))}
		for _, symbol := range a.groups[t] {
			s.Symbols[symbol] = points[symbol]
			s.Total += points[symbol]
		}
		s.Halted = t > 0 && s.Total >= t
		out = append(out, s)
	}
	return out, nil
}

func (a *Aggregator) lock(symbol string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.locks[symbol]
}
