package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	tradingsvc "algotrader/internal/application/service/trading"
	marketdata "algotrader/internal/domain/entity/marketdata"
	trading "algotrader/internal/domain/entity/trading"

	"github.com/shopspring/decimal"
)

type candleStore struct {
	mu      sync.Mutex
	candles map[string]marketdata.Candle
}

func (s *candleStore) UpsertCandle(_ context.Context, c marketdata.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candles[c.InstrumentID+c.BucketStart.Format(marketdata.StartTimeLayout)] = c
	return nil
}

func (s *candleStore) GetLastCandles(context.Context, string, int, int) ([]marketdata.Candle, error) {
	return nil, nil
}

func (s *candleStore) Close() {}

type orderBook struct {
	mu     sync.Mutex
	placed []trading.OrderRequest
}

func (b *orderBook) ListOrders(context.Context) ([]trading.Order, error)       { return nil, nil }
func (b *orderBook) ListPositions(context.Context) ([]trading.Position, error) { return nil, nil }

func (b *orderBook) PlaceOrder(_ context.Context, req trading.OrderRequest) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.placed = append(b.placed, req)
	return "paper-1", nil
}

func (b *orderBook) ModifyOrder(context.Context, string, decimal.Decimal) error { return nil }

type zeroPnL struct{}

func (zeroPnL) Refresh(context.Context, string, string, float64, bool) (float64, error) {
	return 0, nil
}

func (zeroPnL) GroupTotal(context.Context, string, float64) (float64, error) { return 0, nil }

type countingMetrics struct {
	mu        sync.Mutex
	processed int
	dropped   map[string]int
	actions   []tradingsvc.Action
	want      int
	done      chan struct{}
}

func newCountingMetrics(want int) *countingMetrics {
	return &countingMetrics{dropped: make(map[string]int), want: want, done: make(chan struct{})}
}

func (m *countingMetrics) TickProcessed(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed++
	if m.processed == m.want {
		close(m.done)
	}
}

func (m *countingMetrics) TickDropped(reason string) {
	m.mu.Lock()
	m.dropped[reason]++
	m.mu.Unlock()
}

func (m *countingMetrics) QueueDepth(string, int) {}

func (m *countingMetrics) Action(_ string, a tradingsvc.Action) {
	m.mu.Lock()
	m.actions = append(m.actions, a)
	m.mu.Unlock()
}

func TestEngineRoutesTicksToEntry(t *testing.T) {
	cfg := trading.InstrumentConfig{
		InstrumentID:        "738561",
		TradingSymbol:       "RELIANCE",
		Exchange:            "NSE",
		LotSize:             10,
		BreakoutPercentage:  1,
		ExitThresholdPoints: 500,
		IntervalMinutes:     1,
		TradeSide:           trading.TradeSideBoth,
		Product:             trading.DefaultProduct,
	}
	session, err := NewSession(time.UTC, "09:00", map[string]string{"NSE": "15:00"}, "23:00")
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	store := &candleStore{candles: make(map[string]marketdata.Candle)}
	broker := &orderBook{}
	metrics := newCountingMetrics(10)
	e := New([]trading.InstrumentConfig{cfg}, session, Deps{
		Candles: store,
		Broker:  broker,
		PnL:     zeroPnL{},
		Metrics: metrics,
	}, Options{QueueSize: 64, OrderTimeout: time.Second}, silentLogger())

	at := func(minute, second int) time.Time {
		return time.Date(2024, 10, 1, 9, minute, second, 0, time.UTC)
	}
	tick := func(id string, ts time.Time, price float64) marketdata.Tick {
		return marketdata.Tick{InstrumentID: id, Price: price, Quantity: 1, EventTime: ts}
	}
	batch := []marketdata.Tick{
		tick("738561", at(15, 0), 95),
		tick("738561", at(15, 10), 100),
		tick("738561", at(15, 20), 90),
		tick("738561", at(15, 30), 96),
		tick("999", at(15, 31), 50),
		tick("738561", at(16, 0), 96),
		tick("738561", at(16, 10), 105),
		tick("738561", at(16, 20), 95),
		tick("738561", at(16, 30), 101),
		tick("738561", time.Date(2024, 10, 1, 8, 0, 0, 0, time.UTC), 200),
		tick("738561", at(17, 0), 104),
		tick("738561", at(17, 10), 108),
	}
	e.Dispatch(batch)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- e.Run(ctx) }()

	select {
	case <-metrics.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for ticks")
	}
	cancel()
	if err := <-runErr; err != nil {
		t.Fatalf("run: %v", err)
	}

	broker.mu.Lock()
	placed := append([]trading.OrderRequest(nil), broker.placed...)
	broker.mu.Unlock()
	if len(placed) != 1 {
		t.Fatalf("placed %d orders, want 1", len(placed))
	}
	if placed[0].Direction != trading.DirectionBuy || placed[0].Quantity != 10 || !placed[0].TriggerPrice.Equal(decimal.NewFromInt(89)) {
		t.Fatalf("unexpected order: %+v", placed[0])
	}

	states := e.States()
	if len(states) != 1 || states[0].Phase != trading.PhaseActive {
		t.Fatalf("unexpected states: %+v", states)
	}

	store.mu.Lock()
	n := len(store.candles)
	store.mu.Unlock()
	if n != 3 {
		t.Fatalf("stored %d candles, want 3", n)
	}

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if metrics.dropped[DropUnknownInstrument] != 1 || metrics.dropped[DropBeforeSession] != 1 {
		t.Fatalf("unexpected drops: %v", metrics.dropped)
	}
	if len(metrics.actions) != 1 || metrics.actions[0] != tradingsvc.ActionEntry {
		t.Fatalf("actions = %v", metrics.actions)
	}
}

func TestEngineDropsWhenQueueFull(t *testing.T) {
	cfg := trading.InstrumentConfig{InstrumentID: "1", TradingSymbol: "X", Exchange: "NSE", LotSize: 1, IntervalMinutes: 1, TradeSide: trading.TradeSideBoth}
	session, _ := NewSession(time.UTC, "09:00", nil, "23:00")
	metrics := newCountingMetrics(-1)
	e := New([]trading.InstrumentConfig{cfg}, session, Deps{
		Candles: &candleStore{candles: make(map[string]marketdata.Candle)},
		Broker:  &orderBook{},
		PnL:     zeroPnL{},
		Metrics: metrics,
	}, Options{QueueSize: 2}, silentLogger())

	ts := time.Date(2024, 10, 1, 10, 0, 0, 0, time.UTC)
	ticks := make([]marketdata.Tick, 5)
	for i := range ticks {
		ticks[i] = marketdata.Tick{InstrumentID: "1", Price: 100, Quantity: 1, EventTime: ts}
	}
	e.Dispatch(ticks)

	if got := metrics.dropped[DropQueueFull]; got != 3 {
		t.Fatalf("queue_full drops = %d, want 3", got)
	}

	e.Stop()
	e.Dispatch(ticks[:1])
	if got := metrics.dropped[DropStopped]; got != 1 {
		t.Fatalf("stopped drops = %d, want 1", got)
	}
}
