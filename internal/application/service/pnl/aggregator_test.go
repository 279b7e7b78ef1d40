package pnl

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	trading "algotrader/internal/domain/entity/trading"

	"github.com/shopspring/decimal"
)

type stubBroker struct {
	orders []trading.Order
	calls  int
}

func (b *stubBroker) ListOrders(context.Context) ([]trading.Order, error) {
	b.calls++
	return b.orders, nil
}

func (b *stubBroker) ListPositions(context.Context) ([]trading.Position, error) { return nil, nil }

func (b *stubBroker) PlaceOrder(context.Context, trading.OrderRequest) (string, error) {
	return "", nil
}

func (b *stubBroker) ModifyOrder(context.Context, string, decimal.Decimal) error { return nil }

type mapStore struct {
	mu   sync.Mutex
	data map[string]map[string]float64
}

func newMapStore() *mapStore {
	return &mapStore{data: make(map[string]map[string]float64)}
}

func (s *mapStore) SetPoints(_ context.Context, day, symbol string, points float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data[day] == nil {
		s.data[day] = make(map[string]float64)
	}
	s.data[day][symbol] = points
	return nil
}

func (s *mapStore) GetPoints(_ context.Context, day string, symbols []string) (map[string]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]float64, len(symbols))
	for _, sym := range symbols {
		if v, ok := s.data[day][sym]; ok {
			out[sym] = v
		}
	}
	return out, nil
}

var t0 = time.Date(2024, 10, 1, 9, 30, 0, 0, time.UTC)

func fill(symbol string, d trading.Direction, qty int64, price float64, offset time.Duration) trading.Order {
	return trading.Order{
		OrderID:         symbol + offset.String(),
		TradingSymbol:   symbol,
		TransactionType: d,
		Quantity:        qty,
		FilledQuantity:  qty,
		AveragePrice:    price,
		Status:          trading.OrderStatusComplete,
		ExecutedAt:      t0.Add(offset),
	}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestReplayFIFO(t *testing.T) {
	orders := []trading.Order{
		// out of order on purpose, replay sorts by execution time
		fill("NIFTY", trading.DirectionSell, 50, 110, 2*time.Minute),
		fill("NIFTY", trading.DirectionBuy, 25, 100, 0),
		fill("NIFTY", trading.DirectionBuy, 25, 104, time.Minute),
		fill("NIFTY", trading.DirectionSell, 25, 108, 3*time.Minute),
		{TradingSymbol: "NIFTY", TransactionType: trading.DirectionBuy, Quantity: 25, AveragePrice: 1, Status: trading.OrderStatusRejected, ExecutedAt: t0},
	}
	res := Replay(orders, 106)

	// longs closed: 25*(110-100) + 25*(110-104) = 400
	if !approx(res.Realized, 400) {
		t.Fatalf("realized = %v, want 400", res.Realized)
	}
	// open short 25 @108 marked at 106
	if !approx(res.Unrealized, 50) {
		t.Fatalf("unrealized = %v, want 50", res.Unrealized)
	}
	if res.OpenQty != -25 {
		t.Fatalf("open qty = %d, want -25", res.OpenQty)
	}
}

func TestReplayReversalThroughZero(t *testing.T) {
	orders := []trading.Order{
		fill("X", trading.DirectionBuy, 10, 100, 0),
		fill("X", trading.DirectionSell, 20, 95, time.Minute),
	}
	res := Replay(orders, 0)
	if !approx(res.Realized, -50) {
		t.Fatalf("realized = %v, want -50", res.Realized)
	}
	if res.Unrealized != 0 {
		t.Fatalf("unrealized without a price = %v, want 0", res.Unrealized)
	}
	if res.OpenQty != -10 {
		t.Fatalf("open qty = %d, want -10", res.OpenQty)
	}
}

func TestRecomputePointsPerShare(t *testing.T) {
	broker := &stubBroker{orders: []trading.Order{
		fill("A", trading.DirectionBuy, 50, 100, 0),
		fill("A", trading.DirectionSell, 50, 120, time.Minute),
		fill("B", trading.DirectionBuy, 10, 100, 0),
	}}
	configs := []trading.InstrumentConfig{
		{InstrumentID: "1", TradingSymbol: "A", LotSize: 50, ExitThresholdPoints: 500},
		{InstrumentID: "2", TradingSymbol: "B", LotSize: 10, ExitThresholdPoints: 500},
	}
	agg := NewAggregator(broker, newMapStore(), configs, time.UTC, time.Minute)

	points, err := agg.Recompute(context.Background(), "2024-10-01", "A", 0)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if !approx(points, 20) {
		t.Fatalf("points = %v, want 20", points)
	}
	if _, err := agg.Recompute(context.Background(), "2024-10-01", "Z", 0); err == nil {
		t.Fatal("expected error for unknown symbol")
	}
}

func TestRefreshThrottleAndGroupTotal(t *testing.T) {
	broker := &stubBroker{orders: []trading.Order{
		fill("A", trading.DirectionBuy, 1, 100, 0),
		fill("A", trading.DirectionSell, 1, 600, time.Minute),
	}}
	configs := []trading.InstrumentConfig{
		{InstrumentID: "1", TradingSymbol: "A", LotSize: 1, ExitThresholdPoints: 500},
		{InstrumentID: "2", TradingSymbol: "B", LotSize: 1, ExitThresholdPoints: 500},
		{InstrumentID: "3", TradingSymbol: "C", LotSize: 1, ExitThresholdPoints: 100},
	}
	store := newMapStore()
	agg := NewAggregator(broker, store, configs, time.UTC, time.Minute)
	now := t0
	agg.now = func() time.Time { return now }
	ctx := context.Background()

	if _, err := agg.Refresh(ctx, "2024-10-01", "A", 0, false); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, err := agg.Refresh(ctx, "2024-10-01", "A", 0, false); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if broker.calls != 1 {
		t.Fatalf("broker calls = %d, want 1 within refresh period", broker.calls)
	}
	if _, err := agg.Refresh(ctx, "2024-10-01", "A", 0, true); err != nil {
		t.Fatalf("forced refresh: %v", err)
	}
	if broker.calls != 2 {
		t.Fatalf("broker calls = %d, want 2 after forced refresh", broker.calls)
	}
	now = now.Add(2 * time.Minute)
	_, _ = agg.Refresh(ctx, "2024-10-01", "A", 0, false)
	if broker.calls != 3 {
		t.Fatalf("broker calls = %d, want 3 after refresh period", broker.calls)
	}

	total, err := agg.GroupTotal(ctx, "2024-10-01", 500)
	if err != nil {
		t.Fatalf("group total: %v", err)
	}
	if !approx(total, 500) {
		t.Fatalf("group total = %v, want 500", total)
	}
	other, _ := agg.GroupTotal(ctx, "2024-10-01", 100)
	if other != 0 {
		t.Fatalf("unrelated group total = %v, want 0", other)
	}

	summaries, err := agg.Summaries(ctx, "2024-10-01")
	if err != nil {
		t.Fatalf("summaries: %v", err)
	}
	if len(summaries) != 2 || summaries[1].Threshold != 500 || !summaries[1].Halted || summaries[0].Halted {
		t.Fatalf("unexpected summaries: %+v", summaries)
	}
}

func TestRefreshIgnoresFillsFromEarlierDays(t *testing.T) {
	prev := time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)
	broker := &stubBroker{orders: []trading.Order{
		{OrderID: "p1", TradingSymbol: "A", TransactionType: trading.DirectionBuy, Quantity: 1, FilledQuantity: 1, AveragePrice: 100, Status: trading.OrderStatusComplete, ExecutedAt: prev},
		{OrderID: "p2", TradingSymbol: "A", TransactionType: trading.DirectionSell, Quantity: 1, FilledQuantity: 1, AveragePrice: 110, Status: trading.OrderStatusComplete, ExecutedAt: prev.Add(time.Minute)},
	}}
	configs := []trading.InstrumentConfig{{InstrumentID: "1", TradingSymbol: "A", LotSize: 1, ExitThresholdPoints: 5}}
	agg := NewAggregator(broker, newMapStore(), configs, time.UTC, time.Minute)
	ctx := context.Background()

	points, err := agg.Refresh(ctx, "2026-10-16", "A", 0, true)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if points != 0 {
		t.Fatalf("points = %v, want 0 for a day without fills", points)
	}
	if total, _ := agg.GroupTotal(ctx, "2026-10-16", 5); total != 0 {
		t.Fatalf("group total = %v, want 0", total)
	}

	points, err = agg.Refresh(ctx, "2026-10-15", "A", 0, true)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !approx(points, 10) {
		t.Fatalf("points = %v, want 10 on the day of the fills", points)
	}
}

func TestRecomputeUsesSessionZoneForDay(t *testing.T) {
	loc := time.FixedZone("MSK", 3*3600)
	// 22:00 UTC on the 15th is 01:00 on the 16th in the session zone.
	late := time.Date(2026, 10, 15, 22, 0, 0, 0, time.UTC)
	broker := &stubBroker{orders: []trading.Order{
		{OrderID: "1", TradingSymbol: "A", TransactionType: trading.DirectionBuy, Quantity: 1, FilledQuantity: 1, AveragePrice: 100, Status: trading.OrderStatusComplete, ExecutedAt: late},
		{OrderID: "2", TradingSymbol: "A", TransactionType: trading.DirectionSell, Quantity: 1, FilledQuantity: 1, AveragePrice: 104, Status: trading.OrderStatusComplete, ExecutedAt: late.Add(time.Minute)},
	}}
	configs := []trading.InstrumentConfig{{InstrumentID: "1", TradingSymbol: "A", LotSize: 1}}
	agg := NewAggregator(broker, newMapStore(), configs, loc, time.Minute)

	if points, _ := agg.Recompute(context.Background(), "2026-10-16", "A", 0); !approx(points, 4) {
		t.Fatalf("points on local day = %v, want 4", points)
	}
	if points, _ := agg.Recompute(context.Background(), "2026-10-15", "A", 0); points != 0 {
		t.Fatalf("points on utc day = %v, want 0", points)
	}
}

func TestGroups(t *testing.T) {
	groups := Groups([]trading.InstrumentConfig{
		{TradingSymbol: "B", ExitThresholdPoints: 500},
		{TradingSymbol: "A", ExitThresholdPoints: 500},
		{TradingSymbol: "C", ExitThresholdPoints: 0},
	})
	if got := groups[500]; len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Fatalf("group 500 = %v", got)
	}
	if got := groups[0]; len(got) != 1 || got[0] != "C" {
		t.Fatalf("group 0 = %v", got)
	}
}
