package pnl

import (
	"context"
	"sync"
	"testing"
)

func TestMemoryStoreConcurrentWriters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	symbols := []string{"A", "B", "C", "D"}

	var wg sync.WaitGroup
	for i, symbol := range symbols {
		i, symbol := i, symbol
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < 100; n++ {
				_ = store.SetPoints(ctx, "2024-10-01", symbol, float64(i*100+n))
			}
		}()
	}
	wg.Wait()

	points, err := store.GetPoints(ctx, "2024-10-01", symbols)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	for i, symbol := range symbols {
		if want := float64(i*100 + 99); points[symbol] != want {
			t.Fatalf("%s = %v, want %v", symbol, points[symbol], want)
		}
	}
}

func TestMemoryStoreKeepsDaysApart(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.SetPoints(ctx, "2024-10-01", "A", 120)
	_ = store.SetPoints(ctx, "2024-10-02", "A", 5)

	old, _ := store.GetPoints(ctx, "2024-10-01", []string{"A"})
	if _, ok := old["A"]; ok {
		t.Fatal("previous day survived rollover")
	}
	cur, _ := store.GetPoints(ctx, "2024-10-02", []string{"A", "B"})
	if cur["A"] != 5 || len(cur) != 1 {
		t.Fatalf("unexpected points: %v", cur)
	}
}
