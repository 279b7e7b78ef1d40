package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	marketdata "algotrader/internal/domain/entity/marketdata"
)

// singleRepo has no batch write.
type singleRepo struct {
	written []marketdata.Candle
}

func (r *singleRepo) UpsertCandle(_ context.Context, c marketdata.Candle) error {
	r.written = append(r.written, c)
	return nil
}

func (r *singleRepo) GetLastCandles(context.Context, string, int, int) ([]marketdata.Candle, error) {
	return nil, nil
}

func (r *singleRepo) Close() {}

func candleAt(ts time.Time, price float64) marketdata.Candle {
	return marketdata.Candle{InstrumentID: "738561", IntervalMinutes: 5, BucketStart: ts, Open: price, High: price, Low: price, Close: price}
}

func TestServiceRejectsInvalidCandle(t *testing.T) {
	repo := &singleRepo{}
	svc := NewService(repo)
	bad := candleAt(at(9, 15, 0), 100)
	bad.High = 90

	if err := svc.UpsertCandle(context.Background(), bad); !errors.Is(err, marketdata.ErrInvalidCandle) {
		t.Fatalf("err = %v, want ErrInvalidCandle", err)
	}
	good := candleAt(at(9, 20, 0), 100)
	if err := svc.UpsertCandles(context.Background(), []marketdata.Candle{good, bad}); !errors.Is(err, marketdata.ErrInvalidCandle) {
		t.Fatalf("batch err = %v, want ErrInvalidCandle", err)
	}
	if len(repo.written) != 0 {
		t.Fatalf("wrote %d candles despite invalid input", len(repo.written))
	}
}

func TestServiceUpsertCandlesFallsBackToSingleWrites(t *testing.T) {
	repo := &singleRepo{}
	candles := []marketdata.Candle{candleAt(at(9, 15, 0), 100), candleAt(at(9, 20, 0), 101)}
	if err := NewService(repo).UpsertCandles(context.Background(), candles); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if len(repo.written) != 2 {
		t.Fatalf("written = %d, want 2", len(repo.written))
	}

	batched := newMemoryRepo()
	if err := NewService(batched).UpsertCandles(context.Background(), candles); err != nil {
		t.Fatalf("batched upsert: %v", err)
	}
	if batched.batches != 1 || batched.upserts != 0 {
		t.Fatalf("batches = %d, upserts = %d", batched.batches, batched.upserts)
	}
}

func TestServiceBoundsReads(t *testing.T) {
	svc := NewService(&singleRepo{})
	ctx := context.Background()
	if _, err := svc.GetLastCandles(ctx, " ", 5, 10); !errors.Is(err, ErrEmptyInstrument) {
		t.Fatalf("err = %v", err)
	}
	if _, err := svc.GetLastCandles(ctx, "1", 0, 10); !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("err = %v", err)
	}
	if _, err := svc.GetLastCandles(ctx, "1", 5, 0); !errors.Is(err, ErrInvalidLimit) {
		t.Fatalf("err = %v", err)
	}
}
