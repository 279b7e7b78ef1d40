package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sort"

	domain "algotrader/internal/domain/entity/marketdata"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository stores candles in Postgres, one row per
// (instrument_id, interval_minutes, bucket_start).
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(ctx context.Context, dsn string) (*Repository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pgx config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	return &Repository{pool: pool}, nil
}

func (r *Repository) Close() {
	if r == nil || r.pool == nil {
		return
	}
	r.pool.Close()
}

const createCandlesTable = `
	CREATE TABLE IF NOT EXISTS candles (
		instrument_id    TEXT             NOT NULL,
		interval_minutes INTEGER          NOT NULL,
		bucket_start     TIMESTAMPTZ      NOT NULL,
		open             DOUBLE PRECISION NOT NULL,
		high             DOUBLE PRECISION NOT NULL,
		low              DOUBLE PRECISION NOT NULL,
		close            DOUBLE PRECISION NOT NULL,
		volume           BIGINT           NOT NULL DEFAULT 0,
		updated_at       TIMESTAMPTZ      NOT NULL DEFAULT now(),
		PRIMARY KEY (instrument_id, interval_minutes, bucket_start)
	)`

// EnsureSchema creates the candles table when missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, createCandlesTable); err != nil {
		return fmt.Errorf("create candles table: %w", err)
	}
	return nil
}

const upsertCandleQuery = `
	INSERT INTO candles (instrument_id, interval_minutes, bucket_start, open, high, low, close, volume)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	ON CONFLICT (instrument_id, interval_minutes, bucket_start) DO UPDATE
	SET open = EXCLUDED.open,
	    high = EXCLUDED.high,
	    low = EXCLUDED.low,
	    close = EXCLUDED.close,
	    volume = EXCLUDED.volume,
	    updated_at = now()`

func (r *Repository) UpsertCandle(ctx context.Context, candle domain.Candle) error {
	_, err := r.pool.Exec(ctx, upsertCandleQuery, candleArgs(candle)...)
	if err != nil {
		return fmt.Errorf("upsert candle %s@%s: %w", candle.InstrumentID, candle.BucketStart.Format(domain.StartTimeLayout), err)
	}
	return nil
}

// UpsertCandles writes many candles in one round trip.
func (r *Repository) UpsertCandles(ctx context.Context, candles []domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, c := range candles {
		batch.Queue(upsertCandleQuery, candleArgs(c)...)
	}
	results := r.pool.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("upsert candle batch: %w", err)
		}
	}
	return results.Close()
}

// GetLastCandles returns up to limit candles, oldest first.
func (r *Repository) GetLastCandles(ctx context.Context, instrumentID string, intervalMinutes int, limit int) ([]domain.Candle, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}
	const query = `
		SELECT instrument_id, interval_minutes, bucket_start, open, high, low, close, volume
		FROM candles
		WHERE instrument_id=$1 AND interval_minutes=$2
		ORDER BY bucket_start DESC
		LIMIT $3`
	rows, err := r.pool.Query(ctx, query, instrumentID, intervalMinutes, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candles []domain.Candle
	for rows.Next() {
		candle, err := scanCandle(rows)
		if err != nil {
			return nil, err
		}
		candles = append(candles, candle)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].BucketStart.Before(candles[j].BucketStart)
	})
	return candles, nil
}

func candleArgs(c domain.Candle) []interface{} {
	return []interface{}{
		c.InstrumentID,
		c.IntervalMinutes,
		c.BucketStart,
		c.Open,
		c.High,
		c.Low,
		c.Close,
		c.Volume,
	}
}

func scanCandle(row pgx.Row) (domain.Candle, error) {
	candle := domain.Candle{}
	err := row.Scan(
		&candle.InstrumentID,
		&candle.IntervalMinutes,
		&candle.BucketStart,
		&candle.Open,
		&candle.High,
		&candle.Low,
		&candle.Close,
		&candle.Volume,
	)
	if err != nil {
		return domain.Candle{}, err
	}
	return candle, nil
}
