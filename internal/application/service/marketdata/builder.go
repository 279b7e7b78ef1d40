package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	marketdata "algotrader/internal/domain/entity/marketdata"

	"github.com/sirupsen/logrus"
)

// HistoryLimit bounds the sealed candles kept in memory and loaded on restore.
const HistoryLimit = 500

// Builder aggregates the ticks of one instrument into interval candles.
// It is not safe for concurrent use; the engine gives every instrument a
// single worker goroutine.
type Builder struct {
	instrumentID string
	interval     int
	store        *Service
	logger       *logrus.Entry

	sealed  []marketdata.Candle
	forming *marketdata.Candle
	pending []marketdata.Candle
}

func NewBuilder(instrumentID string, intervalMinutes int, store *Service, logger *logrus.Entry) *Builder {
	return &Builder{
		instrumentID: instrumentID,
		interval:     intervalMinutes,
		store:        store,
		logger:       logger.WithField("instrument", instrumentID),
	}
}

// Restore loads recent candles from the store as sealed history.
func (b *Builder) Restore(ctx context.Context) error {
	candles, err := b.store.GetLastCandles(ctx, b.instrumentID, b.interval, HistoryLimit)
	if err != nil {
		return fmt.Errorf("load candles for %s: %w", b.instrumentID, err)
	}
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].BucketStart.Before(candles[j].BucketStart)
	})
	b.sealed = candles
	return nil
}

// ProcessTick folds the tick into the forming candle, sealing and persisting
// the previous candle when the tick opens a later bucket. Only malformed and
// late ticks return an error; store failures are logged and retried on the
// next tick.
func (b *Builder) ProcessTick(ctx context.Context, tick marketdata.Tick) error {
	if err := tick.Validate(); err != nil {
		return err
	}
	b.retryPending(ctx)

	bucket := marketdata.BucketStart(tick.EventTime, b.interval)

	if b.forming == nil {
		b.reopenRestored(bucket)
	}

	switch {
	case b.forming == nil:
		if n := len(b.sealed); n > 0 && bucket.Before(b.sealed[n-1].BucketStart) {
			return fmt.Errorf("%w: %s before %s", marketdata.ErrLateTick, tick.EventTime.Format(marketdata.StartTimeLayout), b.sealed[n-1].BucketStart.Format(marketdata.StartTimeLayout))
		}
		b.open(bucket, tick)
	case bucket.Before(b.forming.BucketStart):
		return fmt.Errorf("%w: %s before %s", marketdata.ErrLateTick, tick.EventTime.Format(marketdata.StartTimeLayout), b.forming.BucketStart.Format(marketdata.StartTimeLayout))
	case bucket.Equal(b.forming.BucketStart):
		b.update(tick)
	default:
		b.seal(ctx)
		b.open(bucket, tick)
	}

	b.persist(ctx, *b.forming)
	return nil
}

// Series returns the sealed history and the forming candle. The sealed slice
// is shared with the builder and must not be modified.
func (b *Builder) Series() marketdata.Series {
	s := marketdata.Series{Sealed: b.sealed}
	if b.forming != nil {
		c := *b.forming
		s.Forming = &c
	}
	return s
}

// Bucket returns the start of the forming candle, or zero before the first tick.
func (b *Builder) Bucket() time.Time {
	if b.forming == nil {
		return time.Time{}
	}
	return b.forming.BucketStart
}

// reopenRestored turns the newest restored candle back into the forming one
// when the first live tick belongs to its bucket.
func (b *Builder) reopenRestored(bucket time.Time) {
	n := len(b.sealed)
	if n == 0 || !b.sealed[n-1].BucketStart.Equal(bucket) {
		return
	}
	c := b.sealed[n-1]
	b.sealed = b.sealed[:n-1]
	b.forming = &c
}

func (b *Builder) open(bucket time.Time, tick marketdata.Tick) {
	b.forming = &marketdata.Candle{
		InstrumentID:    b.instrumentID,
		IntervalMinutes: b.interval,
		BucketStart:     bucket,
		Open:            tick.Price,
		High:            tick.Price,
		Low:             tick.Price,
		Close:           tick.Price,
		Volume:          tick.Quantity,
	}
}

func (b *Builder) update(tick marketdata.Tick) {
	c := b.forming
	if tick.Price > c.High {
		c.High = tick.Price
	}
	if tick.Price < c.Low {
		c.Low = tick.Price
	}
	c.Close = tick.Price
	c.Volume += tick.Quantity
}

func (b *Builder) seal(ctx context.Context) {
	c := *b.forming
	b.forming = nil
	b.sealed = append(b.sealed, c)
	if len(b.sealed) > HistoryLimit {
		b.sealed = append([]marketdata.Candle(nil), b.sealed[len(b.sealed)-HistoryLimit:]...)
	}
	if err := b.store.UpsertCandle(ctx, c); err != nil {
		b.logger.WithError(err).WithField("bucket_start", c.BucketStart.Format(marketdata.StartTimeLayout)).Warn("persist sealed candle failed, will retry")
		b.pending = append(b.pending, c)
	}
}

func (b *Builder) persist(ctx context.Context, c marketdata.Candle) {
	if err := b.store.UpsertCandle(ctx, c); err != nil {
		b.logger.WithError(err).WithField("bucket_start", c.BucketStart.Format(marketdata.StartTimeLayout)).Warn("persist forming candle failed")
	}
}

func (b *Builder) retryPending(ctx context.Context) {
	if len(b.pending) == 0 {
		return
	}
	if err := b.store.UpsertCandles(ctx, b.pending); err != nil {
		if errors.Is(err, marketdata.ErrInvalidCandle) {
			b.logger.WithError(err).WithField("pending", len(b.pending)).Error("dropping unpersistable candles")
			b.pending = nil
		}
		return
	}
	b.pending = nil
}
