package interfaces

import (
	"context"
	"errors"

	marketdata "algotrader/internal/domain/entity/marketdata"
)

// CandleRepository persists candles keyed by instrument, interval and bucket start.
type CandleRepository interface {
	UpsertCandle(ctx context.Context, candle marketdata.Candle) error
	GetLastCandles(ctx context.Context, instrumentID string, intervalMinutes int, limit int) ([]marketdata.Candle, error)
	Close()
}

// CandleBatchWriter is implemented by stores that can write several candles
// in one round trip.
type CandleBatchWriter interface {
	UpsertCandles(ctx context.Context, candles []marketdata.Candle) error
}

var ErrFeedPermanent = errors.New("feed disconnected permanently")

// TickSink receives one batch of ticks from a feed.
type TickSink func(ticks []marketdata.Tick)

// Feed streams ticks for the given instruments until ctx is done or the
// connection fails. Stream returns nil on ctx cancellation; failures that
// should not be retried wrap ErrFeedPermanent.
type Feed interface {
	Stream(ctx context.Context, instrumentIDs []string, sink TickSink) error
}
