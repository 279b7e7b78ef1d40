package marketdata

import (
	"context"
	"errors"
	"strings"

	marketdata "algotrader/internal/domain/entity/marketdata"
	interfaces "algotrader/internal/domain/interfaces"
)

var (
	ErrEmptyInstrument = errors.New("instrument id is required")
	ErrInvalidLimit    = errors.New("limit must be positive")
	ErrInvalidInterval = errors.New("interval minutes must be positive")
)

// Service validates candles on the way into the store and bounds reads for
// the status API.
type Service struct {
	repo interfaces.CandleRepository
}

func NewService(repo interfaces.CandleRepository) *Service {
	return &Service{repo: repo}
}

func (s *Service) UpsertCandle(ctx context.Context, candle marketdata.Candle) error {
	if err := candle.Validate(); err != nil {
		return err
	}
	return s.repo.UpsertCandle(ctx, candle)
}

// UpsertCandles validates every candle before writing any, then uses the
// store's batch write when it has one.
func (s *Service) UpsertCandles(ctx context.Context, candles []marketdata.Candle) error {
	for _, c := range candles {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	if batch, ok := s.repo.(interfaces.CandleBatchWriter); ok {
		return batch.UpsertCandles(ctx, candles)
	}
	for _, c := range candles {
		if err := s.repo.UpsertCandle(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) GetLastCandles(ctx context.Context, instrumentID string, intervalMinutes int, limit int) ([]marketdata.Candle, error) {
	if strings.TrimSpace(instrumentID) == "" {
		return nil, ErrEmptyInstrument
	}
	if intervalMinutes <= 0 {
		return nil, ErrInvalidInterval
	}
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	return s.repo.GetLastCandles(ctx, instrumentID, intervalMinutes, limit)
}

func (s *Service) Close() {
	s.repo.Close()
}
