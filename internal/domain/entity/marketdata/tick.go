package marketdata

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrMalformedTick = errors.New("malformed tick")
	ErrLateTick      = errors.New("tick older than the forming candle")
)

// Tick is a single trade print delivered by the feed.
type Tick struct {
	InstrumentID string    `json:"instrument_id"`
	Price        float64   `json:"price"`
	Quantity     int64     `json:"quantity"`
	EventTime    time.Time `json:"event_time"`
}

// Validate rejects ticks missing any required field.
func (t Tick) Validate() error {
	switch {
	case t.InstrumentID == "":
		return fmt.Errorf("%w: empty instrument id", ErrMalformedTick)
	case t.Price <= 0:
		return fmt.Errorf("%w: price %v", ErrMalformedTick, t.Price)
	case t.Quantity < 0:
		return fmt.Errorf("%w: quantity %d", ErrMalformedTick, t.Quantity)
	case t.EventTime.IsZero():
		return fmt.Errorf("%w: missing event time", ErrMalformedTick)
	}
	return nil
}
