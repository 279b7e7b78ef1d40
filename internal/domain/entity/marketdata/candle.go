package marketdata

import (
	"errors"
	"time"
)

// StartTimeLayout is the bucket_start encoding used by the candle files.
const StartTimeLayout = "2006-01-02 15:04:05"

var ErrInvalidCandle = errors.New("candle violates high/low bounds")

// Candle is an OHLCV bar for one instrument and interval.
type Candle struct {
	InstrumentID    string    `json:"instrument_id"`
	IntervalMinutes int       `json:"interval_minutes"`
	BucketStart     time.Time `json:"bucket_start"`
	Open            float64   `json:"open"`
	High            float64   `json:"high"`
	Low             float64   `json:"low"`
	Close           float64   `json:"close"`
	Volume          int64     `json:"volume"`
}

// Interval returns the bucket width.
func (c Candle) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// Contains reports whether t falls inside the candle bucket.
func (c Candle) Contains(t time.Time) bool {
	return !t.Before(c.BucketStart) && t.Before(c.BucketStart.Add(c.Interval()))
}

// Validate checks the high/low envelope.
func (c Candle) Validate() error {
	if c.High < c.Open || c.High < c.Close || c.Low > c.Open || c.Low > c.Close || c.Low > c.High {
		return ErrInvalidCandle
	}
	return nil
}

// BucketStart floors t to the interval boundary in t's location.
// Intervals are expected to divide an hour, so flooring the minute of the
// hour matches wall-clock buckets for zones with non-hour UTC offsets too.
func BucketStart(t time.Time, intervalMinutes int) time.Time {
	if intervalMinutes <= 0 {
		intervalMinutes = 1
	}
	minute := (t.Minute() / intervalMinutes) * intervalMinutes
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), minute, 0, 0, t.Location())
}
