// Package strategy evaluates the two-candle breakout rule.
//
// Upper bounds round up and lower bounds round down, so stop prices always
// sit on the safe side of the raw band. All arithmetic is decimal to keep
// values like 100 * 1.01 exact before rounding.
package strategy

import (
	"errors"

	marketdata "algotrader/internal/domain/entity/marketdata"
	trading "algotrader/internal/domain/entity/trading"

	"github.com/shopspring/decimal"
)

var ErrNotEnoughCandles = errors.New("at least two sealed candles and a forming candle are required")

var hundred = decimal.NewFromInt(100)

// Bands are the breakout thresholds derived from the last two sealed candles.
type Bands struct {
	High decimal.Decimal `json:"high"`
	Low  decimal.Decimal `json:"low"`
}

// Signal is a directional entry decision with its initial stop.
type Signal struct {
	Direction trading.Direction `json:"direction"`
	Stop      decimal.Decimal   `json:"stop"`
	Bands     Bands             `json:"bands"`
}

// ComputeBands returns ceil(max(high)*(1+p/100)) and floor(min(low)*(1-p/100)).
func ComputeBands(c1, c2 marketdata.Candle, percentage float64) Bands {
	maxHigh := c1.High
	if c2.High > maxHigh {
		maxHigh = c2.High
	}
	minLow := c1.Low
	if c2.Low < minLow {
		minLow = c2.Low
	}
	factor := decimal.NewFromFloat(percentage).Div(hundred)
	return Bands{
		High: decimal.NewFromFloat(maxHigh).Mul(decimal.NewFromInt(1).Add(factor)).Ceil(),
		Low:  decimal.NewFromFloat(minLow).Mul(decimal.NewFromInt(1).Sub(factor)).Floor(),
	}
}

// SeriesBands computes bands from the two most recent sealed candles.
func SeriesBands(series marketdata.Series, percentage float64) (Bands, error) {
	last := series.LastSealed(2)
	if last == nil {
		return Bands{}, ErrNotEnoughCandles
	}
	return ComputeBands(last[0], last[1], percentage), nil
}

// StopFor returns the protective stop for a position in direction d:
// the low band for longs and the high band for shorts.
func StopFor(d trading.Direction, b Bands) decimal.Decimal {
	if d == trading.DirectionSell {
		return b.High
	}
	return b.Low
}

// Evaluate checks the forming candle against the bands. The buy breakout is
// tested first; a signal the side restriction disallows yields no signal.
func Evaluate(series marketdata.Series, percentage float64, side trading.TradeSide) (Signal, bool) {
	if series.Forming == nil {
		return Signal{}, false
	}
	bands, err := SeriesBands(series, percentage)
	if err != nil {
		return Signal{}, false
	}

	var direction trading.Direction
	switch {
	case decimal.NewFromFloat(series.Forming.High).GreaterThan(bands.High):
		direction = trading.DirectionBuy
	case decimal.NewFromFloat(series.Forming.Low).LessThan(bands.Low):
		direction = trading.DirectionSell
	default:
		return Signal{}, false
	}
	if !side.Allows(direction) {
		return Signal{}, false
	}
	return Signal{Direction: direction, Stop: StopFor(direction, bands), Bands: bands}, true
}
