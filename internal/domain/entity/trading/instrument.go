package trading

import (
	"errors"
	"fmt"
	"strings"
)

// TradeSide restricts the directions an instrument may trade.
type TradeSide string

const (
	TradeSideBuyOnly  TradeSide = "BUY_ONLY"
	TradeSideSellOnly TradeSide = "SELL_ONLY"
	TradeSideBoth     TradeSide = "BOTH"
)

func (s TradeSide) IsValid() bool {
	switch s {
	case TradeSideBuyOnly, TradeSideSellOnly, TradeSideBoth:
		return true
	default:
		return false
	}
}

// Allows reports whether d may be opened under this side restriction.
func (s TradeSide) Allows(d Direction) bool {
	switch s {
	case TradeSideBuyOnly:
		return d == DirectionBuy
	case TradeSideSellOnly:
		return d == DirectionSell
	case TradeSideBoth:
		return d == DirectionBuy || d == DirectionSell
	default:
		return false
	}
}

func NewTradeSide(s string) (TradeSide, error) {
	if strings.TrimSpace(s) == "" {
		return TradeSideBoth, nil
	}
	side := TradeSide(strings.ToUpper(strings.TrimSpace(s)))
	if !side.IsValid() {
		return "", fmt.Errorf("invalid trade side: %s", s)
	}
	return side, nil
}

const DefaultProduct = "MIS"

var ErrInvalidConfig = errors.New("invalid instrument config")

// InstrumentConfig is the read-only per-instrument trading configuration.
type InstrumentConfig struct {
	InstrumentID        string    `json:"instrument_id" yaml:"instrument_id"`
	TradingSymbol       string    `json:"trading_symbol" yaml:"trading_symbol"`
	Exchange            string    `json:"exchange" yaml:"exchange"`
	LotSize             int64     `json:"lot_size" yaml:"lot_size"`
	BreakoutPercentage  float64   `json:"breakout_percentage" yaml:"breakout_percentage"`
	ExitThresholdPoints float64   `json:"exit_threshold_points" yaml:"exit_threshold_points"`
	IntervalMinutes     int       `json:"interval_minutes" yaml:"interval_minutes"`
	TradeSide           TradeSide `json:"trade_side" yaml:"trade_side"`
	Product             string    `json:"product" yaml:"product"`
}

// Normalize fills defaults and validates the record.
func (c *InstrumentConfig) Normalize() error {
	c.InstrumentID = strings.TrimSpace(c.InstrumentID)
	c.TradingSymbol = strings.TrimSpace(c.TradingSymbol)
	c.Exchange = strings.ToUpper(strings.TrimSpace(c.Exchange))
	if c.Product == "" {
		c.Product = DefaultProduct
	}
	side, err := NewTradeSide(string(c.TradeSide))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, c.InstrumentID, err)
	}
	c.TradeSide = side

	switch {
	case c.InstrumentID == "":
		return fmt.Errorf("%w: instrument_id is required", ErrInvalidConfig)
	case c.TradingSymbol == "":
		return fmt.Errorf("%w: %s: trading_symbol is required", ErrInvalidConfig, c.InstrumentID)
	case c.Exchange == "":
		return fmt.Errorf("%w: %s: exchange is required", ErrInvalidConfig, c.InstrumentID)
	case c.LotSize <= 0:
		return fmt.Errorf("%w: %s: lot_size must be positive", ErrInvalidConfig, c.InstrumentID)
	case c.BreakoutPercentage < 0 || c.BreakoutPercentage >= 100:
		return fmt.Errorf("%w: %s: breakout_percentage must be in [0, 100)", ErrInvalidConfig, c.InstrumentID)
	case c.IntervalMinutes <= 0 || c.IntervalMinutes > 60 || 60%c.IntervalMinutes != 0:
		return fmt.Errorf("%w: %s: interval_minutes must divide 60", ErrInvalidConfig, c.InstrumentID)
	}
	return nil
}

// HaltEnabled reports whether the daily threshold applies.
func (c InstrumentConfig) HaltEnabled() bool {
	return c.ExitThresholdPoints > 0
}
