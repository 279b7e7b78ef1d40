package trading

import (
	"time"

	"github.com/shopspring/decimal"
)

// Phase names the position lifecycle stage of one instrument.
type Phase string

const (
	PhaseFlat      Phase = "FLAT"
	PhaseEntering  Phase = "ENTERING"
	PhaseActive    Phase = "ACTIVE"
	PhaseTrailing  Phase = "TRAILING"
	PhaseReversing Phase = "REVERSING"
	PhaseHalted    Phase = "HALTED_FOR_DAY"
)

// TradeState is the per-instrument in-memory trading state.
type TradeState struct {
	InstrumentID     string          `json:"instrument_id"`
	TradingSymbol    string          `json:"trading_symbol"`
	Phase            Phase           `json:"phase"`
	CurrentOrderType Direction       `json:"current_order_type"`
	CurrentStopPrice decimal.Decimal `json:"current_stop_price"`
	OrderID          string          `json:"order_id,omitempty"`
	OrderActive      bool            `json:"order_active"`
	CloseTradeForDay bool            `json:"close_trade_for_day"`
	OpenPosition     bool            `json:"open_position"`
	OpenPrice        float64         `json:"open_price"`
	OpenQuantity     int64           `json:"open_quantity"`
	PendingSquareOff bool            `json:"pending_square_off"`
	TradingDay       string          `json:"trading_day"`
	StoppedBucket    time.Time       `json:"stopped_bucket,omitempty"`
	LastPnLPoints    float64         `json:"last_pnl_points"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// NewTradeState returns a flat state for the instrument.
func NewTradeState(cfg InstrumentConfig) TradeState {
	return TradeState{
		InstrumentID:  cfg.InstrumentID,
		TradingSymbol: cfg.TradingSymbol,
		Phase:         PhaseFlat,
	}
}

// Open records a freshly entered position.
func (s *TradeState) Open(orderID string, d Direction, stop decimal.Decimal, price float64, qty int64) {
	s.Phase = PhaseActive
	s.OrderID = orderID
	s.CurrentOrderType = d
	s.CurrentStopPrice = stop
	s.OrderActive = true
	s.OpenPosition = true
	s.OpenPrice = price
	s.OpenQuantity = qty
}

// Flatten clears the position bookkeeping.
func (s *TradeState) Flatten() {
	s.Phase = PhaseFlat
	s.OrderID = ""
	s.CurrentOrderType = DirectionNone
	s.CurrentStopPrice = decimal.Zero
	s.OrderActive = false
	s.OpenPosition = false
	s.OpenPrice = 0
	s.OpenQuantity = 0
}

// Halt marks the instrument closed for the rest of the trading day.
func (s *TradeState) Halt() {
	s.Flatten()
	s.Phase = PhaseHalted
	s.CloseTradeForDay = true
}

// Active reports whether a position is being managed.
func (s TradeState) Active() bool {
	return s.OrderActive && s.CurrentOrderType != DirectionNone
}
