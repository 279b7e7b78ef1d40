package trading

import (
	"time"

	"github.com/google/uuid"
)

// EventKind classifies journal events.
type EventKind string

const (
	EventEntry     EventKind = "entry"
	EventTrail     EventKind = "trail"
	EventSquareOff EventKind = "square_off"
	EventReversal  EventKind = "reversal"
	EventHalt      EventKind = "halt"
	EventRejected  EventKind = "rejected"
	EventFeedDown  EventKind = "feed_down"
)

// Event is a trading journal record published for alerting and audit.
type Event struct {
	ID            uuid.UUID `json:"id"`
	Kind          EventKind `json:"kind"`
	InstrumentID  string    `json:"instrument_id,omitempty"`
	TradingSymbol string    `json:"trading_symbol,omitempty"`
	Direction     Direction `json:"direction,omitempty"`
	Price         float64   `json:"price,omitempty"`
	Stop          string    `json:"stop,omitempty"`
	OrderID       string    `json:"order_id,omitempty"`
	Message       string    `json:"message,omitempty"`
	At            time.Time `json:"at"`
}

// NewEvent stamps a new event with an id and time.
func NewEvent(kind EventKind, cfg InstrumentConfig, at time.Time) Event {
	return Event{
		ID:            uuid.New(),
		Kind:          kind,
		InstrumentID:  cfg.InstrumentID,
		TradingSymbol: cfg.TradingSymbol,
		At:            at.UTC(),
	}
}
