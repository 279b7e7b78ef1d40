package events

import trading "algotrader/internal/domain/entity/trading"

// Envelope is the message body published to the events exchange.
type Envelope struct {
	Service string        `json:"service"`
	Event   trading.Event `json:"event"`
}
