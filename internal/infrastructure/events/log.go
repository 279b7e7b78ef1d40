package events

import (
	trading "algotrader/internal/domain/entity/trading"

	"github.com/sirupsen/logrus"
)

// LogPublisher writes events to the log. It is used when no message broker
// is configured.
type LogPublisher struct {
	logger *logrus.Entry
}

func NewLogPublisher(logger *logrus.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.WithField("component", "event_journal")}
}

func (p *LogPublisher) Publish(event trading.Event) {
	p.logger.WithFields(logrus.Fields{
		"event_id":  event.ID.String(),
		"kind":      event.Kind,
		"symbol":    event.TradingSymbol,
		"direction": event.Direction,
		"price":     event.Price,
		"stop":      event.Stop,
		"order_id":  event.OrderID,
	}).Info(event.Message)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(trading.Event) {}
