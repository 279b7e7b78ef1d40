// Package events journals trading events to a RabbitMQ fanout exchange.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	trading "algotrader/internal/domain/entity/trading"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const (
	DefaultExchange = "trading.events"
	serviceName     = "algotrader"
	drainTimeout    = 5 * time.Second
)

type Config struct {
	URL      string
	Exchange string
	Batch    BatchConfig
	// Buffer bounds events waiting for the batcher; overflow is dropped.
	Buffer int
}

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher buffers events in memory and publishes them in batches. Publish
// never blocks.
type Publisher struct {
	cfg    Config
	logger *logrus.Entry

	conn    *amqp.Connection
	ch      channel
	queue   chan trading.Event
	batch   *batchBuffer[trading.Event]
	dropped atomic.Int64
}

// Dial connects to RabbitMQ and declares the fanout exchange.
func Dial(cfg Config, logger *logrus.Logger) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("rabbitmq url is required")
	}
	if cfg.Exchange == "" {
		cfg.Exchange = DefaultExchange
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
	}
	p := newPublisher(cfg, ch, logger)
	p.conn = conn
	return p, nil
}

func newPublisher(cfg Config, ch channel, logger *logrus.Logger) *Publisher {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	p := &Publisher{
		cfg:    cfg,
		logger: logger.WithFields(logrus.Fields{"component": "event_publisher", "exchange": cfg.Exchange}),
		ch:     ch,
		queue:  make(chan trading.Event, cfg.Buffer),
	}
	p.batch = newBatchBuffer(cfg.Batch, p.send, p.logger)
	return p
}

func (p *Publisher) Publish(event trading.Event) {
	select {
	case p.queue <- event:
	default:
		p.dropped.Add(1)
		p.logger.WithField("kind", event.Kind).Warn("event buffer full, event dropped")
	}
}

// Dropped reports how many events were lost to a full buffer.
func (p *Publisher) Dropped() int64 {
	return p.dropped.Load()
}

// Run moves events from the buffer into batches until ctx is done, then
// drains what is left and closes the connection.
func (p *Publisher) Run(ctx context.Context) error {
	p.batch.setContext(ctx)
	for {
		select {
		case <-ctx.Done():
			return p.shutdown()
		case event := <-p.queue:
			if err := p.batch.add(event); err != nil {
				p.logger.WithError(err).Warn("publish events failed")
			}
		}
	}
}

func (p *Publisher) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	p.batch.setContext(ctx)

	var errs []error
	for {
		select {
		case event := <-p.queue:
			if err := p.batch.add(event); err != nil {
				errs = append(errs, err)
			}
			continue
		default:
		}
		break
	}
	if err := p.batch.drain(ctx); err != nil {
		errs = append(errs, err)
	}
	if p.ch != nil {
		if err := p.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Publisher) send(ctx context.Context, batch []trading.Event) error {
	var errs []error
	for _, event := range batch {
		body, err := json.Marshal(Envelope{Service: serviceName, Event: event})
		if err != nil {
			errs = append(errs, fmt.Errorf("encode event %s: %w", event.ID, err))
			continue
		}
		err = p.ch.PublishWithContext(ctx, p.cfg.Exchange, "", false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.ID.String(),
			Timestamp:    event.At,
			Type:         string(event.Kind),
			Body:         body,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("publish event %s: %w", event.ID, err))
		}
	}
	return errors.Join(errs...)
}
