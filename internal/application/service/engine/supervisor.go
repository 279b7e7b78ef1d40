package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	trading "algotrader/internal/domain/entity/trading"
	interfaces "algotrader/internal/domain/interfaces"

	"github.com/jpillora/backoff"
	"github.com/sirupsen/logrus"
)

var errStreamEnded = errors.New("feed stream ended")

// SupervisorConfig bounds the reconnect policy.
type SupervisorConfig struct {
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	Healthy      time.Duration
	MaxPermanent int
}

// Supervisor keeps the feed connected and reconnects with exponential
// backoff. The backoff resets once a session stayed up for Healthy; after
// MaxPermanent consecutive permanent failures Run gives up with an error.
type Supervisor struct {
	feed   interfaces.Feed
	sink   interfaces.TickSink
	ids    []string
	cfg    SupervisorConfig
	events interfaces.EventPublisher
	logger *logrus.Entry

	onReconnect func()
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) bool
}

func NewSupervisor(feed interfaces.Feed, sink interfaces.TickSink, instrumentIDs []string, cfg SupervisorConfig, events interfaces.EventPublisher, logger *logrus.Logger) *Supervisor {
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 5 * time.Second
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = 60 * time.Second
	}
	if cfg.MaxPermanent <= 0 {
		cfg.MaxPermanent = 3
	}
	return &Supervisor{
		feed:        feed,
		sink:        sink,
		ids:         instrumentIDs,
		cfg:         cfg,
		events:      events,
		logger:      logger.WithField("component", "supervisor"),
		onReconnect: func() {},
		now:         time.Now,
		sleep:       sleepContext,
	}
}

// OnReconnect registers a hook called before every reconnect attempt.
func (s *Supervisor) OnReconnect(fn func()) {
	if fn != nil {
		s.onReconnect = fn
	}
}

// Run streams until ctx is cancelled (returning nil) or the feed keeps
// failing permanently.
func (s *Supervisor) Run(ctx context.Context) error {
	b := &backoff.Backoff{Min: s.cfg.MinBackoff, Max: s.cfg.MaxBackoff, Factor: 2}
	permanent := 0

	for {
		started := s.now()
		s.logger.WithField("instruments", len(s.ids)).Info("feed connecting")
		err := s.feed.Stream(ctx, s.ids, s.sink)
		if ctx.Err() != nil {
			s.logger.Info("feed stopped")
			return nil
		}
		if err == nil {
			err = errStreamEnded
		}

		if s.cfg.Healthy > 0 && s.now().Sub(started) >= s.cfg.Healthy {
			b.Reset()
			permanent = 0
		}
		if errors.Is(err, interfaces.ErrFeedPermanent) {
			permanent++
			if permanent >= s.cfg.MaxPermanent {
				s.logger.WithError(err).WithField("failures", permanent).Error("feed failed permanently, giving up")
				s.publishDown(err)
				return fmt.Errorf("feed gave up after %d permanent failures: %w", permanent, err)
			}
		} else {
			permanent = 0
		}

		delay := b.Duration()
		s.logger.WithError(err).WithFields(logrus.Fields{
			"retry_in": delay.String(),
			"attempt":  int(b.Attempt()),
		}).Warn("feed disconnected")
		if !s.sleep(ctx, delay) {
			return nil
		}
		s.onReconnect()
	}
}

func (s *Supervisor) publishDown(err error) {
	if s.events == nil {
		return
	}
	e := trading.NewEvent(trading.EventFeedDown, trading.InstrumentConfig{}, s.now())
	e.Message = err.Error()
	s.events.Publish(e)
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
