package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	marketdata "algotrader/internal/domain/entity/marketdata"
	trading "algotrader/internal/domain/entity/trading"
	interfaces "algotrader/internal/domain/interfaces"

	"github.com/sirupsen/logrus"
)

type scriptedFeed struct {
	errs    []error
	calls   int
	cancel  context.CancelFunc
	advance func(call int)
}

func (f *scriptedFeed) Stream(ctx context.Context, _ []string, _ interfaces.TickSink) error {
	call := f.calls
	f.calls++
	if f.advance != nil {
		f.advance(call)
	}
	if call >= len(f.errs) {
		f.cancel()
		<-ctx.Done()
		return nil
	}
	return f.errs[call]
}

type eventSink struct {
	mu     sync.Mutex
	events []trading.Event
}

func (s *eventSink) Publish(e trading.Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func silentLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestSupervisor(feed interfaces.Feed, cfg SupervisorConfig, events interfaces.EventPublisher) (*Supervisor, *[]time.Duration) {
	s := NewSupervisor(feed, func([]marketdata.Tick) {}, []string{"1"}, cfg, events, silentLogger())
	var delays []time.Duration
	s.sleep = func(_ context.Context, d time.Duration) bool {
		delays = append(delays, d)
		return true
	}
	return s, &delays
}

func TestSupervisorBackoffDoublesToCeiling(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	transient := errors.New("connection reset")
	feed := &scriptedFeed{errs: []error{transient, transient, transient, transient, transient, transient}, cancel: cancel}
	s, delays := newTestSupervisor(feed, SupervisorConfig{MinBackoff: 5 * time.Second, MaxBackoff: 60 * time.Second}, nil)

	reconnects := 0
	s.OnReconnect(func() { reconnects++ })
	if err := s.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	want := []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second, 40 * time.Second, 60 * time.Second, 60 * time.Second}
	if len(*delays) != len(want) {
		t.Fatalf("delays = %v, want %v", *delays, want)
	}
	for i := range want {
		if (*delays)[i] != want[i] {
			t.Fatalf("delays = %v, want %v", *delays, want)
		}
	}
	if reconnects != len(want) {
		t.Fatalf("reconnects = %d, want %d", reconnects, len(want))
	}
}

func TestSupervisorResetsAfterHealthySession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := time.Date(2024, 10, 1, 9, 0, 0, 0, time.UTC)
	transient := errors.New("timeout")
	feed := &scriptedFeed{errs: []error{transient, transient, transient}, cancel: cancel}
	s, delays := newTestSupervisor(feed, SupervisorConfig{MinBackoff: 5 * time.Second, MaxBackoff: 60 * time.Second, Healthy: 2 * time.Minute}, nil)
	s.now = func() time.Time { return clock }
	feed.advance = func(call int) {
		// the third session stays up long enough to count as healthy
		if call == 2 {
			clock = clock.Add(3 * time.Minute)
		} else {
			clock = clock.Add(time.Second)
		}
	}

	if err := s.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []time.Duration{5 * time.Second, 10 * time.Second, 5 * time.Second}
	if len(*delays) != len(want) {
		t.Fatalf("delays = %v, want %v", *delays, want)
	}
	for i := range want {
		if (*delays)[i] != want[i] {
			t.Fatalf("delays = %v, want %v", *delays, want)
		}
	}
}

func TestSupervisorGivesUpOnPermanentFailures(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	permanent := fmt.Errorf("%w: token revoked", interfaces.ErrFeedPermanent)
	feed := &scriptedFeed{errs: []error{permanent, permanent, permanent, permanent}, cancel: cancel}
	events := &eventSink{}
	s, delays := newTestSupervisor(feed, SupervisorConfig{MaxPermanent: 3}, events)

	err := s.Run(ctx)
	if !errors.Is(err, interfaces.ErrFeedPermanent) {
		t.Fatalf("err = %v, want ErrFeedPermanent", err)
	}
	if feed.calls != 3 {
		t.Fatalf("stream calls = %d, want 3", feed.calls)
	}
	if len(*delays) != 2 {
		t.Fatalf("delays = %v, want 2 entries", *delays)
	}
	if len(events.events) != 1 || events.events[0].Kind != trading.EventFeedDown {
		t.Fatalf("events = %+v", events.events)
	}
}

func TestSupervisorStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	feed := &scriptedFeed{cancel: cancel}
	s, delays := newTestSupervisor(feed, SupervisorConfig{}, nil)
	if err := s.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(*delays) != 0 {
		t.Fatalf("unexpected reconnects: %v", *delays)
	}
}
