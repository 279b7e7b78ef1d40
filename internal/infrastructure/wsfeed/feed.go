// Package wsfeed reads JSON tick messages from a websocket relay.
package wsfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	marketdata "algotrader/internal/domain/entity/marketdata"
	interfaces "algotrader/internal/domain/interfaces"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type subscribeMsg struct {
	Action      string   `json:"action"`
	Instruments []string `json:"instruments"`
}

// tickMsg is one trade print. Time is RFC 3339 or, when absent, the
// receive time is used.
type tickMsg struct {
	InstrumentID string    `json:"instrument_id"`
	Price        float64   `json:"price"`
	Quantity     int64     `json:"quantity"`
	EventTime    time.Time `json:"event_time"`
}

type Feed struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
	logger *logrus.Entry
	now    func() time.Time
}

func NewFeed(url, token string, logger *logrus.Logger) *Feed {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return &Feed{
		url:    url,
		header: header,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger: logger.WithField("component", "ws_feed"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Stream holds one websocket session. A refused handshake is permanent;
// read errors are not.
func (f *Feed) Stream(ctx context.Context, ids []string, sink interfaces.TickSink) error {
	conn, resp, err := f.dialer.DialContext(ctx, f.url, f.header)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if resp != nil && permanentStatus(resp.StatusCode) {
			return fmt.Errorf("%w: handshake status %d", interfaces.ErrFeedPermanent, resp.StatusCode)
		}
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(subscribeMsg{Action: "subscribe", Instruments: ids}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		ticks, err := f.decode(msg)
		if err != nil {
			f.logger.WithError(err).Warn("skip message")
			continue
		}
		if len(ticks) > 0 {
			sink(ticks)
		}
	}
}

// decode accepts a single tick object or an array of them. Invalid ticks
// inside an array are dropped individually.
func (f *Feed) decode(msg []byte) ([]marketdata.Tick, error) {
	var batch []tickMsg
	if len(msg) > 0 && msg[0] == '[' {
		if err := json.Unmarshal(msg, &batch); err != nil {
			return nil, fmt.Errorf("%w: %v", marketdata.ErrMalformedTick, err)
		}
	} else {
		var one tickMsg
		if err := json.Unmarshal(msg, &one); err != nil {
			return nil, fmt.Errorf("%w: %v", marketdata.ErrMalformedTick, err)
		}
		batch = []tickMsg{one}
	}

	ticks := make([]marketdata.Tick, 0, len(batch))
	var errs []error
	for _, m := range batch {
		tick := marketdata.Tick{
			InstrumentID: m.InstrumentID,
			Price:        m.Price,
			Quantity:     m.Quantity,
			EventTime:    m.EventTime,
		}
		if tick.EventTime.IsZero() {
			tick.EventTime = f.now()
		}
		if err := tick.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		ticks = append(ticks, tick)
	}
	if len(ticks) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	for _, err := range errs {
		f.logger.WithError(err).Warn("skip tick")
	}
	return ticks, nil
}

func permanentStatus(code int) bool {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	default:
		return false
	}
}
