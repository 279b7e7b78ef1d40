// Package metrics exposes engine and trading counters to Prometheus.
package metrics

import (
	tradingsvc "algotrader/internal/application/service/trading"
	trading "algotrader/internal/domain/entity/trading"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "algotrader"

// Metrics implements engine.Metrics and trading.Recorder.
type Metrics struct {
	ticksProcessed *prometheus.CounterVec
	ticksDropped   *prometheus.CounterVec
	queueDepth     *prometheus.GaugeVec
	actions        *prometheus.CounterVec
	orders         *prometheus.CounterVec
	orderErrors    *prometheus.CounterVec
	halts          *prometheus.CounterVec
	points         *prometheus.GaugeVec
	reconnects     prometheus.Counter
}

// New registers all collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ticksProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_processed_total",
			Help:      "Ticks applied to a candle builder",
		}, []string{"instrument"}),
		ticksDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_dropped_total",
			Help:      "Ticks discarded before or during processing",
		}, []string{"reason"}),
		queueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Ticks waiting in an instrument queue",
		}, []string{"instrument"}),
		actions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "State machine actions per instrument",
		}, []string{"instrument", "action"}),
		orders: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Orders accepted by the broker",
		}, []string{"action", "direction"}),
		orderErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_errors_total",
			Help:      "Broker calls that failed or were rejected",
		}, []string{"action"}),
		halts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "halts_total",
			Help:      "Daily threshold halts",
		}, []string{"symbol"}),
		points: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pnl_points",
			Help:      "Latest P/L points per share",
		}, []string{"symbol"}),
		reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_reconnects_total",
			Help:      "Feed reconnect attempts",
		}),
	}
}

func (m *Metrics) TickProcessed(instrumentID string) {
	m.ticksProcessed.WithLabelValues(instrumentID).Inc()
}

func (m *Metrics) TickDropped(reason string) {
	m.ticksDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) QueueDepth(instrumentID string, depth int) {
	m.queueDepth.WithLabelValues(instrumentID).Set(float64(depth))
}

func (m *Metrics) Action(instrumentID string, action tradingsvc.Action) {
	if action == tradingsvc.ActionNone {
		return
	}
	m.actions.WithLabelValues(instrumentID, string(action)).Inc()
}

func (m *Metrics) OrderPlaced(action tradingsvc.Action, direction trading.Direction) {
	m.orders.WithLabelValues(string(action), direction.String()).Inc()
}

func (m *Metrics) OrderFailed(action tradingsvc.Action) {
	m.orderErrors.WithLabelValues(string(action)).Inc()
}

func (m *Metrics) Halted(symbol string) {
	m.halts.WithLabelValues(symbol).Inc()
}

func (m *Metrics) Points(symbol string, points float64) {
	m.points.WithLabelValues(symbol).Set(points)
}

func (m *Metrics) Reconnect() {
	m.reconnects.Inc()
}
