// Package metrics exposes the dealer's Prometheus collectors. A nil *Metrics
// is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dealer"

type Metrics struct {
	OrdersRouted     *prometheus.CounterVec
	OrdersRejected   *prometheus.CounterVec
	OrdersSettled    *prometheus.CounterVec
	HedgeTransitions *prometheus.CounterVec
	HedgesFailed     *prometheus.CounterVec
	JournalErrors    *prometheus.CounterVec
	NetExposure      *prometheus.GaugeVec
	SubmitLatency    *prometheus.HistogramVec
}

// New registers all collectors with reg. Use prometheus.NewRegistry() in
// tests so each test gets its own namespace.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		OrdersRouted: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "orders",
				Name:      "routed_total",
				Help:      "Orders routed, by book and rule.",
			},
			[]string{"symbol", "book", "reason"},
		),
		OrdersRejected: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "orders",
				Name:      "rejected_total",
				Help:      "Orders rejected or aborted, by error code.",
			},
			[]string{"code"},
		),
		OrdersSettled: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "orders",
				Name:      "settled_total",
				Help:      "Orders settled, by book.",
			},
			[]string{"book"},
		),
		HedgeTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "hedges",
				Name:      "transitions_total",
				Help:      "Hedge order state transitions, by target state.",
			},
			[]string{"symbol", "state"},
		),
		HedgesFailed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "hedges",
				Name:      "failed_total",
				Help:      "Hedges that exhausted their retry budget.",
			},
			[]string{"symbol"},
		),
		JournalErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "journal",
				Name:      "errors_total",
				Help:      "Journal writes that failed.",
			},
			[]string{"kind"},
		),
		NetExposure: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "exposure",
				Name:      "net_lots",
				Help:      "Net B-Book exposure in lots, positive is long.",
			},
			[]string{"symbol"},
		),
		SubmitLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "orders",
				Name:      "submit_duration_seconds",
				Help:      "Time from Submit to the synchronous result.",
				Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
			},
			[]string{"book"},
		),
	}
}

func (m *Metrics) Routed(symbol, book, reason string) {
	if m == nil {
		return
	}
	m.OrdersRouted.WithLabelValues(symbol, book, reason).Inc()
}

func (m *Metrics) Rejected(code string) {
	if m == nil {
		return
	}
	m.OrdersRejected.WithLabelValues(code).Inc()
}

func (m *Metrics) Settled(book string) {
	if m == nil {
		return
	}
	m.OrdersSettled.WithLabelValues(book).Inc()
}

func (m *Metrics) HedgeState(symbol, state string) {
	if m == nil {
		return
	}
	m.HedgeTransitions.WithLabelValues(symbol, state).Inc()
}

func (m *Metrics) HedgeFailed(symbol string) {
	if m == nil {
		return
	}
	m.HedgesFailed.WithLabelValues(symbol).Inc()
}

func (m *Metrics) JournalError(kind string) {
	if m == nil {
		return
	}
	m.JournalErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) Exposure(symbol string, lots float64) {
	if m == nil {
		return
	}
	m.NetExposure.WithLabelValues(symbol).Set(lots)
}

func (m *Metrics) ObserveSubmit(book string, d time.Duration) {
	if m == nil {
		return
	}
	m.SubmitLatency.WithLabelValues(book).Observe(d.Seconds())
}
