package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectors(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Routed("EURUSD", "B", "exposure-limit")
	m.Routed("EURUSD", "B", "exposure-limit")
	m.Routed("EURUSD", "A", "client-forced")
	m.Rejected("INSUFFICIENT_MARGIN")
	m.Settled("B")
	m.HedgeState("EURUSD", "Submitted")
	m.HedgeFailed("EURUSD")
	m.JournalError("entry")
	m.Exposure("EURUSD", -1.25)
	m.ObserveSubmit("B", 3*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.OrdersRouted.WithLabelValues("EURUSD", "B", "exposure-limit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrdersRouted.WithLabelValues("EURUSD", "A", "client-forced")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrdersRejected.WithLabelValues("INSUFFICIENT_MARGIN")))
	assert.Equal(t, -1.25, testutil.ToFloat64(m.NetExposure.WithLabelValues("EURUSD")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HedgesFailed.WithLabelValues("EURUSD")))

	n, err := testutil.GatherAndCount(reg, "dealer_orders_submit_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	assert.NotPanics(t, func() {
		m.Routed("EURUSD", "B", "exposure-limit")
		m.Rejected("STALE_QUOTE")
		m.Settled("A")
		m.HedgeState("EURUSD", "Failed")
		m.HedgeFailed("EURUSD")
		m.JournalError("hedge")
		m.Exposure("EURUSD", 1)
		m.ObserveSubmit("A", time.Second)
	})
}

func TestDoubleRegisterPanics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_ = New(reg)
	assert.Panics(t, func() { _ = New(reg) })
}
