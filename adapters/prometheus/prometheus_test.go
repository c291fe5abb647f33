package prometheus

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNewAllMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewAllMetrics(reg)
	require.NotNil(t, m.Engine)
	require.NotNil(t, m.Dispatch)
	require.NotNil(t, m.Gateway)

	// Registering twice with the same names must fail loudly.
	require.Panics(t, func() { NewAllMetrics(reg) })
}

func TestEngineMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewEngineMetrics(reg)

	m.EventsPublished("form", 3)
	m.ConcurrencyConflict("form")
	m.RetryAttempt()
	m.PublishDuration("form").ObserveDuration()

	require.Equal(t, float64(3), testutil.ToFloat64(m.(*engineMetrics).eventsPublished.WithLabelValues("form")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.(*engineMetrics).concurrencyConflicts.WithLabelValues("form")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.(*engineMetrics).retryAttempts))
}

func TestDispatchMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewDispatchMetrics(reg)

	m.SubscriptionOpened()
	m.SubscriptionOpened()
	m.SubscriptionClosed()
	m.EventDelivered()
	m.DeliveryDropped()

	pm := m.(*dispatchMetrics)
	require.Equal(t, float64(1), testutil.ToFloat64(pm.subscriptions))
	require.Equal(t, float64(1), testutil.ToFloat64(pm.eventsDelivered))
	require.Equal(t, float64(1), testutil.ToFloat64(pm.deliveriesDropped))
}

func TestGatewayMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewGatewayMetrics(reg)

	m.ConnectionOpened()
	m.EventSent()
	m.EventSent()

	pm := m.(*gatewayMetrics)
	require.Equal(t, float64(1), testutil.ToFloat64(pm.connections))
	require.Equal(t, float64(2), testutil.ToFloat64(pm.eventsSent))
}
