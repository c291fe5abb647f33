package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/formstream/eventcore/core/dispatch"
)

// dispatchMetrics implements dispatch.Metrics using Prometheus.
type dispatchMetrics struct {
	subscriptions     prometheus.Gauge
	eventsDelivered   prometheus.Counter
	deliveriesDropped prometheus.Counter
}

// NewDispatchMetrics creates a Prometheus implementation of dispatch.Metrics.
func NewDispatchMetrics(reg prometheus.Registerer) dispatch.Metrics {
	m := &dispatchMetrics{
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eventcore_subscriptions",
			Help: "Number of live subscriptions",
		}),
		eventsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eventcore_events_delivered_total",
			Help: "Total number of events handed to subscriber queues",
		}),
		deliveriesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eventcore_deliveries_dropped_total",
			Help: "Total number of deliveries dropped because a subscriber queue was full",
		}),
	}

	reg.MustRegister(m.subscriptions, m.eventsDelivered, m.deliveriesDropped)
	return m
}

func (m *dispatchMetrics) SubscriptionOpened() { m.subscriptions.Inc() }
func (m *dispatchMetrics) SubscriptionClosed() { m.subscriptions.Dec() }
func (m *dispatchMetrics) EventDelivered()     { m.eventsDelivered.Inc() }
func (m *dispatchMetrics) DeliveryDropped()    { m.deliveriesDropped.Inc() }

var _ dispatch.Metrics = (*dispatchMetrics)(nil)
