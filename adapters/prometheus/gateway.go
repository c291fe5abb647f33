package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/formstream/eventcore/adapters/ws"
)

// gatewayMetrics implements ws.Metrics using Prometheus.
type gatewayMetrics struct {
	connections prometheus.Gauge
	eventsSent  prometheus.Counter
}

// NewGatewayMetrics creates a Prometheus implementation of ws.Metrics.
func NewGatewayMetrics(reg prometheus.Registerer) ws.Metrics {
	m := &gatewayMetrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eventcore_gateway_connections",
			Help: "Number of live gateway connections",
		}),
		eventsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eventcore_gateway_events_sent_total",
			Help: "Total number of events queued to gateway connections",
		}),
	}

	reg.MustRegister(m.connections, m.eventsSent)
	return m
}

func (m *gatewayMetrics) ConnectionOpened() { m.connections.Inc() }
func (m *gatewayMetrics) ConnectionClosed() { m.connections.Dec() }
func (m *gatewayMetrics) EventSent()        { m.eventsSent.Inc() }

var _ ws.Metrics = (*gatewayMetrics)(nil)
