// Package prometheus provides Prometheus implementations of the metrics
// interfaces exposed by the core packages (engine, dispatch, gateway).
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/formstream/eventcore/core/metrics"
)

// timer wraps a Prometheus observer to implement the Timer interface.
type timer struct {
	h     prometheus.Observer
	start time.Time
}

func newTimer(h prometheus.Observer) metrics.Timer {
	return &timer{h: h, start: time.Now()}
}

func (t *timer) ObserveDuration() {
	t.h.Observe(time.Since(t.start).Seconds())
}

// Default histogram buckets for latency metrics (in seconds).
var defaultBuckets = []float64{
	.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10,
}

// AllMetrics holds Prometheus implementations for every instrumented
// component. Use this to initialize metrics for the whole service at
// once.
type AllMetrics struct {
	Engine   *engineMetrics
	Dispatch *dispatchMetrics
	Gateway  *gatewayMetrics
}

func NewAllMetrics(reg prometheus.Registerer) *AllMetrics {
	return &AllMetrics{
		Engine:   NewEngineMetrics(reg).(*engineMetrics),
		Dispatch: NewDispatchMetrics(reg).(*dispatchMetrics),
		Gateway:  NewGatewayMetrics(reg).(*gatewayMetrics),
	}
}
