package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/formstream/eventcore/core/engine"
	"github.com/formstream/eventcore/core/metrics"
)

// engineMetrics implements engine.Metrics using Prometheus.
type engineMetrics struct {
	publishDuration      *prometheus.HistogramVec
	eventsPublished      *prometheus.CounterVec
	concurrencyConflicts *prometheus.CounterVec
	retryAttempts        prometheus.Counter
}

// NewEngineMetrics creates a Prometheus implementation of engine.Metrics.
func NewEngineMetrics(reg prometheus.Registerer) engine.Metrics {
	m := &engineMetrics{
		publishDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "eventcore_publish_duration_seconds",
			Help:    "Publish latency in seconds, append and dispatch included",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventcore_events_published_total",
			Help: "Total number of events committed to the store",
		}, []string{"aggregate_type"}),

		concurrencyConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventcore_concurrency_conflicts_total",
			Help: "Total number of optimistic concurrency failures",
		}, []string{"aggregate_type"}),

		retryAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eventcore_append_retries_total",
			Help: "Total number of append retries after transient failures",
		}),
	}

	reg.MustRegister(
		m.publishDuration,
		m.eventsPublished,
		m.concurrencyConflicts,
		m.retryAttempts,
	)
	return m
}

func (m *engineMetrics) PublishDuration(aggType string) metrics.Timer {
	return newTimer(m.publishDuration.WithLabelValues(aggType))
}

func (m *engineMetrics) EventsPublished(aggType string, count int) {
	m.eventsPublished.WithLabelValues(aggType).Add(float64(count))
}

func (m *engineMetrics) ConcurrencyConflict(aggType string) {
	m.concurrencyConflicts.WithLabelValues(aggType).Inc()
}

func (m *engineMetrics) RetryAttempt() {
	m.retryAttempts.Inc()
}

var _ engine.Metrics = (*engineMetrics)(nil)
