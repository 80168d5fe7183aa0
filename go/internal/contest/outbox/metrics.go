package outbox

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector defines the interface for collecting outbox metrics
type MetricsCollector interface {
	RecordEventProcessed(eventType string, success bool, duration time.Duration)
	RecordBatchProcessed(count int, duration time.Duration)
	RecordOutboxLag(lag int)
}

// NoOpMetricsCollector is a no-op implementation for when metrics aren't needed
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) RecordEventProcessed(eventType string, success bool, duration time.Duration) {
}
func (NoOpMetricsCollector) RecordBatchProcessed(count int, duration time.Duration) {}
func (NoOpMetricsCollector) RecordOutboxLag(lag int)                               {}

// PrometheusMetrics implements MetricsCollector with prometheus collectors.
type PrometheusMetrics struct {
	eventCounter  *prometheus.CounterVec
	eventDuration *prometheus.HistogramVec
	batchSize     prometheus.Histogram
	batchDuration prometheus.Histogram
	outboxLag     prometheus.Gauge
}

func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	m := &PrometheusMetrics{
		eventCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_events_processed_total",
			Help: "Outbox events processed, by type and outcome.",
		}, []string{"event_type", "status"}),
		eventDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "outbox_event_publish_seconds",
			Help:    "Time to publish a single outbox event.",
			Buckets: prometheus.DefBuckets,
		}, []string{"event_type"}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "outbox_batch_size",
			Help:    "Events delivered per batch.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "outbox_batch_seconds",
			Help:    "Time to process a batch of outbox events.",
			Buckets: prometheus.DefBuckets,
		}),
		outboxLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_events",
			Help: "Current number of undelivered outbox events.",
		}),
	}
	reg.MustRegister(m.eventCounter, m.eventDuration, m.batchSize, m.batchDuration, m.outboxLag)
	return m
}

func (m *PrometheusMetrics) RecordEventProcessed(eventType string, success bool, duration time.Duration) {
	status := "ok"
	if !success {
		status = "error"
	}
	m.eventCounter.WithLabelValues(eventType, status).Inc()
	m.eventDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordBatchProcessed(count int, duration time.Duration) {
	m.batchSize.Observe(float64(count))
	m.batchDuration.Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordOutboxLag(lag int) {
	m.outboxLag.Set(float64(lag))
}
