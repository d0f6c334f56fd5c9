package outbox

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector defines the interface for collecting reconciler metrics
type MetricsCollector interface {
	RecordDelivery(eventType string, success bool, duration time.Duration)
	RecordPass(records int, duration time.Duration)
	RecordBacklog(size int)
}

// NoOpMetricsCollector is a no-op implementation for when metrics aren't needed
type NoOpMetricsCollector struct{}

func (n *NoOpMetricsCollector) RecordDelivery(eventType string, success bool, duration time.Duration) {
}
func (n *NoOpMetricsCollector) RecordPass(records int, duration time.Duration) {}
func (n *NoOpMetricsCollector) RecordBacklog(size int)                         {}

// PrometheusMetrics implements MetricsCollector using Prometheus
type PrometheusMetrics struct {
	deliveries   *prometheus.CounterVec
	passRecords  prometheus.Histogram
	passDuration prometheus.Histogram
	backlog      prometheus.Gauge
}

// NewPrometheusMetrics registers the reconciler metrics on the given registerer
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "outbox",
			Name:      "webhook_deliveries_total",
			Help:      "Webhook delivery attempts by event type and outcome",
		}, []string{"event_type", "outcome"}),
		passRecords: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "outbox",
			Name:      "pass_records",
			Help:      "Event records handled per reconciliation pass",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 6),
		}),
		passDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "outbox",
			Name:      "pass_duration_seconds",
			Help:      "Duration of reconciliation passes",
			Buckets:   prometheus.DefBuckets,
		}),
		backlog: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "outbox",
			Name:      "backlog_size",
			Help:      "Unprocessed event records awaiting reconciliation",
		}),
	}
}

func (m *PrometheusMetrics) RecordDelivery(eventType string, success bool, duration time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.deliveries.WithLabelValues(eventType, outcome).Inc()
}

func (m *PrometheusMetrics) RecordPass(records int, duration time.Duration) {
	m.passRecords.Observe(float64(records))
	m.passDuration.Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordBacklog(size int) {
	m.backlog.Set(float64(size))
}
