package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OutboxMetrics tracks the notification publisher. A growing parked count
// means customers are missing emails about their orders.
type OutboxMetrics struct {
	deliveries    *prometheus.CounterVec
	batchDuration prometheus.Histogram
	batchSize     prometheus.Histogram
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	m := &OutboxMetrics{
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cantora_outbox_deliveries_total",
			Help: "Outbox rows handled by the publisher, by event type and result.",
		}, []string{"event_type", "result"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cantora_outbox_batch_duration_seconds",
			Help:    "Time spent fetching and delivering one outbox batch.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cantora_outbox_batch_rows",
			Help:    "Rows fetched per non-empty outbox batch.",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		}),
	}
	reg.MustRegister(m.deliveries, m.batchDuration, m.batchSize)
	return m
}

// ObserveDelivery counts one row. result is published, duplicate, retry or parked.
func (m *OutboxMetrics) ObserveDelivery(eventType, result string) {
	if m == nil || m.deliveries == nil {
		return
	}
	m.deliveries.WithLabelValues(normalizeLabel(eventType), normalizeLabel(result)).Inc()
}

// ObserveBatch records a batch that fetched rows. Empty polls are not recorded.
func (m *OutboxMetrics) ObserveBatch(rows int, elapsed time.Duration) {
	if m == nil || m.batchDuration == nil || rows == 0 {
		return
	}
	m.batchDuration.Observe(elapsed.Seconds())
	m.batchSize.Observe(float64(rows))
}
