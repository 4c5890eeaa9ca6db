package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// FulfillmentMetrics tracks credit consumption, generation calls and recovery markers.
type FulfillmentMetrics struct {
	generationAttempts *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	creditConsumptions *prometheus.CounterVec
	recoverable        prometheus.Counter
	stuckDetected      prometheus.Counter
}

// NewFulfillmentMetrics registers the fulfillment metrics on the provided registerer.
func NewFulfillmentMetrics(reg prometheus.Registerer) *FulfillmentMetrics {
	if reg == nil {
		return &FulfillmentMetrics{}
	}
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cantora_generation_attempts_total",
		Help: "Generation provider invocations by kind and classified outcome.",
	}, []string{"kind", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cantora_generation_duration_seconds",
		Help:    "Latency of single generation provider invocations.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
	}, []string{"kind"})
	consumptions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cantora_credit_consumptions_total",
		Help: "Credit consumption attempts by source and result.",
	}, []string{"source", "result"})
	recoverable := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cantora_orders_marked_recoverable_total",
		Help: "Orders left in a recoverable state after a failed generation.",
	})
	stuck := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cantora_orders_stuck_detected_total",
		Help: "Stuck orders found by the periodic scan.",
	})
	reg.MustRegister(attempts, duration, consumptions, recoverable, stuck)
	return &FulfillmentMetrics{
		generationAttempts: attempts,
		generationDuration: duration,
		creditConsumptions: consumptions,
		recoverable:        recoverable,
		stuckDetected:      stuck,
	}
}

// ObserveGeneration records one provider invocation.
func (m *FulfillmentMetrics) ObserveGeneration(kind, outcome string, elapsed time.Duration) {
	if m == nil || m.generationAttempts == nil {
		return
	}
	m.generationAttempts.WithLabelValues(normalizeLabel(kind), normalizeLabel(outcome)).Inc()
	m.generationDuration.WithLabelValues(normalizeLabel(kind)).Observe(elapsed.Seconds())
}

// IncCreditConsumption records a credit consumption result.
func (m *FulfillmentMetrics) IncCreditConsumption(source, result string) {
	if m == nil || m.creditConsumptions == nil {
		return
	}
	m.creditConsumptions.WithLabelValues(normalizeLabel(source), normalizeLabel(result)).Inc()
}

// IncRecoverable counts an order marked recoverable.
func (m *FulfillmentMetrics) IncRecoverable() {
	if m == nil || m.recoverable == nil {
		return
	}
	m.recoverable.Inc()
}

// AddStuckDetected counts stuck orders found in one scan.
func (m *FulfillmentMetrics) AddStuckDetected(n int) {
	if m == nil || m.stuckDetected == nil || n <= 0 {
		return
	}
	m.stuckDetected.Add(float64(n))
}
