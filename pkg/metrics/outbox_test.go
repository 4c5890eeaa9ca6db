package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestOutboxMetricsCountsDeliveries(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOutboxMetrics(reg)

	m.ObserveDelivery("lyrics_generated", "published")
	m.ObserveDelivery("lyrics_generated", "published")
	m.ObserveDelivery("", "parked")
	m.ObserveBatch(0, time.Second)
	m.ObserveBatch(3, 20*time.Millisecond)

	families, err := reg.Gather()
	require.NoError(t, err)

	got := map[string]float64{}
	var batches uint64
	for _, mf := range families {
		switch mf.GetName() {
		case "cantora_outbox_deliveries_total":
			for _, metric := range mf.GetMetric() {
				key := ""
				for _, label := range metric.GetLabel() {
					key += label.GetValue() + "/"
				}
				got[key] = metric.GetCounter().GetValue()
			}
		case "cantora_outbox_batch_rows":
			batches = mf.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	require.Equal(t, map[string]float64{
		"lyrics_generated/published/": 2,
		"unknown/parked/":             1,
	}, got)
	require.EqualValues(t, 1, batches, "empty polls are not observed")
}

func TestOutboxMetricsNilIsNoop(t *testing.T) {
	var m *OutboxMetrics
	m.ObserveDelivery("lyrics_generated", "published")
	m.ObserveBatch(1, time.Second)
	NewOutboxMetrics(nil).ObserveDelivery("x", "y")
}
