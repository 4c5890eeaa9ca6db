package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCronJobMetricsRecordsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewCronJobMetrics(reg)
	metrics.ObserveRun("stuck_orders", 250*time.Millisecond, nil)
	metrics.ObserveRun("stuck_orders", time.Second, errors.New("db down"))
	metrics.ObserveRun("", time.Millisecond, nil)
	metrics.IncSkipped()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	for result, want := range map[string]float64{"success": 1, "failure": 1} {
		got, err := fetchRunCount(mfs, "stuck_orders", result)
		if err != nil || got != want {
			t.Fatalf("%s runs: expected %v, got %v (%v)", result, want, got, err)
		}
	}
	if got, err := fetchHistogramSum(mfs, "cantora_cron_job_duration_seconds", "job", "stuck_orders"); err != nil || got < 1.25 {
		t.Fatalf("expected duration sum 1.25s, got %f (%v)", got, err)
	}
	if _, err := fetchRunCount(mfs, "unknown", "success"); err != nil {
		t.Fatalf("empty job names should be labelled unknown: %v", err)
	}

	last := findMetricFamily(mfs, "cantora_cron_job_last_success_timestamp_seconds")
	if last == nil || last.GetMetric()[0].GetGauge().GetValue() <= 0 {
		t.Fatalf("expected last success timestamp")
	}
	skipped := findMetricFamily(mfs, "cantora_cron_cycles_skipped_total")
	if skipped == nil || skipped.GetMetric()[0].GetCounter().GetValue() != 1 {
		t.Fatalf("expected one skipped cycle")
	}
}

func TestCronJobMetricsNilRegistererIsNoop(t *testing.T) {
	metrics := NewCronJobMetrics(nil)
	metrics.ObserveRun("stuck_orders", time.Second, nil)
	metrics.IncSkipped()
	var missing *CronJobMetrics
	missing.ObserveRun("stuck_orders", time.Second, nil)
}

func fetchRunCount(mfs []*dto.MetricFamily, job, result string) (float64, error) {
	mf := findMetricFamily(mfs, "cantora_cron_job_runs_total")
	if mf == nil {
		return 0, fmt.Errorf("runs metric not found")
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), "job", job) && matchesLabel(metric.GetLabel(), "result", result) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("no runs for job=%s result=%s", job, result)
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
