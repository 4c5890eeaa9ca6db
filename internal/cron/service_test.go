package cron

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/cantora-backend/pkg/logger"
	"github.com/angelmondragon/cantora-backend/pkg/metrics"
)

type fakeLock struct {
	mu        sync.Mutex
	acquired  bool
	releases  int
	refreshes int
	lost      bool
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.acquired {
		return false, nil
	}
	f.acquired = true
	return true, nil
}

func (f *fakeLock) Refresh(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return !f.lost, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.acquired = false
	f.releases++
	return nil
}

func (f *fakeLock) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes
}

type testJob struct {
	name  string
	err   error
	panic bool
	runs  int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.runs++
	if t.panic {
		panic("job exploded")
	}
	return t.err
}

func newTestService(t *testing.T, lock Lock, reg *prometheus.Registry, jobs ...Job) *Service {
	t.Helper()
	registry := NewRegistry()
	for _, job := range jobs {
		if err := registry.Register(job, time.Second); err != nil {
			t.Fatalf("register %s: %v", job.Name(), err)
		}
	}
	service, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "cron-test"}),
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(reg),
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	return service
}

func TestServiceRunOnceRunsAllJobsEvenOnFailure(t *testing.T) {
	success := &testJob{name: "success"}
	failing := &testJob{name: "fail", err: errors.New("boom")}
	panicking := &testJob{name: "panic", panic: true}
	last := &testJob{name: "last"}
	lock := &fakeLock{}
	reg := prometheus.NewRegistry()
	service := newTestService(t, lock, reg, success, failing, panicking, last)

	if err := service.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	for _, job := range []*testJob{success, failing, panicking, last} {
		if job.runs != 1 {
			t.Fatalf("expected %s to run once, ran %d", job.name, job.runs)
		}
	}
	if lock.releases != 1 {
		t.Fatalf("expected lock released once, got %d", lock.releases)
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	failures := map[string]float64{}
	for _, mf := range mfs {
		if mf.GetName() != "cantora_cron_job_runs_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["result"] == "failure" {
				failures[labels["job"]] = m.GetCounter().GetValue()
			}
		}
	}
	if failures["fail"] != 1 || failures["panic"] != 1 {
		t.Fatalf("expected failure counters for fail and panic, got %v", failures)
	}
}

func TestServiceRunOnceSkipsWhenLockHeld(t *testing.T) {
	job := &testJob{name: "stuck-orders"}
	service := newTestService(t, &fakeLock{acquired: true}, prometheus.NewRegistry(), job)

	if err := service.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if job.runs != 0 {
		t.Fatalf("job must not run without the lock")
	}
}

func TestNewServiceValidation(t *testing.T) {
	if _, err := NewService(ServiceParams{}); err == nil {
		t.Fatal("expected missing logger error")
	}
	if _, err := NewService(ServiceParams{Logger: logger.New(logger.Options{ServiceName: "x"})}); err == nil {
		t.Fatal("expected missing lock error")
	}
}

type blockingJob struct{ err error }

func (b *blockingJob) Name() string { return "blocking" }

func (b *blockingJob) Run(ctx context.Context) error {
	<-ctx.Done()
	b.err = ctx.Err()
	return b.err
}

func TestServiceAppliesJobTimeout(t *testing.T) {
	job := &blockingJob{}
	registry := NewRegistry()
	if err := registry.Register(job, 20*time.Millisecond); err != nil {
		t.Fatalf("register: %v", err)
	}
	service, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "cron-test"}),
		Registry: registry,
		Lock:     &fakeLock{},
		Metrics:  metrics.NewCronJobMetrics(prometheus.NewRegistry()),
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	if err := service.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if !errors.Is(job.err, context.DeadlineExceeded) {
		t.Fatalf("expected job deadline, got %v", job.err)
	}
}

func TestServiceHeartbeatRefreshesLockDuringLongJobs(t *testing.T) {
	job := &sleepingJob{d: 60 * time.Millisecond}
	lock := &fakeLock{}
	service := newHeartbeatService(t, lock, job)

	if err := service.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if lock.refreshCount() == 0 {
		t.Fatal("expected the lock to be refreshed while the job ran")
	}
	if job.err != nil {
		t.Fatalf("job should finish normally, got %v", job.err)
	}
	if lock.releases != 1 {
		t.Fatalf("expected lock released once, got %d", lock.releases)
	}
}

func TestServiceLostLockCancelsRemainingJobs(t *testing.T) {
	first := &blockingJob{}
	second := &testJob{name: "after"}
	lock := &fakeLock{lost: true}
	service := newHeartbeatService(t, lock, first, second)

	err := service.RunOnce(context.Background())
	if !errors.Is(err, errLockLost) {
		t.Fatalf("expected lock lost error, got %v", err)
	}
	if !errors.Is(first.err, context.Canceled) {
		t.Fatalf("expected running job cancelled, got %v", first.err)
	}
	if second.runs != 0 {
		t.Fatal("jobs after a lost lock must not start")
	}
}

type sleepingJob struct {
	d   time.Duration
	err error
}

func (s *sleepingJob) Name() string { return "sleeping" }

func (s *sleepingJob) Run(ctx context.Context) error {
	select {
	case <-time.After(s.d):
	case <-ctx.Done():
		s.err = ctx.Err()
	}
	return s.err
}

func newHeartbeatService(t *testing.T, lock Lock, jobs ...Job) *Service {
	t.Helper()
	registry := NewRegistry()
	for _, job := range jobs {
		if err := registry.Register(job, time.Second); err != nil {
			t.Fatalf("register %s: %v", job.Name(), err)
		}
	}
	service, err := NewService(ServiceParams{
		Logger:      logger.New(logger.Options{ServiceName: "cron-test"}),
		Registry:    registry,
		Lock:        lock,
		LockRefresh: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	return service
}
