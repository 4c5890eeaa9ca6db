package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/angelmondragon/cantora-backend/pkg/logger"
	"github.com/angelmondragon/cantora-backend/pkg/metrics"
)

const defaultInterval = 5 * time.Minute

var errLockLost = errors.New("cron lock lost")

// ServiceParams configure the cron service. LockRefresh of zero disables the
// heartbeat, which is only safe when every cycle finishes within the lock TTL.
type ServiceParams struct {
	Logger      *logger.Logger
	Registry    *Registry
	Lock        Lock
	Metrics     *metrics.CronJobMetrics
	Interval    time.Duration
	LockRefresh time.Duration
}

// Service executes registered jobs on a fixed cadence, one worker at a time.
type Service struct {
	logg        *logger.Logger
	registry    *Registry
	lock        Lock
	metrics     *metrics.CronJobMetrics
	interval    time.Duration
	lockRefresh time.Duration
}

// NewService builds a cron service.
func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.Lock == nil:
		return nil, errors.New("lock required")
	}
	s := &Service{
		logg:        params.Logger,
		registry:    params.Registry,
		lock:        params.Lock,
		metrics:     params.Metrics,
		interval:    params.Interval,
		lockRefresh: params.LockRefresh,
	}
	if s.registry == nil {
		s.registry = NewRegistry()
	}
	if s.interval <= 0 {
		s.interval = defaultInterval
	}
	return s, nil
}

// Run executes a cycle immediately and then once per interval until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if err := s.RunOnce(ctx); err != nil {
			s.logg.Error(ctx, "scheduled run failed", err)
		}
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce executes every job once under the worker lock. A cycle skipped because
// another worker holds the lock is not an error.
func (s *Service) RunOnce(ctx context.Context) error {
	held, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !held {
		s.metrics.IncSkipped()
		s.logg.Info(ctx, "another cron instance is running; skipping this cycle")
		return nil
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	stopHeartbeat := s.heartbeat(runCtx, cancel)
	defer func() {
		stopHeartbeat()
		cancel(nil)
		if err := s.lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logg.Error(ctx, "failed to release cron lock", err)
		}
	}()

	s.logg.Info(s.logg.WithField(runCtx, "jobs", s.registry.Names()), "scheduled run starting")
	for _, entry := range s.registry.Entries() {
		if runCtx.Err() != nil {
			break
		}
		s.runJob(runCtx, entry)
	}
	if cause := context.Cause(runCtx); errors.Is(cause, errLockLost) {
		return cause
	}
	s.logg.Info(ctx, "scheduled run complete")
	return nil
}

// heartbeat refreshes the lock until stopped. Losing the lock cancels the run so
// a second worker never overlaps with the remaining jobs.
func (s *Service) heartbeat(ctx context.Context, cancel context.CancelCauseFunc) (stop func()) {
	if s.lockRefresh <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.lockRefresh)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			ok, err := s.lock.Refresh(ctx)
			switch {
			case err != nil:
				// a transient redis error leaves the current ttl running
				s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "cron lock refresh failed")
			case !ok:
				s.logg.Warn(ctx, "cron lock lost; cancelling remaining jobs")
				cancel(errLockLost)
				return
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func (s *Service) runJob(ctx context.Context, entry Entry) {
	name := entry.Job.Name()
	jobCtx := s.logg.WithFields(ctx, map[string]any{"job": name, "event": "cron.job"})
	if entry.Timeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(jobCtx, entry.Timeout)
		defer cancel()
	}

	s.logg.Info(jobCtx, "job start")
	started := time.Now()
	err := runRecovered(jobCtx, entry.Job)
	elapsed := time.Since(started)
	s.metrics.ObserveRun(name, elapsed, err)

	jobCtx = s.logg.WithField(jobCtx, "duration_ms", elapsed.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		return
	}
	s.logg.Info(jobCtx, "job completed")
}

func runRecovered(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panic: %v", r)
		}
	}()
	return job.Run(ctx)
}
