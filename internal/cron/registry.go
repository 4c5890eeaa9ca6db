package cron

import (
	"context"
	"fmt"
	"time"
)

// Job represents a scheduled task that runs inside the cron worker.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Entry pairs a job with the deadline applied to each of its runs. Zero means
// the job only stops when the worker shuts down.
type Entry struct {
	Job     Job
	Timeout time.Duration
}

// Registry is the ordered set of jobs run every cycle. Job names double as
// metric labels, so they must be unique.
type Registry struct {
	entries []Entry
	names   map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{names: make(map[string]struct{})}
}

// Register appends job to the cycle.
func (r *Registry) Register(job Job, timeout time.Duration) error {
	if job == nil {
		return fmt.Errorf("cron: nil job")
	}
	name := job.Name()
	if name == "" {
		return fmt.Errorf("cron: job name required")
	}
	if _, dup := r.names[name]; dup {
		return fmt.Errorf("cron: job %q registered twice", name)
	}
	if timeout < 0 {
		timeout = 0
	}
	r.names[name] = struct{}{}
	r.entries = append(r.entries, Entry{Job: job, Timeout: timeout})
	return nil
}

// Entries returns a copy of the registered jobs in registration order.
func (r *Registry) Entries() []Entry {
	return append([]Entry(nil), r.entries...)
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		names = append(names, e.Job.Name())
	}
	return names
}
