package cron

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubJob struct {
	name string
}

func (s *stubJob) Name() string              { return s.name }
func (s *stubJob) Run(context.Context) error { return nil }

func TestRegistryKeepsOrderAndTimeouts(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(&stubJob{name: "stuck_orders"}, 4*time.Minute))
	require.NoError(t, registry.Register(&stubJob{name: "outbox_retention"}, -time.Second))

	entries := registry.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, []string{"stuck_orders", "outbox_retention"}, registry.Names())
	assert.Equal(t, 4*time.Minute, entries[0].Timeout)
	assert.Zero(t, entries[1].Timeout, "negative timeouts are treated as none")

	entries[0] = Entry{}
	assert.Equal(t, "stuck_orders", registry.Entries()[0].Job.Name(), "internal slice leaked")
}

func TestRegistryRejectsInvalidJobs(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(&stubJob{name: "stuck_orders"}, 0))

	assert.Error(t, registry.Register(nil, 0))
	assert.Error(t, registry.Register(&stubJob{}, 0))
	assert.ErrorContains(t, registry.Register(&stubJob{name: "stuck_orders"}, 0), "registered twice")
	assert.Len(t, registry.Entries(), 1)
}
