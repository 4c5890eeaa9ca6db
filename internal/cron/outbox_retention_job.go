package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/cantora-backend/pkg/logger"
)

const (
	defaultPublishedRetention = 30 * 24 * time.Hour
	defaultParkedRetention    = 90 * 24 * time.Hour
	defaultOutboxMaxAttempts  = 10
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPruner interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
	DeleteParkedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, maxAttempts int) (int64, error)
}

// OutboxRetentionJobParams configure notification outbox pruning. MaxAttempts
// must match the publisher so parked rows are recognised.
type OutboxRetentionJobParams struct {
	Logger          *logger.Logger
	DB              txRunner
	Repository      outboxPruner
	Retention       time.Duration
	ParkedRetention time.Duration
	MaxAttempts     int
}

type outboxRetentionJob struct {
	logg        *logger.Logger
	db          txRunner
	repo        outboxPruner
	published   time.Duration
	parked      time.Duration
	maxAttempts int
	now         func() time.Time
}

// NewOutboxRetentionJob builds the job that keeps outbox_events bounded.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.DB == nil:
		return nil, errors.New("db runner required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository required")
	}
	job := &outboxRetentionJob{
		logg:        params.Logger,
		db:          params.DB,
		repo:        params.Repository,
		published:   orDuration(params.Retention, defaultPublishedRetention),
		parked:      orDuration(params.ParkedRetention, defaultParkedRetention),
		maxAttempts: params.MaxAttempts,
		now:         time.Now,
	}
	if job.maxAttempts <= 0 {
		job.maxAttempts = defaultOutboxMaxAttempts
	}
	if job.parked < job.published {
		job.parked = job.published
	}
	return job, nil
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	publishedCutoff, parkedCutoff := now.Add(-j.published), now.Add(-j.parked)

	var published, parked int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		if published, err = j.repo.DeletePublishedBefore(ctx, tx, publishedCutoff); err != nil {
			return fmt.Errorf("published rows: %w", err)
		}
		if parked, err = j.repo.DeleteParkedBefore(ctx, tx, parkedCutoff, j.maxAttempts); err != nil {
			return fmt.Errorf("parked rows: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("prune notification outbox: %w", err)
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"published_cutoff": publishedCutoff,
		"parked_cutoff":    parkedCutoff,
		"published_pruned": published,
		"parked_pruned":    parked,
	}), "notification outbox pruned")
	return nil
}

func orDuration(v, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return v
}
