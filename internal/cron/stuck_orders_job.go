package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/cantora-backend/internal/notifications"
	"github.com/angelmondragon/cantora-backend/internal/orchestrator"
	"github.com/angelmondragon/cantora-backend/internal/orders"
	"github.com/angelmondragon/cantora-backend/pkg/enums"
	"github.com/angelmondragon/cantora-backend/pkg/logger"
	"github.com/angelmondragon/cantora-backend/pkg/metrics"
	"github.com/angelmondragon/cantora-backend/pkg/outbox/payloads"
)

const (
	defaultStuckThreshold = 10 * time.Minute
	defaultStuckBatch     = 100
)

type stuckOrderLister interface {
	ListStuck(ctx context.Context, updatedBefore time.Time, limit int) ([]orders.Snapshot, error)
}

type orderRetrier interface {
	Retry(ctx context.Context, orderID uuid.UUID) orchestrator.Result
}

// StuckOrdersJobParams configure the stuck-order scan.
type StuckOrdersJobParams struct {
	Logger     *logger.Logger
	Orders     stuckOrderLister
	Notifier   notifications.Notifier
	Metrics    *metrics.FulfillmentMetrics
	Threshold  time.Duration
	BatchLimit int
	// Retrier is only used when AutoRetry is set.
	Retrier   orderRetrier
	AutoRetry bool
}

// NewStuckOrdersJob builds the job that surfaces paid orders whose lyrics never arrived.
func NewStuckOrdersJob(params StuckOrdersJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order store required")
	}
	if params.AutoRetry && params.Retrier == nil {
		return nil, fmt.Errorf("retrier required when auto retry is enabled")
	}
	notifier := params.Notifier
	if notifier == nil {
		notifier = notifications.Nop{}
	}
	threshold := params.Threshold
	if threshold <= 0 {
		threshold = defaultStuckThreshold
	}
	limit := params.BatchLimit
	if limit <= 0 {
		limit = defaultStuckBatch
	}
	return &stuckOrdersJob{
		logg:      params.Logger,
		orders:    params.Orders,
		notifier:  notifier,
		metrics:   params.Metrics,
		retrier:   params.Retrier,
		autoRetry: params.AutoRetry,
		threshold: threshold,
		limit:     limit,
		now:       time.Now,
	}, nil
}

type stuckOrdersJob struct {
	logg      *logger.Logger
	orders    stuckOrderLister
	notifier  notifications.Notifier
	metrics   *metrics.FulfillmentMetrics
	retrier   orderRetrier
	autoRetry bool
	threshold time.Duration
	limit     int
	now       func() time.Time
}

func (j *stuckOrdersJob) Name() string { return "stuck-orders" }

func (j *stuckOrdersJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.threshold)
	stuck, err := j.orders.ListStuck(ctx, cutoff, j.limit)
	if err != nil {
		return fmt.Errorf("list stuck orders: %w", err)
	}
	j.metrics.AddStuckDetected(len(stuck))

	var errs []error
	retried := 0
	for _, snap := range stuck {
		orderCtx := j.logg.WithFields(ctx, map[string]any{
			"order_id":    snap.OrderID.String(),
			"user_id":     snap.UserID.String(),
			"status":      snap.Status,
			"stale_since": snap.UpdatedAt,
		})
		j.logg.Warn(orderCtx, "stuck order detected")

		ok := false
		if j.autoRetry {
			res := j.retrier.Retry(orderCtx, snap.OrderID)
			if res.Success {
				ok = true
				retried++
			} else {
				errs = append(errs, fmt.Errorf("retry order %s: %s", snap.OrderID, res.Error))
			}
		}

		j.notifier.Notify(orderCtx, notifications.Event{
			Type:    enums.EventOrderStuckDetected,
			OrderID: snap.OrderID,
			UserID:  snap.UserID,
			Data: payloads.OrderStuckDetectedEvent{
				OrderID:    snap.OrderID,
				UserID:     snap.UserID,
				Status:     snap.Status,
				StaleSince: snap.UpdatedAt,
				Retried:    ok,
			},
			Once: true,
		})
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":  cutoff,
		"found":   len(stuck),
		"retried": retried,
	})
	j.logg.Info(logCtx, "stuck order scan complete")
	return multierr.Combine(errs...)
}
