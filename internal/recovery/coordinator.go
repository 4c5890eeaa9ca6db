package recovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/angelmondragon/cantora-backend/internal/generation"
	"github.com/angelmondragon/cantora-backend/internal/orchestrator"
	"github.com/angelmondragon/cantora-backend/internal/orders"
	"github.com/angelmondragon/cantora-backend/pkg/config"
	"github.com/angelmondragon/cantora-backend/pkg/db/models"
	"github.com/angelmondragon/cantora-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cantora-backend/pkg/errors"
	"github.com/angelmondragon/cantora-backend/pkg/logger"
)

type orderReader interface {
	GetFreshStatus(ctx context.Context, orderID uuid.UUID) (*orders.Snapshot, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
}

type processor interface {
	Process(ctx context.Context, orderID uuid.UUID, briefing generation.Briefing, mode enums.ProcessMode) orchestrator.Result
}

// Coordinator re-runs generation for stuck orders from their persisted briefing.
type Coordinator struct {
	orders    orderReader
	processor processor
	marker    *Marker
	logg      *logger.Logger
	defaults  generation.BriefingDefaults
	running   sync.Map
}

// CoordinatorParams wires the coordinator.
type CoordinatorParams struct {
	Orders    orderReader
	Processor processor
	Marker    *Marker
	Logger    *logger.Logger
	Config    config.OrchestratorConfig
}

// NewCoordinator builds the recovery coordinator.
func NewCoordinator(p CoordinatorParams) (*Coordinator, error) {
	if p.Orders == nil {
		return nil, fmt.Errorf("order store required")
	}
	if p.Processor == nil {
		return nil, fmt.Errorf("orchestrator required")
	}
	if p.Marker == nil {
		return nil, fmt.Errorf("recovery marker required")
	}
	return &Coordinator{
		orders:    p.Orders,
		processor: p.Processor,
		marker:    p.Marker,
		logg:      p.Logger,
		defaults: generation.BriefingDefaults{
			Language:  p.Config.DefaultLanguage,
			VoiceType: p.Config.DefaultVoiceType,
		},
	}, nil
}

// MarkRecoverable delegates to the marker.
func (c *Coordinator) MarkRecoverable(ctx context.Context, orderID uuid.UUID, cause error) {
	c.marker.MarkRecoverable(ctx, orderID, cause)
}

// Retry regenerates lyrics for an order stuck in PAID or LYRICS_PENDING. Any
// other status is refused. Concurrent retries of one order are collapsed.
func (c *Coordinator) Retry(ctx context.Context, orderID uuid.UUID) orchestrator.Result {
	if orderID == uuid.Nil {
		return orchestrator.Failure(pkgerrors.New(pkgerrors.CodeValidation, "order id required"))
	}
	if c.logg != nil {
		ctx = c.logg.WithFields(ctx, map[string]any{"order_id": orderID.String(), "operation": "retry"})
	}

	if _, loaded := c.running.LoadOrStore(orderID, struct{}{}); loaded {
		return orchestrator.Failure(pkgerrors.New(pkgerrors.CodeActionInProgress, "retry already in progress"))
	}
	defer c.running.Delete(orderID)

	snap, err := c.orders.GetFreshStatus(ctx, orderID)
	if err != nil {
		return orchestrator.Failure(err)
	}
	if !orders.IsRetryable(snap.Status) {
		return orchestrator.Failure(pkgerrors.New(pkgerrors.CodeInvariantViolation, "order is not retryable").
			WithDetails(map[string]any{"status": snap.Status}))
	}

	order, err := c.orders.GetOrder(ctx, orderID)
	if err != nil {
		return orchestrator.Failure(err)
	}
	briefing := c.RebuildBriefing(order)

	if c.logg != nil {
		c.logg.Info(ctx, "retrying order generation")
	}
	res := c.processor.Process(ctx, orderID, briefing, enums.ProcessModeDetailed)
	if !res.Success && c.logg != nil {
		c.logg.Warn(c.logg.WithField(ctx, "error", res.Error), "order retry failed")
	}
	return res
}

// RebuildBriefing reconstructs the generation input from the persisted order.
func (c *Coordinator) RebuildBriefing(order *models.Order) generation.Briefing {
	return generation.BriefingFromOrder(order, c.defaults)
}
