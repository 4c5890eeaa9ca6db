package orders

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/cantora-backend/api/middleware"
	"github.com/angelmondragon/cantora-backend/api/responses"
	"github.com/angelmondragon/cantora-backend/api/validators"
	"github.com/angelmondragon/cantora-backend/internal/credits"
	"github.com/angelmondragon/cantora-backend/internal/generation"
	"github.com/angelmondragon/cantora-backend/internal/orchestrator"
	internalorders "github.com/angelmondragon/cantora-backend/internal/orders"
	"github.com/angelmondragon/cantora-backend/pkg/db/models"
	"github.com/angelmondragon/cantora-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cantora-backend/pkg/errors"
	"github.com/angelmondragon/cantora-backend/pkg/logger"
)

const maxApprovedTextLength = 8000

var stuckLimit = validators.IntRange{Default: 50, Min: 1, Max: 200}

// OrderReader loads orders and their fresh status.
type OrderReader interface {
	GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	GetFreshStatus(ctx context.Context, orderID uuid.UUID) (*internalorders.Snapshot, error)
	ListStuck(ctx context.Context, updatedBefore time.Time, limit int) ([]internalorders.Snapshot, error)
}

type CreditConsumer interface {
	Consume(ctx context.Context, userID, orderID uuid.UUID) (*credits.ConsumeResult, error)
}

// FlowRunner runs the customer-facing generation steps.
type FlowRunner interface {
	Process(ctx context.Context, orderID uuid.UUID, briefing generation.Briefing, mode enums.ProcessMode) orchestrator.Result
	ApproveLyrics(ctx context.Context, input orchestrator.ApproveInput) orchestrator.Result
}

type Recoverer interface {
	Retry(ctx context.Context, orderID uuid.UUID) orchestrator.Result
	RebuildBriefing(order *models.Order) generation.Briefing
}

type processRequest struct {
	Mode string `json:"mode" validate:"required,oneof=quick detailed"`
}

type approveRequest struct {
	LyricID      *uuid.UUID `json:"lyricId"`
	ApprovedText string     `json:"approvedText" validate:"omitempty,max=8000"`
}

// StatusResponse is the fresh lifecycle view served to the dashboard.
type StatusResponse struct {
	internalorders.Snapshot
	Stuck bool `json:"stuck"`
}

// ConsumeCredit pays for the order with one of the caller's credits.
func ConsumeCredit(ledger CreditConsumer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ledger == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credit ledger unavailable"))
			return
		}
		userID, ok := middleware.UserUUIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user required"))
			return
		}
		orderID, err := validators.PathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := ledger.Consume(r.Context(), userID, orderID)
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeAlreadyProcessed) {
				responses.WriteSuccess(w, map[string]any{"success": true, "alreadyProcessed": true})
				return
			}
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"success": true, "credit": result})
	}
}

// Process starts lyric generation for a paid order.
func Process(reader OrderReader, flow FlowRunner, recovery Recoverer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if reader == nil || flow == nil || recovery == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order flow unavailable"))
			return
		}
		order, ok := loadOwnedOrder(w, r, reader, logg)
		if !ok {
			return
		}
		var req processRequest
		if err := validators.DecodeJSONBody(w, r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		mode, err := enums.ParseProcessMode(req.Mode)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid mode"))
			return
		}

		res := flow.Process(r.Context(), order.ID, recovery.RebuildBriefing(order), mode)
		writeResult(r.Context(), logg, w, res)
	}
}

// ApproveLyrics records the chosen lyric and hands the order to music production.
// The body is optional for instrumental orders.
func ApproveLyrics(reader OrderReader, flow FlowRunner, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if reader == nil || flow == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order flow unavailable"))
			return
		}
		order, ok := loadOwnedOrder(w, r, reader, logg)
		if !ok {
			return
		}
		var req approveRequest
		if err := validators.DecodeOptionalJSONBody(w, r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		res := flow.ApproveLyrics(r.Context(), orchestrator.ApproveInput{
			OrderID:      order.ID,
			LyricID:      req.LyricID,
			ApprovedText: validators.CleanText(req.ApprovedText, maxApprovedTextLength),
		})
		writeResult(r.Context(), logg, w, res)
	}
}

// Retry re-runs lyric generation for a stuck order.
func Retry(reader OrderReader, recovery Recoverer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if reader == nil || recovery == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "recovery unavailable"))
			return
		}
		snap, ok := loadOwnedStatus(w, r, reader, logg)
		if !ok {
			return
		}
		writeResult(r.Context(), logg, w, recovery.Retry(r.Context(), snap.OrderID))
	}
}

// Status returns the order's fresh status, bypassing any cache.
func Status(reader OrderReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if reader == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders unavailable"))
			return
		}
		snap, ok := loadOwnedStatus(w, r, reader, logg)
		if !ok {
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		responses.WriteSuccess(w, StatusResponse{Snapshot: *snap, Stuck: snap.Stuck()})
	}
}

// ListStuck returns paid orders that have gone without lyrics for longer than threshold.
func ListStuck(reader OrderReader, threshold time.Duration, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if reader == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders unavailable"))
			return
		}
		limit, err := validators.QueryInt(r, "limit", stuckLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := reader.ListStuck(r.Context(), time.Now().UTC().Add(-threshold), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"orders": rows, "count": len(rows)})
	}
}

func loadOwnedOrder(w http.ResponseWriter, r *http.Request, reader OrderReader, logg *logger.Logger) (*models.Order, bool) {
	orderID, err := validators.PathUUID(r, "orderId")
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return nil, false
	}
	order, err := reader.GetOrder(r.Context(), orderID)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return nil, false
	}
	if err := authorizeOwner(r.Context(), order.UserID); err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return nil, false
	}
	return order, true
}

func loadOwnedStatus(w http.ResponseWriter, r *http.Request, reader OrderReader, logg *logger.Logger) (*internalorders.Snapshot, bool) {
	orderID, err := validators.PathUUID(r, "orderId")
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return nil, false
	}
	snap, err := reader.GetFreshStatus(r.Context(), orderID)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return nil, false
	}
	if err := authorizeOwner(r.Context(), snap.UserID); err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return nil, false
	}
	return snap, true
}

// authorizeOwner lets admins act on any order and customers only on their own.
func authorizeOwner(ctx context.Context, owner uuid.UUID) error {
	if middleware.IsAdmin(ctx) {
		return nil
	}
	userID, ok := middleware.UserUUIDFromContext(ctx)
	if !ok {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "user required")
	}
	if userID != owner {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return nil
}

func writeResult(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, res orchestrator.Result) {
	if res.Success {
		responses.WriteSuccess(w, res)
		return
	}
	code := res.ErrorCode
	if code == "" {
		code = pkgerrors.CodeInternal
	}
	msg := res.Error
	if msg == "" {
		msg = string(code)
	}
	details := map[string]any{"action": res.Action}
	if len(res.MissingPronunciations) > 0 {
		details["missingPronunciations"] = res.MissingPronunciations
	}
	responses.WriteError(ctx, logg, w, pkgerrors.New(code, msg).WithDetails(details))
}
