package orders

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/cantora-backend/api/responses"
	"github.com/angelmondragon/cantora-backend/api/validators"
	internalorders "github.com/angelmondragon/cantora-backend/internal/orders"
	pkgerrors "github.com/angelmondragon/cantora-backend/pkg/errors"
	"github.com/angelmondragon/cantora-backend/pkg/logger"
)

type MusicStager interface {
	MarkGenerating(ctx context.Context, orderID uuid.UUID) (*internalorders.Snapshot, error)
	MarkReady(ctx context.Context, orderID uuid.UUID) (*internalorders.Snapshot, error)
	Complete(ctx context.Context, orderID uuid.UUID) (*internalorders.Snapshot, error)
	Cancel(ctx context.Context, orderID uuid.UUID) (*internalorders.Snapshot, error)
}

type stageStep func(ctx context.Context, orderID uuid.UUID) (*internalorders.Snapshot, error)

func MusicGenerating(stage MusicStager, logg *logger.Logger) http.HandlerFunc {
	return musicStep(stage, logg, func(s MusicStager) stageStep { return s.MarkGenerating })
}

func MusicReady(stage MusicStager, logg *logger.Logger) http.HandlerFunc {
	return musicStep(stage, logg, func(s MusicStager) stageStep { return s.MarkReady })
}

func MusicComplete(stage MusicStager, logg *logger.Logger) http.HandlerFunc {
	return musicStep(stage, logg, func(s MusicStager) stageStep { return s.Complete })
}

// Cancel is staff-only; it is refused once the order is completed.
func Cancel(stage MusicStager, logg *logger.Logger) http.HandlerFunc {
	return musicStep(stage, logg, func(s MusicStager) stageStep { return s.Cancel })
}

func musicStep(stage MusicStager, logg *logger.Logger, pick func(MusicStager) stageStep) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if stage == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "music stage unavailable"))
			return
		}
		orderID, err := validators.PathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		snap, err := pick(stage)(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, snap)
	}
}
