package orders

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	internalorders "github.com/angelmondragon/cantora-backend/internal/orders"
	"github.com/angelmondragon/cantora-backend/pkg/auth"
	"github.com/angelmondragon/cantora-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cantora-backend/pkg/errors"
)

type stubStage struct {
	steps []enums.OrderStatus
	err   error
}

func (s *stubStage) step(to enums.OrderStatus, id uuid.UUID) (*internalorders.Snapshot, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.steps = append(s.steps, to)
	return &internalorders.Snapshot{OrderID: id, Status: to}, nil
}

func (s *stubStage) MarkGenerating(_ context.Context, id uuid.UUID) (*internalorders.Snapshot, error) {
	return s.step(enums.OrderStatusMusicGenerating, id)
}

func (s *stubStage) MarkReady(_ context.Context, id uuid.UUID) (*internalorders.Snapshot, error) {
	return s.step(enums.OrderStatusMusicReady, id)
}

func (s *stubStage) Complete(_ context.Context, id uuid.UUID) (*internalorders.Snapshot, error) {
	return s.step(enums.OrderStatusCompleted, id)
}

func (s *stubStage) Cancel(_ context.Context, id uuid.UUID) (*internalorders.Snapshot, error) {
	return s.step(enums.OrderStatusCancelled, id)
}

func TestMusicHandlersCallMatchingStep(t *testing.T) {
	stage := &stubStage{}
	handlers := []http.HandlerFunc{
		MusicGenerating(stage, nil),
		MusicReady(stage, nil),
		MusicComplete(stage, nil),
		Cancel(stage, nil),
	}
	for _, h := range handlers {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, newRequest(http.MethodPost, "", uuid.New(), auth.RoleAdmin, uuid.New()))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	}
	want := []enums.OrderStatus{
		enums.OrderStatusMusicGenerating,
		enums.OrderStatusMusicReady,
		enums.OrderStatusCompleted,
		enums.OrderStatusCancelled,
	}
	for i, status := range want {
		if stage.steps[i] != status {
			t.Fatalf("step %d: expected %s, got %s", i, status, stage.steps[i])
		}
	}
}

func TestMusicHandlerSurfacesInvalidTransition(t *testing.T) {
	stage := &stubStage{err: pkgerrors.New(pkgerrors.CodeInvariantViolation, "invalid status")}
	rec := httptest.NewRecorder()
	MusicReady(stage, nil).ServeHTTP(rec, newRequest(http.MethodPost, "", uuid.New(), auth.RoleAdmin, uuid.New()))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}
