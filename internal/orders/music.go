package orders

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/cantora-backend/internal/notifications"
	"github.com/angelmondragon/cantora-backend/pkg/enums"
	"github.com/angelmondragon/cantora-backend/pkg/logger"
	"github.com/angelmondragon/cantora-backend/pkg/outbox/payloads"
)

type advancer interface {
	Advance(ctx context.Context, orderID uuid.UUID, to enums.OrderStatus) (*Snapshot, error)
}

// MusicStage moves approved orders through music production. Every step is a
// status compare-and-swap and repeating a step is a no-op.
type MusicStage struct {
	store    advancer
	notifier notifications.Notifier
	logg     *logger.Logger
}

// NewMusicStage wires the staff-side music transitions.
func NewMusicStage(store advancer, notifier notifications.Notifier, logg *logger.Logger) (*MusicStage, error) {
	if store == nil {
		return nil, fmt.Errorf("order store required")
	}
	if notifier == nil {
		notifier = notifications.Nop{}
	}
	return &MusicStage{store: store, notifier: notifier, logg: logg}, nil
}

func (m *MusicStage) MarkGenerating(ctx context.Context, orderID uuid.UUID) (*Snapshot, error) {
	return m.advance(ctx, orderID, enums.OrderStatusMusicGenerating)
}

// MarkReady also tells the customer the song can be played.
func (m *MusicStage) MarkReady(ctx context.Context, orderID uuid.UUID) (*Snapshot, error) {
	snap, err := m.advance(ctx, orderID, enums.OrderStatusMusicReady)
	if err != nil {
		return nil, err
	}
	m.notifier.Notify(ctx, notifications.Event{
		Type:    enums.EventMusicReady,
		OrderID: orderID,
		UserID:  snap.UserID,
		Data:    payloads.MusicReadyEvent{OrderID: orderID, UserID: snap.UserID},
		Once:    true,
	})
	return snap, nil
}

func (m *MusicStage) Complete(ctx context.Context, orderID uuid.UUID) (*Snapshot, error) {
	return m.advance(ctx, orderID, enums.OrderStatusCompleted)
}

func (m *MusicStage) Cancel(ctx context.Context, orderID uuid.UUID) (*Snapshot, error) {
	return m.advance(ctx, orderID, enums.OrderStatusCancelled)
}

func (m *MusicStage) advance(ctx context.Context, orderID uuid.UUID, to enums.OrderStatus) (*Snapshot, error) {
	snap, err := m.store.Advance(ctx, orderID, to)
	if err != nil {
		return nil, err
	}
	if m.logg != nil {
		logCtx := m.logg.WithOrderID(ctx, orderID.String())
		logCtx = m.logg.WithFields(logCtx, map[string]any{"target_status": to, "status": snap.Status})
		m.logg.Info(logCtx, "order music stage advanced")
	}
	return snap, nil
}
