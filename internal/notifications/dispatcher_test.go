package notifications

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/cantora-backend/pkg/db/dbtest"
	"github.com/angelmondragon/cantora-backend/pkg/db/models"
	"github.com/angelmondragon/cantora-backend/pkg/enums"
	"github.com/angelmondragon/cantora-backend/pkg/logger"
	"github.com/angelmondragon/cantora-backend/pkg/outbox"
	"github.com/angelmondragon/cantora-backend/pkg/outbox/payloads"
)

type stubEmitter struct {
	err   error
	calls []outbox.DomainEvent
	once  int
}

func (s *stubEmitter) Emit(_ context.Context, _ *gorm.DB, event outbox.DomainEvent) error {
	s.calls = append(s.calls, event)
	return s.err
}

func (s *stubEmitter) EmitOnce(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	s.once++
	return s.Emit(ctx, tx, event)
}

type stubTx struct{}

func (stubTx) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func quietLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func TestDispatcherSwallowsEmitErrors(t *testing.T) {
	emitter := &stubEmitter{err: errors.New("outbox down")}
	d, err := NewDispatcher(emitter, stubTx{}, quietLogger(), true)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	d.Notify(context.Background(), Event{Type: enums.EventCreditConsumed, OrderID: uuid.New()})

	if len(emitter.calls) != 1 {
		t.Fatalf("expected one emit attempt, got %d", len(emitter.calls))
	}
	if emitter.calls[0].AggregateType != enums.AggregateOrder {
		t.Fatalf("unexpected aggregate %s", emitter.calls[0].AggregateType)
	}
}

func TestDispatcherDisabledDropsEvents(t *testing.T) {
	emitter := &stubEmitter{}
	d, _ := NewDispatcher(emitter, stubTx{}, nil, false)

	d.Notify(context.Background(), Event{Type: enums.EventMusicReady, OrderID: uuid.New()})

	if len(emitter.calls) != 0 {
		t.Fatalf("expected no emits, got %d", len(emitter.calls))
	}
}

func TestDispatcherOnceUsesDedupedEmit(t *testing.T) {
	emitter := &stubEmitter{}
	d, _ := NewDispatcher(emitter, stubTx{}, nil, true)

	d.Notify(context.Background(), Event{Type: enums.EventLyricsGenerated, OrderID: uuid.New(), Once: true})

	if emitter.once != 1 {
		t.Fatalf("expected deduped emit, got %d", emitter.once)
	}
}

func TestDispatcherWritesOutboxRow(t *testing.T) {
	client, conn := dbtest.Client(t)
	svc := outbox.NewService(outbox.NewRepository(conn), nil)
	d, err := NewDispatcher(svc, client, nil, true)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	orderID := uuid.New()
	event := Event{
		Type:    enums.EventMusicReady,
		OrderID: orderID,
		Data:    payloads.MusicReadyEvent{OrderID: orderID},
		Once:    true,
	}

	d.Notify(context.Background(), event)
	d.Notify(context.Background(), event)

	var rows []models.OutboxEvent
	if err := conn.Where("aggregate_id = ?", orderID).Find(&rows).Error; err != nil {
		t.Fatalf("load outbox rows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected exactly one queued event, got %d", len(rows))
	}
	if rows[0].EventType != enums.EventMusicReady {
		t.Fatalf("unexpected event type %s", rows[0].EventType)
	}
}

func TestNewDispatcherRequiresDependencies(t *testing.T) {
	if _, err := NewDispatcher(nil, stubTx{}, nil, true); err == nil {
		t.Fatal("expected error for missing emitter")
	}
	if _, err := NewDispatcher(&stubEmitter{}, nil, nil, true); err == nil {
		t.Fatal("expected error for missing tx runner")
	}
}
