// Package notifications queues customer and operator notifications on the
// outbox. Delivery never blocks or fails the operation that triggered it.
package notifications

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/cantora-backend/pkg/enums"
	"github.com/angelmondragon/cantora-backend/pkg/logger"
	"github.com/angelmondragon/cantora-backend/pkg/outbox"
)

// Notifier accepts best-effort notifications.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// Event describes one notification about an order.
type Event struct {
	Type    enums.OutboxEventType
	OrderID uuid.UUID
	UserID  uuid.UUID
	Data    any
	// Once skips the event when one of the same type is already queued for the order.
	Once bool
}

type emitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitOnce(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Dispatcher writes notifications to the outbox in their own transaction.
type Dispatcher struct {
	emitter emitter
	tx      txRunner
	logg    *logger.Logger
	enabled bool
}

// NewDispatcher wires the outbox-backed notifier. A disabled dispatcher drops every event.
func NewDispatcher(emitter emitter, tx txRunner, logg *logger.Logger, enabled bool) (*Dispatcher, error) {
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &Dispatcher{emitter: emitter, tx: tx, logg: logg, enabled: enabled}, nil
}

// Notify queues the event. Failures are logged and swallowed.
func (d *Dispatcher) Notify(ctx context.Context, event Event) {
	if d == nil || !d.enabled {
		return
	}
	domainEvent := outbox.DomainEvent{
		EventType:     event.Type,
		AggregateType: enums.AggregateOrder,
		AggregateID:   event.OrderID,
		Actor:         &outbox.ActorRef{UserID: event.UserID},
		Data:          event.Data,
	}
	err := d.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if event.Once {
			return d.emitter.EmitOnce(ctx, tx, domainEvent)
		}
		return d.emitter.Emit(ctx, tx, domainEvent)
	})
	if err != nil && d.logg != nil {
		logCtx := d.logg.WithFields(ctx, map[string]any{
			"event_type": event.Type,
			"order_id":   event.OrderID.String(),
		})
		d.logg.Error(logCtx, "failed to queue notification", err)
	}
}

// Nop discards notifications.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, Event) {}
