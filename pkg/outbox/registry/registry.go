// Package registry maps outbox rows onto their topic and typed payload.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/cantora-backend/pkg/config"
	"github.com/angelmondragon/cantora-backend/pkg/db/models"
	"github.com/angelmondragon/cantora-backend/pkg/enums"
	"github.com/angelmondragon/cantora-backend/pkg/outbox"
	"github.com/angelmondragon/cantora-backend/pkg/outbox/payloads"
)

// EventDescriptor links an event type to its aggregate, topic and payload schema.
type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
	newPayload    func() any
}

// ResolvedEvent is a decoded outbox row ready to publish.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// EventRegistry knows every notification the publisher may send.
type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// orderEvent describes notifications about an order; all of them go to the
// notifications topic under the order aggregate.
func orderEvent[T any](eventType enums.OutboxEventType, topic string) EventDescriptor {
	return EventDescriptor{
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		Topic:         topic,
		newPayload:    func() any { return new(T) },
	}
}

// NewEventRegistry builds the registry for the configured notifications topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	topic := cfg.NotificationsTopic
	if topic == "" {
		return nil, errors.New("notifications topic is required")
	}
	reg := &EventRegistry{entries: map[enums.OutboxEventType]EventDescriptor{}}
	for _, desc := range []EventDescriptor{
		orderEvent[payloads.CreditConsumedEvent](enums.EventCreditConsumed, topic),
		orderEvent[payloads.LyricsGeneratedEvent](enums.EventLyricsGenerated, topic),
		orderEvent[payloads.LyricsApprovedEvent](enums.EventLyricsApproved, topic),
		orderEvent[payloads.OrderStuckDetectedEvent](enums.EventOrderStuckDetected, topic),
		orderEvent[payloads.MusicReadyEvent](enums.EventMusicReady, topic),
	} {
		reg.entries[desc.EventType] = desc
	}
	return reg, nil
}

// Resolve validates the row and decodes its typed payload. Every failure is a
// NonRetryableError since a malformed row never becomes valid.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	resolved, err := r.resolve(event)
	if err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("%s: %w", event.EventType, err))
	}
	return resolved, nil
}

func (r *EventRegistry) resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	switch {
	case !ok:
		return nil, errors.New("unsupported event type")
	case desc.AggregateType != event.AggregateType:
		return nil, fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType)
	case event.AggregateID == uuid.Nil:
		return nil, errors.New("missing aggregate_id")
	}

	envelope, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, err
	}
	payload := desc.newPayload()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if scoped, ok := payload.(payloads.OrderScoped); ok && scoped.Order() != event.AggregateID {
		return nil, fmt.Errorf("payload order %s does not match aggregate %s", scoped.Order(), event.AggregateID)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
