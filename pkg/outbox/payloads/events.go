package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/cantora-backend/pkg/enums"
)

// CreditConsumedEvent is emitted after an order is settled with a credit.
type CreditConsumedEvent struct {
	OrderID         uuid.UUID          `json:"order_id"`
	UserID          uuid.UUID          `json:"user_id"`
	Source          enums.CreditSource `json:"source"`
	CreditPackageID *uuid.UUID         `json:"credit_package_id,omitempty"`
	SubscriptionID  *uuid.UUID         `json:"subscription_id,omitempty"`
	PlanID          *string            `json:"plan_id,omitempty"`
	Remaining       int                `json:"remaining"`
}

// LyricsGeneratedEvent tells the customer their lyric options are ready.
type LyricsGeneratedEvent struct {
	OrderID     uuid.UUID   `json:"order_id"`
	UserID      uuid.UUID   `json:"user_id"`
	LyricIDs    []uuid.UUID `json:"lyric_ids"`
	GeneratedAt time.Time   `json:"generated_at"`
}

// LyricsApprovedEvent hands an order over to music production.
type LyricsApprovedEvent struct {
	OrderID         uuid.UUID  `json:"order_id"`
	UserID          uuid.UUID  `json:"user_id"`
	ApprovedLyricID *uuid.UUID `json:"approved_lyric_id,omitempty"`
	Instrumental    bool       `json:"instrumental"`
}

// OrderStuckDetectedEvent alerts operators about an order whose generation never landed.
type OrderStuckDetectedEvent struct {
	OrderID    uuid.UUID         `json:"order_id"`
	UserID     uuid.UUID         `json:"user_id"`
	Status     enums.OrderStatus `json:"status"`
	StaleSince time.Time         `json:"stale_since"`
	Retried    bool              `json:"retried"`
}

// MusicReadyEvent tells the customer their song can be listened to.
type MusicReadyEvent struct {
	OrderID uuid.UUID `json:"order_id"`
	UserID  uuid.UUID `json:"user_id"`
}

// OrderScoped payloads name the order they describe, which must match the row's aggregate.
type OrderScoped interface {
	Order() uuid.UUID
}

func (e *CreditConsumedEvent) Order() uuid.UUID { return e.OrderID }
func (e *LyricsGeneratedEvent) Order() uuid.UUID { return e.OrderID }
func (e *LyricsApprovedEvent) Order() uuid.UUID { return e.OrderID }
func (e *OrderStuckDetectedEvent) Order() uuid.UUID { return e.OrderID }
func (e *MusicReadyEvent) Order() uuid.UUID { return e.OrderID }
