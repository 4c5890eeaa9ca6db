// Package idempotency remembers which outbox events a consumer has already
// delivered, so an event whose published_at commit was lost is not sent twice.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Store is the subset of the redis client the guard needs.
type Store interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

// Guard claims event ids for one consumer. Keys look like
// cantora:idempotency:delivered:<consumer>:<event_id>.
type Guard struct {
	store    Store
	consumer string
	ttl      time.Duration
}

// NewGuard builds a guard whose claims expire after ttl. The ttl only has to
// cover the gap between a delivery and the publisher's next retry of that row.
func NewGuard(store Store, consumer string, ttl time.Duration) (*Guard, error) {
	switch {
	case store == nil:
		return nil, errors.New("idempotency store is required")
	case consumer == "":
		return nil, errors.New("consumer name is required")
	case ttl <= 0:
		return nil, errors.New("ttl must be positive")
	}
	return &Guard{store: store, consumer: consumer, ttl: ttl}, nil
}

// Claim marks eventID as delivered. It returns false when a previous claim exists.
func (g *Guard) Claim(ctx context.Context, eventID uuid.UUID) (bool, error) {
	if eventID == uuid.Nil {
		return false, errors.New("event id is required")
	}
	return g.store.SetNX(ctx, g.key(eventID), time.Now().UTC().Format(time.RFC3339), g.ttl)
}

// Release drops the claim so a failed delivery can be attempted again.
func (g *Guard) Release(ctx context.Context, eventID uuid.UUID) error {
	if eventID == uuid.Nil {
		return errors.New("event id is required")
	}
	return g.store.Del(ctx, g.key(eventID))
}

func (g *Guard) key(eventID uuid.UUID) string {
	return g.store.IdempotencyKey("delivered:"+g.consumer, eventID.String())
}
