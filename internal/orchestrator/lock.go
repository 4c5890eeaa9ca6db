package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Locker provides mutual exclusion across API replicas.
type Locker interface {
	// Acquire returns a release func when the lock was taken and ok=false when
	// another holder owns it.
	Acquire(ctx context.Context, scope string, id uuid.UUID, ttl time.Duration) (release func(context.Context), ok bool, err error)
}

type redisLockStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
	LockKey(scope, id string) string
}

// RedisLocker implements Locker with SET NX and a token-checked delete.
type RedisLocker struct {
	store redisLockStore
}

// NewRedisLocker wraps a redis client.
func NewRedisLocker(store redisLockStore) (*RedisLocker, error) {
	if store == nil {
		return nil, fmt.Errorf("redis client required")
	}
	return &RedisLocker{store: store}, nil
}

func (l *RedisLocker) Acquire(ctx context.Context, scope string, id uuid.UUID, ttl time.Duration) (func(context.Context), bool, error) {
	key := l.store.LockKey(scope, id.String())
	token := uuid.NewString()
	ok, err := l.store.SetNX(ctx, key, token, ttl)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	release := func(ctx context.Context) {
		// an expired lock may already belong to someone else; the token check leaves it alone
		_, _ = l.store.CompareAndDelete(ctx, key, token)
	}
	return release, true, nil
}
