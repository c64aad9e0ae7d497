package mpesawebhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/homabaysouq/souq-backend/pkg/redis"
)

type IdempotencyGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	scope string
}

func NewIdempotencyGuard(store redis.IdempotencyStore, ttl time.Duration, scope string) (*IdempotencyGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	return &IdempotencyGuard{
		store: store,
		ttl:   ttl,
		scope: scope,
	}, nil
}

// CheckAndMark reports whether the delivery was already seen and marks it otherwise.
func (g *IdempotencyGuard) CheckAndMark(ctx context.Context, deliveryID string) (bool, error) {
	if deliveryID == "" {
		return false, errors.New("delivery id is required")
	}
	key := g.store.IdempotencyKey(g.scope, deliveryID)
	set, err := g.store.SetNX(ctx, key, "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set idempotency key: %w", err)
	}
	return !set, nil
}

func (g *IdempotencyGuard) Delete(ctx context.Context, deliveryID string) error {
	if deliveryID == "" {
		return errors.New("delivery id is required")
	}
	key := g.store.IdempotencyKey(g.scope, deliveryID)
	return g.store.Del(ctx, key)
}
