package entitlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Cache holds subscriptions read by GetSubscription.
// A miss is reported with ok=false and a nil error. Set must not replace a
// cached copy whose UpdatedAt is later than the one it is given.
type Cache interface {
	Get(ctx context.Context, userID uuid.UUID) (sub Subscription, ok bool, err error)
	Set(ctx context.Context, sub Subscription) error
	Delete(ctx context.Context, userID uuid.UUID) error
}

// RedisCache stores JSON encoded subscriptions under "<prefix><user id>".
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisCache returns a cache with entries living for ttl.
// A zero ttl keeps entries until they are invalidated.
func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, prefix: "fincash:subscription:", ttl: ttl}
}

func (c *RedisCache) key(userID uuid.UUID) string {
	return c.prefix + userID.String()
}

func (c *RedisCache) Get(ctx context.Context, userID uuid.UUID) (Subscription, bool, error) {
	raw, err := c.client.Get(ctx, c.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Subscription{}, false, nil
	}
	if err != nil {
		return Subscription{}, false, fmt.Errorf("entitlement: cache get: %w", err)
	}

	var sub Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return Subscription{}, false, fmt.Errorf("entitlement: cache decode: %w", err)
	}
	return sub, true, nil
}

// setAttempts bounds the optimistic retries of Set under contention.
const setAttempts = 3

// Set stores sub unless the cached copy is newer. The compare and the
// write run under WATCH, so a concurrent writer forces a retry.
func (c *RedisCache) Set(ctx context.Context, sub Subscription) error {
	raw, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("entitlement: cache encode: %w", err)
	}

	key := c.key(sub.UserID)
	write := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var cached Subscription
			if json.Unmarshal(cur, &cached) == nil && cached.UpdatedAt.After(sub.UpdatedAt) {
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return pipe.Set(ctx, key, raw, c.ttl).Err()
		})
		return err
	}

	for range setAttempts {
		err = c.client.Watch(ctx, write, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("entitlement: cache set: %w", err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, userID uuid.UUID) error {
	if err := c.client.Del(ctx, c.key(userID)).Err(); err != nil {
		return fmt.Errorf("entitlement: cache delete: %w", err)
	}
	return nil
}
