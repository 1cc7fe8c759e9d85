package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RoomRegistry counts live relay subscriptions per room in Redis so every
// relay instance sees the same rooms. Counters expire after ttl without
// activity, which clears rooms left behind by a crashed relay.
type RoomRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRoomRegistry(client *redis.Client, ttl time.Duration) *RoomRegistry {
	return &RoomRegistry{
		client: client,
		ttl:    ttl,
	}
}

func (r *RoomRegistry) Acquire(ctx context.Context, code string) (int, error) {
	key := r.key(code)
	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return int(incr.Val()), nil
}

func (r *RoomRegistry) Release(ctx context.Context, code string) (int, error) {
	key := r.key(code)
	n, err := r.client.Decr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		if err := r.client.Del(ctx, key).Err(); err != nil {
			return 0, err
		}
		return 0, nil
	}
	return int(n), nil
}

func (r *RoomRegistry) Live(ctx context.Context, code string) (int, error) {
	n, err := r.client.Get(ctx, r.key(code)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (r *RoomRegistry) key(code string) string {
	return "room:live:" + code
}
