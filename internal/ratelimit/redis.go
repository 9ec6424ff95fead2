package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter keeps a sliding one-minute window per session in a sorted
// set scored by request time, shared between instances.
type RedisRateLimiter struct {
	client *redis.Client
}

func NewRedisRateLimiter(client *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{client: client}
}

func (r *RedisRateLimiter) key(sessionID string) string {
	return "sqlassist:ratelimit:" + sessionID
}

func (r *RedisRateLimiter) Allow(ctx context.Context, sessionID string, limit int) (Decision, error) {
	key := r.key(sessionID)
	now := time.Now()

	var count *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(now.Add(-Window).UnixNano(), 10))
		pipe.ZAdd(ctx, key, redis.Z{
			Score:  float64(now.UnixNano()),
			Member: uuid.NewString(),
		})
		count = pipe.ZCard(ctx, key)
		pipe.Expire(ctx, key, Window)
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit window: %w", err)
	}

	n := int(count.Val())
	return Decision{
		Allowed:   n <= limit,
		Remaining: max(0, limit-n),
		ResetAt:   now.Add(Window),
	}, nil
}
