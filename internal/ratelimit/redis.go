package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "t2i:ratelimit:"

// Redis is a fixed window limiter shared by every instance that talks to the
// same Redis server.
type Redis struct {
	client redis.Cmdable
	limit  int64
	window time.Duration
	now    func() time.Time
}

// NewRedis allows limit requests per window per key.
func NewRedis(client redis.Cmdable, limit int, window time.Duration) *Redis {
	return &Redis{client: client, limit: int64(limit), window: window, now: time.Now}
}

// Allow consumes one request from the current window. The first request of
// a window creates the counter with SETNX; later ones DECR it.
func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	now := r.now()
	redisKey, end := r.windowKey(key, now)

	wasSet, err := r.client.SetNX(ctx, redisKey, r.limit-1, end.Sub(now)).Result()
	if err != nil {
		return false, fmt.Errorf("rate limit init: %w", err)
	}
	if wasSet {
		return r.limit > 0, nil
	}

	remaining, err := r.client.Decr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("rate limit decrement: %w", err)
	}
	if remaining < 0 {
		// A counter that expired between SETNX and DECR comes back without a
		// TTL; pin it to the window end. The request is denied either way.
		r.client.ExpireAt(ctx, redisKey, end)
		return false, nil
	}
	return true, nil
}

// windowKey returns the counter key for the window containing now and the time
// that window ends.
func (r *Redis) windowKey(key string, now time.Time) (string, time.Time) {
	period := now.UnixNano() / int64(r.window)
	end := time.Unix(0, (period+1)*int64(r.window))
	return fmt.Sprintf("%s%s:%d", keyPrefix, key, period), end
}
