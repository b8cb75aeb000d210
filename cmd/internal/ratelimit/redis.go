package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter keeps fixed-window failure counters in Redis.
type RedisLimiter struct {
	redis  redis.UniversalClient
	cfg    Config
	prefix string
}

var _ Limiter = (*RedisLimiter)(nil)

// NewRedisLimiter creates a Limiter backed by the given Redis client.
func NewRedisLimiter(client redis.UniversalClient, cfg Config) *RedisLimiter {
	return &RedisLimiter{
		redis:  client,
		cfg:    cfg.normalized(),
		prefix: "notekeep:rl:",
	}
}

func (l *RedisLimiter) Check(ctx context.Context, key string, _ time.Time) (Decision, error) {
	k := l.prefix + key

	count, err := l.redis.Get(ctx, k).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Decision{}, nil
		}
		return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count < int64(l.cfg.MaxFailures) {
		return Decision{}, nil
	}

	ttl, err := l.redis.PTTL(ctx, k).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	switch {
	case ttl == -2:
		// Expired between GET and PTTL.
		return Decision{}, nil
	case ttl < 0:
		// No expiry means the window start is unknown and the counter would
		// block forever. Drop it; the next Fail opens a proper window.
		if err := l.redis.Del(ctx, k).Err(); err != nil {
			return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return Decision{}, nil
	}
	if ttl < time.Second {
		ttl = time.Second
	}
	return Decision{Blocked: true, RetryAfter: ttl}, nil
}

// Fail increments the counter and starts its window in one transaction.
// EXPIRE NX only applies to a key without a TTL, so the window stays fixed
// from the first failure.
func (l *RedisLimiter) Fail(ctx context.Context, key string, _ time.Time) error {
	k := l.prefix + key

	_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, k)
		pipe.ExpireNX(ctx, k, l.cfg.Window)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	if err := l.redis.Del(ctx, l.prefix+key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
