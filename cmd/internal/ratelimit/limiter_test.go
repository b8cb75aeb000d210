package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newRedisLimiter(t *testing.T, cfg Config) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLimiter(client, cfg), mr
}

func TestLimiters_BlockAfterBudget(t *testing.T) {
	cfg := Config{MaxFailures: 3, Window: time.Minute}
	redisLimiter, _ := newRedisLimiter(t, cfg)

	for name, l := range map[string]Limiter{
		"memory": NewMemoryLimiter(cfg),
		"redis":  redisLimiter,
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
			key := LoginEmailKey("a@x.com")

			for i := 0; i < 3; i++ {
				d, err := l.Check(ctx, key, now)
				require.NoError(t, err)
				require.False(t, d.Blocked, "attempt %d", i)
				require.NoError(t, l.Fail(ctx, key, now))
			}

			d, err := l.Check(ctx, key, now)
			require.NoError(t, err)
			require.True(t, d.Blocked)
			require.Greater(t, d.RetryAfter, time.Duration(0))
			require.LessOrEqual(t, d.RetryAfter, time.Minute)

			other, err := l.Check(ctx, LoginIPKey("198.51.100.1"), now)
			require.NoError(t, err)
			require.False(t, other.Blocked)

			require.NoError(t, l.Reset(ctx, key))
			d, err = l.Check(ctx, key, now)
			require.NoError(t, err)
			require.False(t, d.Blocked)
		})
	}
}

func TestMemoryLimiter_SlidingWindow(t *testing.T) {
	l := NewMemoryLimiter(Config{MaxFailures: 2, Window: time.Minute})
	ctx := context.Background()
	t0 := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, l.Fail(ctx, "k", t0))
	require.NoError(t, l.Fail(ctx, "k", t0.Add(30*time.Second)))

	d, _ := l.Check(ctx, "k", t0.Add(40*time.Second))
	require.True(t, d.Blocked)
	require.Equal(t, 20*time.Second, d.RetryAfter)

	d, _ = l.Check(ctx, "k", t0.Add(61*time.Second))
	require.False(t, d.Blocked)
}

func TestRedisLimiter_WindowExpires(t *testing.T) {
	l, mr := newRedisLimiter(t, Config{MaxFailures: 1, Window: time.Minute})
	ctx := context.Background()

	require.NoError(t, l.Fail(ctx, "k", time.Now()))
	d, err := l.Check(ctx, "k", time.Now())
	require.NoError(t, err)
	require.True(t, d.Blocked)

	mr.FastForward(61 * time.Second)
	d, err = l.Check(ctx, "k", time.Now())
	require.NoError(t, err)
	require.False(t, d.Blocked)
}

func TestRedisLimiter_Unavailable(t *testing.T) {
	l, mr := newRedisLimiter(t, DefaultConfig())
	mr.Close()

	_, err := l.Check(context.Background(), "k", time.Now())
	require.True(t, errors.Is(err, ErrUnavailable), "got %v", err)
	require.True(t, errors.Is(l.Fail(context.Background(), "k", time.Now()), ErrUnavailable))
}

func TestMemoryLimiter_SweepsExpiredKeys(t *testing.T) {
	l := NewMemoryLimiter(Config{MaxFailures: 5, Window: time.Minute})
	ctx := context.Background()
	t0 := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 100_000; i++ {
		require.NoError(t, l.Fail(ctx, LoginEmailKey(fmt.Sprintf("u%d@x.com", i)), t0.Add(time.Duration(i)*time.Microsecond)))
	}
	require.Equal(t, 100_000, l.keys())

	later := t0.Add(24 * time.Hour)
	require.NoError(t, l.Fail(ctx, "recent", later.Add(-30*time.Second)))
	require.NoError(t, l.Fail(ctx, "recent", later))
	require.LessOrEqual(t, l.keys(), 1)

	// Live counters survive the sweep.
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Fail(ctx, "recent", later))
	}
	d, err := l.Check(ctx, "recent", later.Add(time.Second))
	require.NoError(t, err)
	require.True(t, d.Blocked)
}

func TestRedisLimiter_FailSetsWindowAtomically(t *testing.T) {
	l, mr := newRedisLimiter(t, Config{MaxFailures: 5, Window: 15 * time.Minute})
	ctx := context.Background()
	k := l.prefix + "k"

	require.NoError(t, l.Fail(ctx, "k", time.Now()))
	require.Equal(t, 15*time.Minute, mr.TTL(k))

	// Later failures do not extend the fixed window.
	mr.FastForward(5 * time.Minute)
	require.NoError(t, l.Fail(ctx, "k", time.Now()))
	require.Equal(t, 10*time.Minute, mr.TTL(k))

	// A counter left without expiry gets one on the next failure.
	require.NoError(t, mr.Set(l.prefix+"orphan", "3"))
	require.NoError(t, l.Fail(ctx, "orphan", time.Now()))
	require.Equal(t, 15*time.Minute, mr.TTL(l.prefix+"orphan"))
}

func TestRedisLimiter_CounterWithoutExpiryDoesNotBlockForever(t *testing.T) {
	l, mr := newRedisLimiter(t, Config{MaxFailures: 5, Window: 15 * time.Minute})
	ctx := context.Background()
	k := l.prefix + LoginEmailKey("a@x.com")

	require.NoError(t, mr.Set(k, "5"))
	mr.FastForward(48 * time.Hour)

	d, err := l.Check(ctx, LoginEmailKey("a@x.com"), time.Now())
	require.NoError(t, err)
	require.False(t, d.Blocked)
	require.False(t, mr.Exists(k))

	// Counting resumes with a bounded window.
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Fail(ctx, LoginEmailKey("a@x.com"), time.Now()))
	}
	d, err = l.Check(ctx, LoginEmailKey("a@x.com"), time.Now())
	require.NoError(t, err)
	require.True(t, d.Blocked)
	require.LessOrEqual(t, d.RetryAfter, 15*time.Minute)
}
