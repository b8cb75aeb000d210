package ratelimit

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable wraps backend failures so callers can choose to fail open.
	ErrUnavailable = errors.New("rate limiter unavailable")
)

// Config holds the failure budget per key.
type Config struct {
	MaxFailures int
	Window      time.Duration
}

// DefaultConfig allows 5 failures per 15 minutes per key.
func DefaultConfig() Config {
	return Config{MaxFailures: 5, Window: 15 * time.Minute}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.MaxFailures <= 0 {
		c.MaxFailures = d.MaxFailures
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	return c
}

// Decision is the outcome of a budget check.
type Decision struct {
	Blocked    bool
	RetryAfter time.Duration
}

// Limiter tracks failures per key.
type Limiter interface {
	// Check reports whether key has exhausted its budget. It does not count.
	Check(ctx context.Context, key string, now time.Time) (Decision, error)
	// Fail records one failure for key.
	Fail(ctx context.Context, key string, now time.Time) error
	// Reset forgets all failures for key.
	Reset(ctx context.Context, key string) error
}

// LoginIPKey namespaces a client IP.
func LoginIPKey(ip string) string { return "login:ip:" + ip }

// LoginEmailKey namespaces a normalized email.
func LoginEmailKey(email string) string { return "login:email:" + email }
