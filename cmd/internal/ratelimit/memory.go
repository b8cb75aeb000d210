package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter is a per-key sliding-window failure counter.
// Keys whose failures have all aged out are swept at most once per window,
// so memory tracks recent failures rather than every key ever seen.
type MemoryLimiter struct {
	mu        sync.Mutex
	cfg       Config
	events    map[string][]time.Time
	lastSweep time.Time
}

var _ Limiter = (*MemoryLimiter)(nil)

// NewMemoryLimiter constructs a MemoryLimiter with safe defaults when inputs are invalid.
func NewMemoryLimiter(cfg Config) *MemoryLimiter {
	return &MemoryLimiter{
		cfg:    cfg.normalized(),
		events: make(map[string][]time.Time),
	}
}

func (m *MemoryLimiter) Check(_ context.Context, key string, now time.Time) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.maybeSweep(now)
	ev := m.prune(key, now)
	if len(ev) < m.cfg.MaxFailures {
		return Decision{}, nil
	}
	// The window reopens when the oldest counted failure ages out.
	retry := ev[0].Add(m.cfg.Window).Sub(now)
	if retry < time.Second {
		retry = time.Second
	}
	return Decision{Blocked: true, RetryAfter: retry}, nil
}

func (m *MemoryLimiter) Fail(_ context.Context, key string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.maybeSweep(now)
	ev := m.prune(key, now)
	m.events[key] = append(ev, now)
	return nil
}

func (m *MemoryLimiter) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.events, key)
	return nil
}

// must hold m.mu
func (m *MemoryLimiter) prune(key string, now time.Time) []time.Time {
	ev := m.events[key]
	cut := now.Add(-m.cfg.Window)
	dst := ev[:0]
	for _, t := range ev {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}
	if len(dst) == 0 {
		delete(m.events, key)
		return nil
	}
	m.events[key] = dst
	return dst
}

// must hold m.mu
func (m *MemoryLimiter) maybeSweep(now time.Time) {
	if m.lastSweep.IsZero() {
		m.lastSweep = now
		return
	}
	if now.Sub(m.lastSweep) < m.cfg.Window {
		return
	}
	m.lastSweep = now

	cut := now.Add(-m.cfg.Window)
	for k, ev := range m.events {
		// Events are appended in call order; the last one is the newest.
		if len(ev) == 0 || !ev[len(ev)-1].After(cut) {
			delete(m.events, k)
		}
	}
}

func (m *MemoryLimiter) keys() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}
