// Package ratelimit provides fixed-window limiters for the RPC surface:
// an in-process one for single replicas and a redis one shared between
// replicas.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"mlsvalidation/internal/domain"
)

var ErrCapacityExceeded = errors.New("rate limiter capacity exceeded")

// MemoryLimiter counts requests per client in windows aligned to multiples
// of the window length, so every client shares the same boundaries and a
// restart lands in the window the clock is already in.
type MemoryLimiter struct {
	mu      sync.Mutex
	now     func() time.Time
	counts  map[string]windowCount
	maxKeys int
}

type windowCount struct {
	start time.Time
	n     int
}

type MemoryLimiterConfig struct {
	Now func() time.Time
	// MaxKeys bounds the number of clients tracked in the current window.
	MaxKeys int
}

func NewMemoryLimiter(cfg MemoryLimiterConfig) *MemoryLimiter {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = 10000
	}
	return &MemoryLimiter{
		now:     cfg.Now,
		counts:  make(map[string]windowCount),
		maxKeys: cfg.MaxKeys,
	}
}

func (m *MemoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (domain.RateLimitDecision, error) {
	if limit <= 0 {
		return domain.RateLimitDecision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}
	if window <= 0 {
		window = time.Second
	}
	start := m.now().Truncate(window)
	decision := domain.RateLimitDecision{Limit: limit, ResetAt: start.Add(window)}

	m.mu.Lock()
	defer m.mu.Unlock()

	wc, ok := m.counts[key]
	if !ok || !wc.start.Equal(start) {
		if !ok && len(m.counts) >= m.maxKeys {
			m.sweep(start)
			if len(m.counts) >= m.maxKeys {
				return domain.RateLimitDecision{}, ErrCapacityExceeded
			}
		}
		wc = windowCount{start: start}
	}
	if wc.n >= limit {
		m.counts[key] = wc
		return decision, nil
	}
	wc.n++
	m.counts[key] = wc
	decision.Allowed = true
	decision.Remaining = limit - wc.n
	return decision, nil
}

// Len reports how many clients are tracked.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.counts)
}

func (m *MemoryLimiter) sweep(current time.Time) {
	for key, wc := range m.counts {
		if !wc.start.Equal(current) {
			delete(m.counts, key)
		}
	}
}
