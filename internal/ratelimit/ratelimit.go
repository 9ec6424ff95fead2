// Package ratelimit caps how many LLM-backed requests one session may make per
// minute. Every generation costs money, so the limit is applied before the
// provider is called.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

const Window = time.Minute

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

type RateLimiter interface {
	Allow(ctx context.Context, sessionID string, limit int) (Decision, error)
}

// InMemoryRateLimiter counts requests in fixed one-minute windows.
type InMemoryRateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

type window struct {
	count   int
	resetAt time.Time
}

func NewInMemoryRateLimiter() *InMemoryRateLimiter {
	return &InMemoryRateLimiter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

func (r *InMemoryRateLimiter) Allow(ctx context.Context, sessionID string, limit int) (Decision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.prune(now)

	w, ok := r.windows[sessionID]
	if !ok {
		w = &window{resetAt: now.Add(Window)}
		r.windows[sessionID] = w
	}

	if w.count >= limit {
		return Decision{Allowed: false, Remaining: 0, ResetAt: w.resetAt}, nil
	}

	w.count++
	return Decision{Allowed: true, Remaining: limit - w.count, ResetAt: w.resetAt}, nil
}

// prune drops expired windows so idle sessions do not accumulate.
func (r *InMemoryRateLimiter) prune(now time.Time) {
	for id, w := range r.windows {
		if now.After(w.resetAt) {
			delete(r.windows, id)
		}
	}
}
