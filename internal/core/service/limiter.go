package service

import (
	"sync"

	"golang.org/x/time/rate"
)

// LimiterRegistry hands out one token bucket per key (an email, an address).
type LimiterRegistry struct {
	limit rate.Limit
	burst int

	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

// NewLimiterRegistry creates a registry whose limiters allow r events per
// second with the given burst.
func NewLimiterRegistry(r rate.Limit, burst int) *LimiterRegistry {
	return &LimiterRegistry{
		limit:    r,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Get returns the limiter for key, creating it on first use.
func (r *LimiterRegistry) Get(key string) *rate.Limiter {
	r.mu.RLock()
	limiter, exists := r.limiters[key]
	r.mu.RUnlock()
	if exists {
		return limiter
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if limiter, exists := r.limiters[key]; exists {
		return limiter
	}
	limiter = rate.NewLimiter(r.limit, r.burst)
	r.limiters[key] = limiter
	return limiter
}

// Allow consumes one token for key.
func (r *LimiterRegistry) Allow(key string) bool {
	return r.Get(key).Allow()
}

// Delete forgets key.
func (r *LimiterRegistry) Delete(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.limiters, key)
}

// Len returns the number of tracked keys.
func (r *LimiterRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.limiters)
}
