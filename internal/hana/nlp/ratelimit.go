package nlp

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

const (
	// DefaultRateLimit is the number of requests allowed per window.
	DefaultRateLimit = 3

	// DefaultRateLimitWindow is the fixed window length.
	DefaultRateLimitWindow = 20 * time.Second
)

// RateLimitRecord is the per-requester window state.
type RateLimitRecord struct {
	Count       int
	WindowStart time.Time
}

// RateLimiter enforces a hard fixed-window limit per requester: the first
// request opens a window, at most limit requests are admitted inside it, and
// the first request after the window elapses opens a new one with count 1.
//
// Records for idle requesters are evicted by the underlying go-cache after
// two windows. RateLimiter is safe for concurrent use.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	records *cache.Cache
	now     func() time.Time
	metrics *Metrics
}

// NewRateLimiter returns a limiter admitting limit requests per window.
// Non-positive arguments select the defaults.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = DefaultRateLimitWindow
	}
	return &RateLimiter{
		limit:   limit,
		window:  window,
		records: cache.New(2*window, 4*window),
		now:     time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (r *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
	return r
}

// WithMetrics attaches Prometheus collectors.
func (r *RateLimiter) WithMetrics(m *Metrics) *RateLimiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = m
	return r
}

// ShouldThrottle charges one request to requesterID and reports whether it
// must be rejected. A rejected request does not extend the window.
func (r *RateLimiter) ShouldThrottle(requesterID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	rec, ok := r.record(requesterID)
	if !ok || now.Sub(rec.WindowStart) >= r.window {
		r.records.Set(requesterID, RateLimitRecord{Count: 1, WindowStart: now}, cache.DefaultExpiration)
		return false
	}
	if rec.Count >= r.limit {
		r.metrics.throttled()
		return true
	}
	rec.Count++
	r.records.Set(requesterID, rec, cache.DefaultExpiration)
	return false
}

// Remaining returns how many more requests requesterID may make in the
// current window.
func (r *RateLimiter) Remaining(requesterID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.record(requesterID)
	if !ok || r.now().Sub(rec.WindowStart) >= r.window {
		return r.limit
	}
	return max(r.limit-rec.Count, 0)
}

func (r *RateLimiter) record(requesterID string) (RateLimitRecord, bool) {
	v, ok := r.records.Get(requesterID)
	if !ok {
		return RateLimitRecord{}, false
	}
	return v.(RateLimitRecord), true
}
