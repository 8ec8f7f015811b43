package meta

import (
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/gravitational/ttlmap"
)

// RateLimiter enforces a sliding-window cap on metadata operations per
// session key, per spec §4.G/§5 ("rate limiting applied per session key
// over a sliding window ... CRDT update and awareness traffic is
// unmetered"). Grounded on the teacher's use of ttlmap as a self-expiring
// cache keyed by an opaque string id.
type RateLimiter struct {
	mu     sync.Mutex
	counts *ttlmap.TTLMap
	limit  int
	window time.Duration
}

// NewRateLimiter allows up to limit operations per sessionKey within window.
func NewRateLimiter(limit int, window time.Duration) (*RateLimiter, error) {
	m, err := ttlmap.New(4096)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &RateLimiter{counts: m, limit: limit, window: window}, nil
}

// Allow reports whether sessionKey may perform one more operation within
// the current window, incrementing its counter as a side effect.
func (r *RateLimiter) Allow(sessionKey string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	raw, ok := r.counts.Get(sessionKey)
	count := 0
	if ok {
		count = raw.(int)
	}
	if count >= r.limit {
		return false
	}
	r.counts.Set(sessionKey, count+1, r.window)
	return true
}
