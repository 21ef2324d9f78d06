package gateway

import (
	"sync"
	"time"
)

// RateLimiter admits one outstanding request at a time, spaced at least
// minInterval apart. A rejected Acquire leaves the state untouched.
type RateLimiter struct {
	mu          sync.Mutex
	minInterval time.Duration
	last        time.Time
	outstanding bool
}

func NewRateLimiter(minInterval time.Duration) *RateLimiter {
	return &RateLimiter{minInterval: minInterval}
}

// Acquire records now as the last request time and marks a request
// outstanding. It returns false if a request is in flight or the previous
// one started less than minInterval ago.
func (l *RateLimiter) Acquire(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.outstanding {
		return false
	}
	if !l.last.IsZero() && now.Sub(l.last) < l.minInterval {
		return false
	}
	l.last = now
	l.outstanding = true
	return true
}

// Release clears the outstanding flag.
func (l *RateLimiter) Release() {
	l.mu.Lock()
	l.outstanding = false
	l.mu.Unlock()
}

func (l *RateLimiter) LastRequest() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

func (l *RateLimiter) Outstanding() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.outstanding
}
