package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MemoryLimiter holds one token-bucket limiter per key, mirroring the
// teacher's IPRateLimiter but generalized from "IP" to an arbitrary key so
// it can gate logins-per-email, resets-per-principal, and MFA attempts the
// same way.
type MemoryLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
	stopOnce sync.Once
	stop     chan struct{}
}

// NewMemoryLimiter builds a limiter allowing rps sustained events per
// second with the given burst, per key. A background goroutine clears the
// whole bucket map every 10 minutes to bound memory growth, the same
// coarse strategy the teacher accepted for its dev/staging deployment.
func NewMemoryLimiter(rps rate.Limit, burst int) *MemoryLimiter {
	l := &MemoryLimiter{
		buckets: make(map[string]*rate.Limiter),
		rps:     rps,
		burst:   burst,
		stop:    make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(l.rps, l.burst)
		l.buckets[key] = b
	}
	l.mu.Unlock()
	return b.Allow(), nil
}

func (l *MemoryLimiter) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			l.buckets = make(map[string]*rate.Limiter)
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}

// Close stops the background cleanup goroutine.
func (l *MemoryLimiter) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
}
