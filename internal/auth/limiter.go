package auth

import (
	"time"

	"miaomiao/internal/cache"
)

// Limiter counts failed logins per phone and locks the phone out once the
// count reaches max. The window starts at the first failure.
type Limiter struct {
	attempts *cache.LRUCache[int]
	max      int
}

func NewLimiter(max int, lockout time.Duration) *Limiter {
	return &Limiter{
		attempts: cache.NewLRUCache[int](10_000, lockout),
		max:      max,
	}
}

// WithClock swaps the time source, for tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.attempts.WithClock(now)
	return l
}

func (l *Limiter) Allowed(key string) bool {
	if l == nil || l.max <= 0 {
		return true
	}
	n, _ := l.attempts.Get(key)
	return n < l.max
}

// Fail records a failed attempt and returns the running count.
func (l *Limiter) Fail(key string) int {
	if l == nil {
		return 0
	}
	return l.attempts.Update(key, func(n int, _ bool) int { return n + 1 })
}

func (l *Limiter) Reset(key string) {
	if l != nil {
		l.attempts.Delete(key)
	}
}

// Cleaner exposes the attempt cache for periodic sweeping.
func (l *Limiter) Cleaner() cache.Cleaner {
	return l.attempts
}
