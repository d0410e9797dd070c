package messaging

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// PhoneLimiter applies a token bucket per phone. A nil PhoneLimiter allows everything.
type PhoneLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewPhoneLimiter allows perMinute messages per phone with an equal burst.
// It returns nil when perMinute is not positive.
func NewPhoneLimiter(perMinute int) *PhoneLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &PhoneLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
	}
}

// Allow reports whether phone may send another message now.
func (l *PhoneLimiter) Allow(phone string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	lim, ok := l.limiters[phone]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[phone] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
