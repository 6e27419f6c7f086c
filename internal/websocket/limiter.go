package websocket

import (
	"net/url"
	"slices"
	"sync"
	"time"
)

// SlidingWindowLimiter allows at most max events in any window.
type SlidingWindowLimiter struct {
	max        int
	window     time.Duration
	timestamps []time.Time
	mutex      sync.Mutex
	now        func() time.Time
}

// NewSlidingWindowLimiter creates a limiter.
func NewSlidingWindowLimiter(max int, window time.Duration) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		max:        max,
		window:     window,
		timestamps: make([]time.Time, 0, max),
		now:        time.Now,
	}
}

// Allow records an event and reports whether it is within the limit.
func (l *SlidingWindowLimiter) Allow() bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.timestamps) && !l.timestamps[i].After(cutoff) {
		i++
	}
	l.timestamps = l.timestamps[i:]

	if len(l.timestamps) >= l.max {
		return false
	}
	l.timestamps = append(l.timestamps, now)
	return true
}

// Reset forgets every recorded event.
func (l *SlidingWindowLimiter) Reset() {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.timestamps = l.timestamps[:0]
}

// OriginList allows the listed origins. "*" allows any origin.
type OriginList []string

// IsAllowedOrigin implements OriginValidator.
func (o OriginList) IsAllowedOrigin(origin string) bool {
	if slices.Contains(o, "*") {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	return slices.Contains(o, u.Scheme+"://"+u.Host)
}
