package server

import (
	"net/http"
	"sync"
	"time"
)

// RateLimiter is a token bucket per client IP.
type RateLimiter struct {
	perSecond int
	burst     int
	buckets   map[string]*tokenBucket
	mutex     sync.Mutex
	now       func() time.Time
}

type tokenBucket struct {
	tokens     int
	lastRefill time.Time
}

// NewRateLimiter allows perSecond requests per client with bursts of up to
// burst requests.
func NewRateLimiter(perSecond, burst int) *RateLimiter {
	perSecond = max(perSecond, 1)
	burst = max(burst, 1)
	return &RateLimiter{
		perSecond: perSecond,
		burst:     burst,
		buckets:   make(map[string]*tokenBucket),
		now:       time.Now,
	}
}

// Middleware answers 429 once a client ran out of tokens.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(getClientIP(r)) {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Allow consumes one token of ip's bucket.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	bucket, ok := rl.buckets[ip]
	if !ok {
		rl.sweep(now)
		bucket = &tokenBucket{tokens: rl.burst, lastRefill: now}
		rl.buckets[ip] = bucket
	}

	refill := time.Second / time.Duration(rl.perSecond)
	if added := int(now.Sub(bucket.lastRefill) / refill); added > 0 {
		bucket.tokens = min(rl.burst, bucket.tokens+added)
		bucket.lastRefill = bucket.lastRefill.Add(time.Duration(added) * refill)
	}
	if bucket.tokens == 0 {
		return false
	}
	bucket.tokens--
	return true
}

// sweep forgets buckets idle for a minute.
func (rl *RateLimiter) sweep(now time.Time) {
	cutoff := now.Add(-time.Minute)
	for ip, bucket := range rl.buckets {
		if bucket.lastRefill.Before(cutoff) {
			delete(rl.buckets, ip)
		}
	}
}
