package api

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimiter is a keyed token bucket with continuous refill: each key
// starts with a full burst and regains tokens at burst/window per window.
// Stale buckets are evicted lazily during Allow, so the limiter owns no
// goroutine and needs no shutdown.
type RateLimiter struct {
	rate  float64 // tokens per second
	burst float64

	mu      sync.Mutex
	buckets map[string]*tokenBucket
	sweepAt time.Time
	now     func() time.Time
}

type tokenBucket struct {
	tokens float64
	last   time.Time
}

const sweepEvery = 10 * time.Minute

// NewRateLimiter allows burst requests per key per window, refilling
// continuously rather than in window steps.
func NewRateLimiter(burst int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		rate:    float64(burst) / window.Seconds(),
		burst:   float64(burst),
		buckets: make(map[string]*tokenBucket),
		now:     time.Now,
	}
}

// Allow spends one token for the key. Returns false when the bucket is dry.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.sweepLocked(now)

	b, ok := rl.buckets[key]
	if !ok {
		b = &tokenBucket{tokens: rl.burst, last: now}
		rl.buckets[key] = b
	}
	b.tokens = min(rl.burst, b.tokens+now.Sub(b.last).Seconds()*rl.rate)
	b.last = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// RetryAfter reports how long until the key regains a whole token.
func (rl *RateLimiter) RetryAfter(key string) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok || b.tokens >= 1 {
		return 0
	}
	wait := (1 - b.tokens) / rl.rate
	return time.Duration(wait * float64(time.Second))
}

// sweepLocked drops buckets that have fully refilled; at most once per
// sweep interval so Allow stays cheap.
func (rl *RateLimiter) sweepLocked(now time.Time) {
	if now.Before(rl.sweepAt) {
		return
	}
	rl.sweepAt = now.Add(sweepEvery)

	idle := time.Duration(rl.burst / rl.rate * float64(time.Second))
	for key, b := range rl.buckets {
		if now.Sub(b.last) > idle {
			delete(rl.buckets, key)
		}
	}
}

// clientKey identifies the caller: the first X-Forwarded-For hop when the
// daemon sits behind a proxy, the peer address otherwise.
func clientKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// RateLimitMiddleware rejects over-budget callers with the standard error
// envelope and a Retry-After hint.
func RateLimitMiddleware(rl *RateLimiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)
		if !rl.Allow(key) {
			retry := int(rl.RetryAfter(key).Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			writeError(w, http.StatusTooManyRequests, "E_RATE_LIMITED", "rate limit exceeded")
			return
		}
		next(w, r)
	}
}
