package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter holds one token bucket per client address.
type RateLimiter struct {
	limit    rate.Limit
	burst    int
	ttl      time.Duration
	limiters sync.Map // client -> *cachedLimiter

	lastSweep atomic.Int64
	now       func() time.Time
}

// RateLimiterOption configures a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithTTL sets how long a client bucket is kept after its last request.
func WithTTL(ttl time.Duration) RateLimiterOption {
	return func(rl *RateLimiter) {
		rl.ttl = ttl
	}
}

// NewRateLimiter allows limit requests per second per client with the given
// burst. A limit of 0 means unlimited.
func NewRateLimiter(limit float64, burst int, opts ...RateLimiterOption) *RateLimiter {
	rl := &RateLimiter{
		limit: rate.Limit(limit),
		burst: burst,
		ttl:   5 * time.Minute,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(rl)
	}
	if rl.burst <= 0 {
		rl.burst = 1
	}
	return rl
}

// Middleware returns the HTTP middleware enforcing the limit.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rl.limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.limiter(clientKey(r)).Allow() {
				w.Header().Set("Retry-After", strconv.Itoa(rl.retryAfter()))
				writeError(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type cachedLimiter struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanoseconds
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	now := rl.now()
	rl.sweep(now)

	v, ok := rl.limiters.Load(key)
	if !ok {
		v, _ = rl.limiters.LoadOrStore(key, &cachedLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)})
	}
	cached := v.(*cachedLimiter)
	cached.lastSeen.Store(now.UnixNano())
	return cached.limiter
}

// sweep drops buckets idle for longer than the TTL. It runs at most once per TTL.
func (rl *RateLimiter) sweep(now time.Time) {
	last := rl.lastSweep.Load()
	if now.UnixNano()-last < int64(rl.ttl) || !rl.lastSweep.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	cutoff := now.Add(-rl.ttl).UnixNano()
	rl.limiters.Range(func(key, v any) bool {
		if v.(*cachedLimiter).lastSeen.Load() < cutoff {
			rl.limiters.Delete(key)
		}
		return true
	})
}

func (rl *RateLimiter) retryAfter() int {
	secs := int(1 / float64(rl.limit))
	if secs < 1 {
		secs = 1
	}
	return secs
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
