package httpx

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is an in-memory per-client token bucket. Suitable for a single
// instance; use RedisRateLimiter when multiple instances share the limit.
type RateLimiter struct {
	limit  rate.Limit
	burst  int
	mu     sync.Mutex
	seen   map[string]*visitor
	maxAge time.Duration
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows `limit` requests per `window` with a burst of the
// same size.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		limit:  rate.Every(window / time.Duration(limit)),
		burst:  limit,
		seen:   map[string]*visitor{},
		maxAge: 3 * window,
	}
}

func (rl *RateLimiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.allow(clientKey(r)) {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	v := rl.seen[key]
	if v == nil {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.seen[key] = v
	}
	v.lastSeen = now

	// Opportunistic cleanup; the map only grows with distinct clients.
	if len(rl.seen) > 10000 {
		for k, vis := range rl.seen {
			if now.Sub(vis.lastSeen) > rl.maxAge {
				delete(rl.seen, k)
			}
		}
	}

	return v.limiter.Allow()
}

func clientKey(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		parts := strings.Split(ip, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
