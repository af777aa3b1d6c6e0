package http

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// maxTrackedKeys caps the number of tracked clients so rotating source
	// addresses cannot exhaust memory.
	maxTrackedKeys = 4096

	// idleEvictAfter is how long an unused bucket is kept around.
	idleEvictAfter = 10 * time.Minute
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter hands out one token bucket per client key.
// Safe for concurrent use.
type RateLimiter struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewRateLimiter allows rps requests per second per client, with bursts
// up to burst. Non-positive values fall back to 5 rps and a burst of 10.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &RateLimiter{rps: rate.Limit(rps), burst: burst, buckets: make(map[string]*bucket)}
}

// Allow reports whether key may make a request now.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if len(r.buckets) >= maxTrackedKeys {
		for k, b := range r.buckets {
			if now.Sub(b.lastSeen) >= idleEvictAfter {
				delete(r.buckets, k)
			}
		}
		for len(r.buckets) >= maxTrackedKeys {
			for k := range r.buckets {
				delete(r.buckets, k)
				break
			}
		}
	}

	b, ok := r.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(r.rps, r.burst)}
		r.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// Middleware rejects clients over their budget with 429.
func (r *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		key := clientKey(req)
		if !r.Allow(key) {
			slog.Warn("security.rate_limited", "client", key, "path", req.URL.Path)
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, req)
	})
}

// clientKey identifies the caller by remote IP.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
