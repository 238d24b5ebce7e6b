package middleware

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per route path
type RateLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

// NewRateLimiter allows requestsPerSecond per path with the given burst.
// A non-positive rate disables limiting.
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limit:    rate.Limit(requestsPerSecond),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (rl *RateLimiter) limiterFor(path string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, ok := rl.limiters[path]
	if !ok {
		limiter = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[path] = limiter
	}
	return limiter
}

// Middleware answers 429 once the bucket of the request path is empty
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	if rl == nil || rl.limit <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.limiterFor(r.URL.Path).Allow() {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
