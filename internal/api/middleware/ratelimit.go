package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/pricesmith/pricesmith/internal/api/response"
	"github.com/pricesmith/pricesmith/internal/cache"
)

const defaultRequestsPerMinute = 60

// RateLimit provides sliding-window rate limiting via Redis, keyed by
// client IP.
type RateLimit struct {
	cache          cache.Cache
	requestsPerMin int
}

// NewRateLimit creates a new RateLimit middleware.
func NewRateLimit(c cache.Cache, requestsPerMin int) *RateLimit {
	if requestsPerMin <= 0 {
		requestsPerMin = defaultRequestsPerMinute
	}
	return &RateLimit{cache: c, requestsPerMin: requestsPerMin}
}

// Limit applies rate limiting based on the requesting client's IP.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}

		key := cache.RateLimitKey(ip)
		count, err := rl.cache.IncrWithExpiry(r.Context(), key, 60*time.Second)
		if err != nil {
			// On Redis error, allow the request (fail open)
			next.ServeHTTP(w, r)
			return
		}

		remaining := rl.requestsPerMin - int(count)
		if remaining < 0 {
			remaining = 0
		}
		resetTime := time.Now().Add(60 * time.Second).Unix()

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.requestsPerMin))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetTime))

		if count > int64(rl.requestsPerMin) {
			w.Header().Set("Retry-After", "60")
			response.Error(w, http.StatusTooManyRequests,
				"RATE_LIMIT_EXCEEDED", "Too many requests", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}
