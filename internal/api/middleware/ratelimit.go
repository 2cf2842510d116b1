package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/mw10013/orgagent/internal/api/response"
	"github.com/mw10013/orgagent/internal/cache"
)

const rateLimitWindow = time.Minute

// RateLimit enforces a fixed-window per-key request budget backed by Redis.
// The bucket is the API key prefix, so rotating a key resets its budget.
type RateLimit struct {
	cache  cache.Cache
	budget int
}

func NewRateLimit(c cache.Cache, requestsPerMin int) *RateLimit {
	if requestsPerMin <= 0 {
		requestsPerMin = 60
	}
	return &RateLimit{cache: c, budget: requestsPerMin}
}

// Limit counts the request against the key's window and rejects once the
// budget is spent. Redis being unreachable fails open: dropping traffic
// because the limiter is down is worse than briefly not limiting.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prefix, ok := getKeyPrefix(r)
		if !ok {
			// Authenticate did not run on this route.
			next.ServeHTTP(w, r)
			return
		}

		count, err := rl.cache.IncrWithExpiry(r.Context(), cache.RateLimitKey(prefix), rateLimitWindow)
		if err != nil {
			slog.Warn("rate limit counter unavailable", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.budget))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(rl.budget-int(count), 0)))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(rateLimitWindow).Unix(), 10))

		if count > int64(rl.budget) {
			w.Header().Set("Retry-After", strconv.Itoa(int(rateLimitWindow.Seconds())))
			response.Error(w, http.StatusTooManyRequests,
				"RATE_LIMIT_EXCEEDED", "Too many requests", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}
