package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"procplane/internal/store"
)

// RateLimit throttles submissions per organization using the org's
// configured rate. Must run after OrgAuth.
func RateLimit() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		limiters := sync.Map{} // org ID -> *cachedLimiter

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			org, ok := OrgFromContext(r.Context())
			if !ok {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			// RateLimit=0 means unlimited.
			if org.RateLimit > 0 {
				limiter := getOrCreateLimiter(&limiters, org, 5*time.Minute)
				if !limiter.Allow() {
					w.Header().Set("Retry-After", "1")
					http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

type cachedLimiter struct {
	limiter   *rate.Limiter
	expiresAt time.Time
}

func getOrCreateLimiter(limiters *sync.Map, org *store.Organization, ttl time.Duration) *rate.Limiter {
	if cached, ok := limiters.Load(org.ID); ok {
		c := cached.(*cachedLimiter)
		if time.Now().Before(c.expiresAt) {
			return c.limiter
		}
	}

	limiter := rate.NewLimiter(
		rate.Limit(org.RateLimit),
		org.RateLimitBurst,
	)
	limiters.Store(org.ID, &cachedLimiter{
		limiter:   limiter,
		expiresAt: time.Now().Add(ttl),
	})
	return limiter
}
