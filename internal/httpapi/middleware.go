package httpapi

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/httprate"
)

// APIKeyAuth validates requests against a backend API key, checking
// X-API-Key first and falling back to Authorization: Bearer <key>,
// grounded on a chi API-key middleware pattern.
func APIKeyAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				authHeader := r.Header.Get("Authorization")
				if strings.HasPrefix(authHeader, "Bearer ") {
					key = strings.TrimPrefix(authHeader, "Bearer ")
				}
			}
			if key == "" {
				respondError(w, http.StatusUnauthorized, "missing API key: provide X-API-Key header or Authorization: Bearer <key>")
				return
			}
			if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) != 1 {
				respondError(w, http.StatusForbidden, "invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit wraps httprate's sliding-window limiter with a JSON 429 body
// and a Retry-After header, grounded on ManuGH-xg2g's
// internal/api/middleware/ratelimit.go.
func RateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 120
	}
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(fmt.Sprintf(`{"error":"rate_limit_exceeded","detail":"at most %d requests per minute"}`, requestsPerMinute)))
		}),
	)
}
