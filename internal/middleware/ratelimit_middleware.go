package middleware

import (
	"fmt"
	"net/http"

	"extract_gateway/internal/ratelimit"
	"extract_gateway/internal/utils"
)

// KeyGenerator resolves the rate-limit key for a request, typically the
// caller IP.
type KeyGenerator func(r *http.Request) string

// ThrottledResponse is sent alongside a 429 status.
type ThrottledResponse struct {
	Error             string `json:"error"`
	RetryAfterSeconds int    `json:"retryAfterSeconds"`
}

// RateLimit guards a single route with its own limiter instance. Requests
// past the limit get a 429 with a Retry-After hint; everything else passes
// through untouched.
func RateLimit(limiter ratelimit.Limiter, keyGen KeyGenerator) func(http.Handler) http.Handler {
	if keyGen == nil {
		keyGen = utils.ClientIP
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision, err := limiter.Allow(r.Context(), keyGen(r))
			if err != nil {
				// A broken limiter backend must not take the route down.
				next.ServeHTTP(w, r)
				return
			}

			if !decision.Allowed {
				retrySeconds := int(decision.RetryAfter.Seconds())
				if retrySeconds < 1 {
					retrySeconds = 1
				}
				w.Header().Set("Retry-After", fmt.Sprintf("%d", retrySeconds))
				utils.RespondWithJSON(w, http.StatusTooManyRequests, ThrottledResponse{
					Error:             "rate limit exceeded",
					RetryAfterSeconds: retrySeconds,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
