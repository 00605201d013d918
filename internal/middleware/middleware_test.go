package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"extract_gateway/internal/auth"
	"extract_gateway/internal/models"
	"extract_gateway/internal/ratelimit"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	t.Run("enforces per-key limit", func(t *testing.T) {
		limiter := ratelimit.NewMemoryLimiter(ratelimit.Config{Window: time.Minute, Max: 30})
		handler := RateLimit(limiter, nil)(okHandler())

		accepted := 0
		throttled := 0
		for i := 0; i < 35; i++ {
			req := httptest.NewRequest(http.MethodPost, "/quote", nil)
			req.RemoteAddr = "10.0.0.1:5555"
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			switch rec.Code {
			case http.StatusOK:
				accepted++
			case http.StatusTooManyRequests:
				throttled++
				assert.NotEmpty(t, rec.Header().Get("Retry-After"))
				assert.Contains(t, rec.Body.String(), "retryAfterSeconds")
			}
		}

		assert.Equal(t, 30, accepted)
		assert.Equal(t, 5, throttled)
	})

	t.Run("keys by client address", func(t *testing.T) {
		limiter := ratelimit.NewMemoryLimiter(ratelimit.Config{Window: time.Minute, Max: 1})
		handler := RateLimit(limiter, nil)(okHandler())

		first := httptest.NewRequest(http.MethodPost, "/quote", nil)
		first.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, first)
		assert.Equal(t, http.StatusOK, rec.Code)

		second := httptest.NewRequest(http.MethodPost, "/quote", nil)
		second.RemoteAddr = "10.0.0.2:5555"
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, second)
		assert.Equal(t, http.StatusOK, rec.Code)

		third := httptest.NewRequest(http.MethodPost, "/quote", nil)
		third.RemoteAddr = "10.0.0.1:6666"
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, third)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	})

	t.Run("custom key generator", func(t *testing.T) {
		limiter := ratelimit.NewMemoryLimiter(ratelimit.Config{Window: time.Minute, Max: 1})
		bySession := func(r *http.Request) string { return r.Header.Get("X-Session") }
		handler := RateLimit(limiter, bySession)(okHandler())

		for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
			req := httptest.NewRequest(http.MethodPost, "/quote", nil)
			req.RemoteAddr = "10.0.0.1:5555"
			req.Header.Set("X-Session", "s-1")
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, want, rec.Code, "request %d", i)
		}
	})
}

func TestAccessTierMiddleware(t *testing.T) {
	secret := []byte("test-secret")

	hash, err := auth.HashKey("sk-live-test")
	require.NoError(t, err)
	keys := auth.NewStaticKeyStore([]string{hash})

	var seenTier models.AccessTier
	capture := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenTier = TierFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := AccessTier(keys, secret)(capture)

	t.Run("no credentials is anonymous", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/quote", nil)
		handler.ServeHTTP(httptest.NewRecorder(), req)
		assert.Equal(t, models.TierAnonymous, seenTier)
	})

	t.Run("valid api key is paid", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/quote", nil)
		req.Header.Set("X-API-Key", "sk-live-test")
		handler.ServeHTTP(httptest.NewRecorder(), req)
		assert.Equal(t, models.TierPaid, seenTier)
	})

	t.Run("invalid api key degrades to anonymous", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/quote", nil)
		req.Header.Set("X-API-Key", "sk-live-wrong")
		handler.ServeHTTP(httptest.NewRecorder(), req)
		assert.Equal(t, models.TierAnonymous, seenTier)
	})

	t.Run("tier token grants claimed tier", func(t *testing.T) {
		token, _, err := auth.GenerateTierToken("u-1", models.TierEmailVerified, secret, time.Minute)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/quote", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		handler.ServeHTTP(httptest.NewRecorder(), req)
		assert.Equal(t, models.TierEmailVerified, seenTier)
	})

	t.Run("forged token is anonymous", func(t *testing.T) {
		token, _, err := auth.GenerateTierToken("u-1", models.TierPaid, []byte("other-secret"), time.Minute)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/quote", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		handler.ServeHTTP(httptest.NewRecorder(), req)
		assert.Equal(t, models.TierAnonymous, seenTier)
	})

	t.Run("missing context defaults to anonymous", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/quote", nil)
		assert.Equal(t, models.TierAnonymous, TierFromContext(req.Context()))
	})
}
