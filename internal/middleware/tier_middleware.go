package middleware

import (
	"context"
	"net/http"
	"strings"

	"extract_gateway/internal/auth"
	"extract_gateway/internal/models"
)

// ContextKey defines the type for context keys to avoid conflicts
type ContextKey string

const (
	// AccessTierKey is the context key for the caller's resolved access tier
	AccessTierKey ContextKey = "accessTier"
)

// AccessTier guesses nothing: an API key verified against the key store
// grants the key's tier (paid), a valid tier token grants its claimed tier,
// and everything else is anonymous. Credential failures degrade to
// anonymous instead of rejecting, since anonymous callers are legitimate.
func AccessTier(keys auth.KeyStore, jwtSecret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tier := resolveTier(r, keys, jwtSecret)
			ctx := context.WithValue(r.Context(), AccessTierKey, tier)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func resolveTier(r *http.Request, keys auth.KeyStore, jwtSecret []byte) models.AccessTier {
	if apiKey := r.Header.Get("X-API-Key"); apiKey != "" && keys != nil {
		if record, err := keys.Lookup(r.Context(), apiKey); err == nil && !record.Revoked {
			return record.AccessTier()
		}
		return models.TierAnonymous
	}

	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if tier, err := auth.ParseTierToken(token, jwtSecret); err == nil {
			return tier
		}
	}

	return models.TierAnonymous
}

// TierFromContext returns the tier resolved by the AccessTier middleware,
// defaulting to anonymous when the middleware did not run.
func TierFromContext(ctx context.Context) models.AccessTier {
	if tier, ok := ctx.Value(AccessTierKey).(models.AccessTier); ok {
		return tier
	}
	return models.TierAnonymous
}
