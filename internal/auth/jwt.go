package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"extract_gateway/internal/models"
)

// GenerateTierToken creates a short-lived token carrying the caller's
// verified access tier. Issued after challenge/email/oauth verification
// flows (outside this core) complete.
func GenerateTierToken(subject string, tier models.AccessTier, secret []byte, ttl time.Duration) (string, int64, error) {
	expirationTime := time.Now().Add(ttl).Unix()
	claims := jwt.MapClaims{
		"sub":  subject,
		"tier": tier.String(),
		"exp":  expirationTime,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedToken, err := token.SignedString(secret)
	if err != nil {
		return "", 0, err
	}
	return signedToken, expirationTime, nil
}

// ParseTierToken verifies a tier token and extracts the access tier.
// Any verification failure resolves to an error, never to a tier.
func ParseTierToken(tokenString string, secret []byte) (models.AccessTier, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil {
		return models.TierAnonymous, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return models.TierAnonymous, errors.New("invalid token")
	}

	tierName, ok := claims["tier"].(string)
	if !ok {
		return models.TierAnonymous, errors.New("token missing tier claim")
	}
	return models.ParseAccessTier(tierName), nil
}
