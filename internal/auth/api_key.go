package auth

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"extract_gateway/internal/models"
)

// ErrKeyNotFound is returned when no stored key matches the presented one.
var ErrKeyNotFound = errors.New("API key not found")

// KeyPrefixLen is how many cleartext characters of a key are kept for
// lookup. Bcrypt hashes cannot be queried directly, so keys are addressed
// by prefix and then verified against the hash.
const KeyPrefixLen = 8

// KeyStore resolves a presented raw API key to its record.
type KeyStore interface {
	Lookup(ctx context.Context, rawKey string) (*models.APIKey, error)
}

// HashKey returns the bcrypt hash of a raw API key.
func HashKey(rawKey string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyKey reports whether rawKey matches the stored bcrypt hash.
func VerifyKey(hash, rawKey string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(rawKey)) == nil
}

// KeyPrefix returns the cleartext lookup prefix for a raw key.
func KeyPrefix(rawKey string) string {
	if len(rawKey) < KeyPrefixLen {
		return rawKey
	}
	return rawKey[:KeyPrefixLen]
}

// StaticKeyStore holds bcrypt key hashes loaded from the environment. It is
// the fallback when no database is configured; every key grants the paid
// tier.
type StaticKeyStore struct {
	mu     sync.RWMutex
	hashes []string
}

// NewStaticKeyStore creates a key store from a list of bcrypt hashes.
func NewStaticKeyStore(hashes []string) *StaticKeyStore {
	return &StaticKeyStore{hashes: hashes}
}

// Lookup verifies the raw key against every stored hash. The static store
// is expected to hold a handful of keys, so the linear scan is fine.
func (s *StaticKeyStore) Lookup(ctx context.Context, rawKey string) (*models.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, hash := range s.hashes {
		if VerifyKey(hash, rawKey) {
			return &models.APIKey{
				KeyPrefix: KeyPrefix(rawKey),
				KeyHash:   hash,
				Tier:      models.TierPaid.String(),
			}, nil
		}
	}
	return nil, ErrKeyNotFound
}
