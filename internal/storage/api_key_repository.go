package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"extract_gateway/internal/auth"
	"extract_gateway/internal/models"
)

// APIKeyRepository handles API key database operations. It satisfies
// auth.KeyStore, so the tier middleware can run against the database
// directly.
type APIKeyRepository struct {
	db *DB
}

// NewAPIKeyRepository creates a new API key repository
func NewAPIKeyRepository(db *DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

// Create stores a new API key record. The caller supplies the bcrypt
// hash; the raw key is never persisted.
func (r *APIKeyRepository) Create(ctx context.Context, key *models.APIKey) error {
	if key.ID == "" {
		key.ID = uuid.New().String()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO api_keys (id, name, key_prefix, key_hash, tier, revoked, created_at)
		VALUES (:id, :name, :key_prefix, :key_hash, :tier, :revoked, :created_at)
	`
	if _, err := r.db.conn.NamedExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("failed to create API key: %w", err)
	}
	return nil
}

// GetByPrefix retrieves an active key record by its cleartext prefix,
// consulting the cache first.
func (r *APIKeyRepository) GetByPrefix(ctx context.Context, prefix string) (*models.APIKey, error) {
	if cached, found := r.db.apiKeyCache.Get(prefix); found {
		if key, ok := cached.(*models.APIKey); ok {
			return key, nil
		}
	}

	var key models.APIKey
	query := `
		SELECT id, name, key_prefix, key_hash, tier, revoked, created_at, last_used
		FROM api_keys
		WHERE key_prefix = $1 AND revoked = false
	`
	err := r.db.conn.GetContext(ctx, &key, query, prefix)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrAPIKeyNotFound
		}
		return nil, fmt.Errorf("failed to get API key: %w", err)
	}

	r.db.apiKeyCache.Set(prefix, &key)
	return &key, nil
}

// Lookup resolves a presented raw key: prefix lookup, then bcrypt
// verification against the stored hash.
func (r *APIKeyRepository) Lookup(ctx context.Context, rawKey string) (*models.APIKey, error) {
	key, err := r.GetByPrefix(ctx, auth.KeyPrefix(rawKey))
	if err != nil {
		if err == ErrAPIKeyNotFound {
			return nil, auth.ErrKeyNotFound
		}
		return nil, err
	}

	if !auth.VerifyKey(key.KeyHash, rawKey) {
		return nil, auth.ErrKeyNotFound
	}

	// Best effort; a failed touch must not block authentication.
	_ = r.TouchLastUsed(ctx, key.ID)
	return key, nil
}

// TouchLastUsed records key activity.
func (r *APIKeyRepository) TouchLastUsed(ctx context.Context, id string) error {
	query := `UPDATE api_keys SET last_used = NOW() WHERE id = $1`
	if _, err := r.db.conn.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to update last_used: %w", err)
	}
	return nil
}

// Revoke disables a key and drops it from the cache.
func (r *APIKeyRepository) Revoke(ctx context.Context, id string) error {
	var prefix string
	query := `UPDATE api_keys SET revoked = true WHERE id = $1 RETURNING key_prefix`
	err := r.db.conn.GetContext(ctx, &prefix, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrAPIKeyNotFound
		}
		return fmt.Errorf("failed to revoke API key: %w", err)
	}

	r.db.apiKeyCache.Delete(prefix)
	return nil
}

// List returns all keys, newest first.
func (r *APIKeyRepository) List(ctx context.Context) ([]*models.APIKey, error) {
	query := `
		SELECT id, name, key_prefix, key_hash, tier, revoked, created_at, last_used
		FROM api_keys
		ORDER BY created_at DESC
	`
	var keys []*models.APIKey
	if err := r.db.conn.SelectContext(ctx, &keys, query); err != nil {
		return nil, fmt.Errorf("failed to list API keys: %w", err)
	}
	return keys, nil
}
