package models

import "time"

// APIKey grants the paid access tier. The raw key is never stored; only a
// bcrypt hash, addressed by a short cleartext prefix.
type APIKey struct {
	ID        string     `db:"id" json:"id"` // uuid
	Name      string     `db:"name" json:"name"`
	KeyPrefix string     `db:"key_prefix" json:"key_prefix"`
	KeyHash   string     `db:"key_hash" json:"-"`
	Tier      string     `db:"tier" json:"tier"`
	Revoked   bool       `db:"revoked" json:"revoked"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	LastUsed  *time.Time `db:"last_used" json:"last_used,omitempty"`
}

// AccessTier resolves the key's tier, defaulting to paid for legacy rows
// with no tier column value.
func (k *APIKey) AccessTier() AccessTier {
	if k.Tier == "" {
		return TierPaid
	}
	return ParseAccessTier(k.Tier)
}
