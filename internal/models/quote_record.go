package models

import "time"

// QuoteRecord is the archive row written for every quote the engine issues.
// It is an audit trail for pricing decisions, not part of the live quote
// lifecycle: the store remains the only owner of in-flight quotes.
type QuoteRecord struct {
	ID           string    `db:"id" json:"id"` // uuid
	QuoteID      string    `db:"quote_id" json:"quote_id"`
	SessionID    string    `db:"session_id" json:"session_id"`
	Tier         string    `db:"tier" json:"tier"`
	FileCount    int       `db:"file_count" json:"file_count"`
	AcceptedFiles int      `db:"accepted_files" json:"accepted_files"`
	CreditsTotal int       `db:"credits_total" json:"credits_total"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	ExpiresAt    time.Time `db:"expires_at" json:"expires_at"`
}
