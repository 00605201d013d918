package quote

import (
	"context"
	"errors"
	"time"

	"extract_gateway/internal/models"
)

// ErrQuoteNotFound is returned for unknown, expired, or already-consumed
// quote ids. Callers must treat it as "re-quote", not as a retryable fault.
var ErrQuoteNotFound = errors.New("quote not found")

// ErrStoreClosed is returned after the store has been shut down.
var ErrStoreClosed = errors.New("quote store closed")

// Store owns in-flight quotes from creation until expiry or consumption.
//
// Two backends exist:
//
//  1. Memory store (mutex-guarded map): no persistence, zero external
//     dependencies, suitable for standalone deployments.
//  2. Redis store: quotes survive restarts and can be shared across
//     gateway replicas.
//
// Both check expiry at read time: an expired-but-unswept quote is already
// logically gone.
type Store interface {
	// Put persists a freshly created quote keyed by its id.
	Put(ctx context.Context, q *models.Quote) error

	// Get returns a live quote, or ErrQuoteNotFound for unknown or
	// expired ids.
	Get(ctx context.Context, quoteID string) (*models.Quote, error)

	// Delete removes a quote. Deleting an absent quote is a no-op.
	Delete(ctx context.Context, quoteID string) error

	// DeleteExpired removes every quote whose expiry is at or before now
	// and returns the IDs of the quotes deleted.
	DeleteExpired(ctx context.Context, now time.Time) ([]string, error)

	// Len reports the number of stored quotes, expired or not.
	Len(ctx context.Context) (int, error)

	// Close shuts down the store.
	Close() error
}
