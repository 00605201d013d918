package quote

import (
	"context"
	"sync"
	"time"

	"extract_gateway/internal/models"
)

// MemoryStore keeps in-flight quotes in a mutex-guarded map. All mutations
// complete without yielding, so concurrent callers never observe a
// partially updated store.
type MemoryStore struct {
	mu     sync.RWMutex
	quotes map[string]*models.Quote
	closed bool
}

// NewMemoryStore creates an in-memory quote store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		quotes: make(map[string]*models.Quote),
	}
}

// Put persists a quote keyed by its id.
func (s *MemoryStore) Put(ctx context.Context, q *models.Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	s.quotes[q.QuoteID] = q
	return nil
}

// Get returns a live quote. Expiry is checked here, not only at sweep time:
// an expired quote is not found even if the sweep has not run yet.
func (s *MemoryStore) Get(ctx context.Context, quoteID string) (*models.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	q, ok := s.quotes[quoteID]
	if !ok || q.Expired(time.Now()) {
		return nil, ErrQuoteNotFound
	}
	return q, nil
}

// Delete removes a quote; absent ids are a no-op.
func (s *MemoryStore) Delete(ctx context.Context, quoteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	delete(s.quotes, quoteID)
	return nil
}

// DeleteExpired removes every quote expired as of the passed timestamp.
// Sweeping against the caller's snapshot of "now" means a quote created
// after the sweep started can never be swept by it.
func (s *MemoryStore) DeleteExpired(ctx context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var removed []string
	for id, q := range s.quotes {
		if q.Expired(now) {
			delete(s.quotes, id)
			removed = append(removed, id)
		}
	}
	return removed, nil
}

// Len reports the number of stored quotes.
func (s *MemoryStore) Len(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}
	return len(s.quotes), nil
}

// Close abandons all stored quotes.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.quotes = make(map[string]*models.Quote)
	return nil
}
