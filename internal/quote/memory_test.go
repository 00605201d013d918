package quote

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"extract_gateway/internal/models"
)

func storedQuote(id string, expiresAt time.Time) *models.Quote {
	schedule := models.DefaultCreditSchedule()
	return &models.Quote{
		SchemaVersion:  models.QuoteSchemaVersion,
		QuoteID:        id,
		CreditsTotal:   3,
		PerFile:        map[string]models.PerFileQuote{},
		Schedule:       schedule,
		CreditSchedule: schedule,
		ExpiresAt:      expiresAt,
		Warnings:       []string{},
		SessionID:      "sess-1",
	}
}

func TestMemoryStorePutGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	q := storedQuote("q-1", time.Now().Add(15*time.Minute))
	require.NoError(t, store.Put(ctx, q))

	got, err := store.Get(ctx, "q-1")
	require.NoError(t, err)
	assert.Equal(t, "q-1", got.QuoteID)
	assert.Equal(t, "sess-1", got.SessionID)

	_, err = store.Get(ctx, "q-unknown")
	assert.ErrorIs(t, err, ErrQuoteNotFound)
}

func TestMemoryStoreReadTimeExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	// Expired but not yet swept: must already be logically gone.
	require.NoError(t, store.Put(ctx, storedQuote("q-old", time.Now().Add(-time.Second))))

	_, err := store.Get(ctx, "q-old")
	assert.ErrorIs(t, err, ErrQuoteNotFound)

	// Still physically present until the sweep runs.
	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemoryStoreDeleteExpired(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Put(ctx, storedQuote(fmt.Sprintf("q-expired-%d", i), now.Add(-time.Minute))))
	}
	require.NoError(t, store.Put(ctx, storedQuote("q-live", now.Add(15*time.Minute))))

	removed, err := store.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"q-expired-0", "q-expired-1", "q-expired-2"}, removed)

	// Live quotes survive the sweep.
	_, err = store.Get(ctx, "q-live")
	assert.NoError(t, err)

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemoryStoreDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Put(ctx, storedQuote("q-1", time.Now().Add(time.Minute))))
	require.NoError(t, store.Delete(ctx, "q-1"))

	_, err := store.Get(ctx, "q-1")
	assert.ErrorIs(t, err, ErrQuoteNotFound)

	// Deleting an absent quote is a no-op.
	assert.NoError(t, store.Delete(ctx, "q-1"))
}

func TestMemoryStoreClose(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Put(ctx, storedQuote("q-1", time.Now().Add(time.Minute))))
	require.NoError(t, store.Close())

	assert.ErrorIs(t, store.Put(ctx, storedQuote("q-2", time.Now().Add(time.Minute))), ErrStoreClosed)
	_, err := store.Get(ctx, "q-1")
	assert.ErrorIs(t, err, ErrStoreClosed)
}
