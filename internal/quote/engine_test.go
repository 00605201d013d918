package quote

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"extract_gateway/internal/logging"
	"extract_gateway/internal/models"
)

type recordingArchiver struct {
	mu      sync.Mutex
	records []*models.QuoteRecord
}

func (a *recordingArchiver) Record(ctx context.Context, rec *models.QuoteRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
	return nil
}

// recordingSink captures quote events in memory.
type recordingSink struct {
	mu     sync.Mutex
	events []logging.QuoteEvent
}

func (s *recordingSink) Enqueue(rec *logging.QuoteEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *rec)
	return nil
}

func (s *recordingSink) Shutdown(ctx context.Context) error { return nil }

func (s *recordingSink) Events() []logging.QuoteEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]logging.QuoteEvent, len(s.events))
	copy(out, s.events)
	return out
}

func newTestEngine(archiver Archiver) *Engine {
	return NewEngine(NewMemoryStore(), models.DefaultCreditSchedule(), Config{
		TTL:           15 * time.Minute,
		SweepInterval: time.Minute,
		MaxBytes:      200 * models.MB,
		MaxFiles:      100,
	}, archiver, nil)
}

func TestCreateQuote(t *testing.T) {
	ctx := context.Background()

	t.Run("prices a mixed batch", func(t *testing.T) {
		engine := newTestEngine(nil)

		files := []FileDescriptor{
			{ID: "f1", Name: "a.jpg", Mime: "image/jpeg", SizeBytes: 2 * models.MB},
			{ID: "f2", Name: "b.cr2", Mime: "image/x-canon-cr2", SizeBytes: 30 * models.MB},
			{ID: "f3", Name: "c.mp3", Mime: "audio/mpeg", SizeBytes: 4 * models.MB},
		}

		q, err := engine.CreateQuote(ctx, "sess-1", files, Ops{}, models.TierPaid)
		require.NoError(t, err)

		assert.Equal(t, models.QuoteSchemaVersion, q.SchemaVersion)
		assert.NotEmpty(t, q.QuoteID)
		assert.Len(t, q.PerFile, 3)
		assert.Len(t, q.Body.PerFile, 3)
		assert.Empty(t, q.Warnings)
		assert.True(t, q.ExpiresAt.After(time.Now()), "expiry must be strictly in the future")
		assert.WithinDuration(t, time.Now().Add(15*time.Minute), q.ExpiresAt, 5*time.Second)

		// jpeg 1 + raw 2x3 + mp3 2, plus the jpeg/raw mp bucket credits.
		jpeg := q.PerFile["f1"]
		assert.True(t, jpeg.Accepted)
		assert.Equal(t, 1, jpeg.Breakdown.Base)
		require.NotNil(t, jpeg.MP)
		require.NotNil(t, jpeg.MPBucket)

		raw := q.PerFile["f2"]
		assert.True(t, raw.Accepted)
		assert.Equal(t, 6, raw.Breakdown.Base)

		mp3 := q.PerFile["f3"]
		assert.True(t, mp3.Accepted)
		assert.Equal(t, 2, mp3.Breakdown.Base)
		assert.Nil(t, mp3.MP, "non-images carry no megapixel estimate")

		assert.Equal(t, q.Body.TotalCredits, q.CreditsTotal)
		require.NotNil(t, q.Body.StandardEquivalents)
	})

	t.Run("ops add schedule credits", func(t *testing.T) {
		engine := newTestEngine(nil)
		schedule := models.DefaultCreditSchedule()

		files := []FileDescriptor{{ID: "f1", Mime: "audio/mpeg", SizeBytes: models.MB}}
		q, err := engine.CreateQuote(ctx, "sess-1", files, Ops{Embedding: true, OCR: true, Forensics: true}, models.TierPaid)
		require.NoError(t, err)

		pf := q.PerFile["f1"]
		assert.Equal(t, schedule.Embedding, pf.Breakdown.Embedding)
		assert.Equal(t, schedule.OCR, pf.Breakdown.OCR)
		assert.Equal(t, schedule.Forensics, pf.Breakdown.Forensics)
		assert.Equal(t, 2+schedule.Embedding+schedule.OCR+schedule.Forensics, pf.CreditsTotal)
	})

	t.Run("empty batch yields degenerate quote, not an error", func(t *testing.T) {
		engine := newTestEngine(nil)

		q, err := engine.CreateQuote(ctx, "sess-1", nil, Ops{}, models.TierPaid)
		require.NoError(t, err)
		assert.Equal(t, 0, q.CreditsTotal)
		assert.NotEmpty(t, q.Warnings)
		assert.NotEmpty(t, q.QuoteID)
	})

	t.Run("anonymous callers get blocked files as data", func(t *testing.T) {
		engine := newTestEngine(nil)

		files := []FileDescriptor{
			{ID: "f1", Mime: "image/jpeg", SizeBytes: models.MB},
			{ID: "f2", Mime: "image/x-canon-cr2", SizeBytes: models.MB},
		}
		q, err := engine.CreateQuote(ctx, "sess-1", files, Ops{}, models.TierAnonymous)
		require.NoError(t, err)

		assert.True(t, q.PerFile["f1"].Accepted)
		blocked := q.PerFile["f2"]
		assert.False(t, blocked.Accepted)
		assert.Equal(t, 0, blocked.CreditsTotal)
		require.NotEmpty(t, blocked.Warnings)
		assert.Contains(t, blocked.Warnings[0], "requires a paid account")

		// A partially accepted quote is still a usable quote.
		assert.Equal(t, q.PerFile["f1"].CreditsTotal, q.CreditsTotal)
	})

	t.Run("oversize files are rejected per-file", func(t *testing.T) {
		engine := newTestEngine(nil)

		files := []FileDescriptor{{ID: "f1", Mime: "image/jpeg", SizeBytes: 500 * models.MB}}
		q, err := engine.CreateQuote(ctx, "sess-1", files, Ops{}, models.TierPaid)
		require.NoError(t, err)
		assert.False(t, q.PerFile["f1"].Accepted)
		assert.Equal(t, 0, q.CreditsTotal)
	})

	t.Run("archiver receives a summary", func(t *testing.T) {
		archiver := &recordingArchiver{}
		engine := newTestEngine(archiver)

		files := []FileDescriptor{{ID: "f1", Mime: "image/jpeg", SizeBytes: models.MB}}
		q, err := engine.CreateQuote(ctx, "sess-7", files, Ops{}, models.TierEmailVerified)
		require.NoError(t, err)

		require.Len(t, archiver.records, 1)
		rec := archiver.records[0]
		assert.Equal(t, q.QuoteID, rec.QuoteID)
		assert.Equal(t, "sess-7", rec.SessionID)
		assert.Equal(t, "email_verified", rec.Tier)
		assert.Equal(t, 1, rec.FileCount)
		assert.Equal(t, 1, rec.AcceptedFiles)
	})
}

func TestGetQuote(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(nil)

	q, err := engine.CreateQuote(ctx, "sess-1", []FileDescriptor{{ID: "f1", Mime: "image/jpeg", SizeBytes: models.MB}}, Ops{}, models.TierPaid)
	require.NoError(t, err)

	// Visible immediately after creation.
	got, err := engine.GetQuote(ctx, q.QuoteID)
	require.NoError(t, err)
	assert.Equal(t, q.QuoteID, got.QuoteID)

	_, err = engine.GetQuote(ctx, "nope")
	assert.ErrorIs(t, err, ErrQuoteNotFound)
}

func TestConsumeQuote(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(nil)

	q, err := engine.CreateQuote(ctx, "sess-1", []FileDescriptor{{ID: "f1", Mime: "image/jpeg", SizeBytes: models.MB}}, Ops{}, models.TierPaid)
	require.NoError(t, err)

	got, err := engine.ConsumeQuote(ctx, q.QuoteID)
	require.NoError(t, err)
	assert.Equal(t, q.QuoteID, got.QuoteID)

	// Consumption is single-shot.
	_, err = engine.ConsumeQuote(ctx, q.QuoteID)
	assert.ErrorIs(t, err, ErrQuoteNotFound)
}

func TestCleanupExpiredQuotes(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	sink := &recordingSink{}
	engine := NewEngine(store, models.DefaultCreditSchedule(), Config{
		TTL:           -time.Minute, // quotes are born expired
		SweepInterval: time.Minute,
		MaxBytes:      200 * models.MB,
		MaxFiles:      100,
	}, nil, sink)

	for i := 0; i < 4; i++ {
		_, err := engine.CreateQuote(ctx, "sess-1", nil, Ops{}, models.TierPaid)
		require.NoError(t, err)
	}
	require.NoError(t, store.Put(ctx, storedQuote("q-live", time.Now().Add(time.Hour))))

	removed, err := engine.CleanupExpiredQuotes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, removed)

	_, err = engine.GetQuote(ctx, "q-live")
	assert.NoError(t, err)

	// Every swept quote leaves an expiry event behind.
	events := sink.Events()
	require.Len(t, events, 4)
	for _, ev := range events {
		assert.Equal(t, logging.EventQuoteExpired, ev.Event)
		assert.NotEmpty(t, ev.QuoteID)
	}
}

func TestEngineSweepLoop(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	engine := NewEngine(store, models.DefaultCreditSchedule(), Config{
		TTL:           time.Millisecond,
		SweepInterval: 20 * time.Millisecond,
		MaxBytes:      200 * models.MB,
		MaxFiles:      100,
	}, nil, nil)

	_, err := engine.CreateQuote(ctx, "sess-1", nil, Ops{}, models.TierPaid)
	require.NoError(t, err)

	engine.Start()
	defer engine.Stop()

	assert.Eventually(t, func() bool {
		n, err := store.Len(ctx)
		return err == nil && n == 0
	}, time.Second, 10*time.Millisecond, "sweep loop should reclaim the expired quote")
}
