package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"extract_gateway/internal/models"
	"extract_gateway/internal/queue"
)

// mockArchiveRepository simulates database operations for testing
type mockArchiveRepository struct {
	mu        sync.Mutex
	records   []*models.QuoteRecord
	failCount int
	maxFails  int
	failBatch bool
	permanent bool
}

func newMockArchiveRepository() *mockArchiveRepository {
	return &mockArchiveRepository{records: make([]*models.QuoteRecord, 0)}
}

func (m *mockArchiveRepository) Create(ctx context.Context, record *models.QuoteRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failCount < m.maxFails {
		m.failCount++
		if m.permanent {
			return fmt.Errorf("duplicate key value violates unique constraint")
		}
		// Phrased as a transient fault so the worker keeps retrying.
		return fmt.Errorf("simulated database error: connection refused")
	}

	m.records = append(m.records, record)
	return nil
}

func (m *mockArchiveRepository) InsertBatch(ctx context.Context, records []*models.QuoteRecord) error {
	m.mu.Lock()
	if m.failBatch {
		m.mu.Unlock()
		return fmt.Errorf("simulated batch failure")
	}
	m.records = append(m.records, records...)
	m.mu.Unlock()
	return nil
}

func (m *mockArchiveRepository) recordCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *mockArchiveRepository) recorded() []*models.QuoteRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.QuoteRecord, len(m.records))
	copy(out, m.records)
	return out
}

func testWorkerConfig() *queue.Config {
	config := queue.DefaultConfig("archive-test")
	config.BatchTimeout = 50 * time.Millisecond
	config.MaxRetries = 2
	config.RetryBackoff = 10 * time.Millisecond
	return config
}

func testRecord(quoteID string) *models.QuoteRecord {
	return &models.QuoteRecord{
		ID:            uuid.New().String(),
		QuoteID:       quoteID,
		SessionID:     "session-1",
		Tier:          "paid",
		FileCount:     3,
		AcceptedFiles: 3,
		CreditsTotal:  7,
		CreatedAt:     time.Now().UTC(),
		ExpiresAt:     time.Now().UTC().Add(15 * time.Minute),
	}
}

func TestArchiveWorkerDrainsQueue(t *testing.T) {
	config := testWorkerConfig()
	q := queue.NewMemoryQueue(config)
	defer q.Close()
	dlq := queue.NewMemoryDeadLetterQueue()
	defer dlq.Close()
	repo := newMockArchiveRepository()

	worker := NewArchiveQueueWorker(q, dlq, repo, config)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	worker.Start(ctx)
	defer worker.Stop()

	for i := 0; i < 5; i++ {
		require.NoError(t, worker.Record(ctx, testRecord(uuid.New().String())))
	}

	assert.Eventually(t, func() bool {
		return repo.recordCount() == 5
	}, 2*time.Second, 20*time.Millisecond)

	for _, rec := range repo.recorded() {
		assert.Equal(t, "session-1", rec.SessionID)
		assert.Equal(t, 7, rec.CreditsTotal)
	}
}

func TestArchiveWorkerFallsBackToIndividualInserts(t *testing.T) {
	config := testWorkerConfig()
	q := queue.NewMemoryQueue(config)
	defer q.Close()
	repo := newMockArchiveRepository()
	repo.failBatch = true

	worker := NewArchiveQueueWorker(q, nil, repo, config)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	worker.Start(ctx)
	defer worker.Stop()

	require.NoError(t, worker.Record(ctx, testRecord("q-solo")))

	assert.Eventually(t, func() bool {
		return repo.recordCount() == 1
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, "q-solo", repo.recorded()[0].QuoteID)
}

func TestArchiveWorkerParksFailedRecordsInDLQ(t *testing.T) {
	config := testWorkerConfig()
	q := queue.NewMemoryQueue(config)
	defer q.Close()
	dlq := queue.NewMemoryDeadLetterQueue()
	defer dlq.Close()

	repo := newMockArchiveRepository()
	repo.failBatch = true
	repo.maxFails = 1000 // individual inserts keep failing too

	worker := NewArchiveQueueWorker(q, dlq, repo, config)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	worker.Start(ctx)
	defer worker.Stop()

	require.NoError(t, worker.Record(ctx, testRecord("q-doomed")))

	assert.Eventually(t, func() bool {
		items, err := dlq.List(context.Background(), 10)
		return err == nil && len(items) == 1
	}, 5*time.Second, 50*time.Millisecond)

	assert.Equal(t, 0, repo.recordCount())
}

func TestArchiveWorkerRetriesTransientFailures(t *testing.T) {
	config := testWorkerConfig()
	q := queue.NewMemoryQueue(config)
	defer q.Close()
	repo := newMockArchiveRepository()
	repo.failBatch = true
	repo.maxFails = 2 // within the retry budget

	worker := NewArchiveQueueWorker(q, nil, repo, config)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	worker.Start(ctx)
	defer worker.Stop()

	require.NoError(t, worker.Record(ctx, testRecord("q-flaky")))

	assert.Eventually(t, func() bool {
		return repo.recordCount() == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestArchiveWorkerParksPermanentFailuresWithoutRetrying(t *testing.T) {
	config := testWorkerConfig()
	config.MaxRetries = 10
	config.RetryBackoff = time.Second // retries would blow past the assertion window
	q := queue.NewMemoryQueue(config)
	defer q.Close()
	dlq := queue.NewMemoryDeadLetterQueue()
	defer dlq.Close()

	repo := newMockArchiveRepository()
	repo.failBatch = true
	repo.maxFails = 1000
	repo.permanent = true

	worker := NewArchiveQueueWorker(q, dlq, repo, config)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	worker.Start(ctx)
	defer worker.Stop()

	require.NoError(t, worker.Record(ctx, testRecord("q-dupe")))

	assert.Eventually(t, func() bool {
		items, err := dlq.List(context.Background(), 10)
		return err == nil && len(items) == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestArchiveWorkerRetryDeadLetterItem(t *testing.T) {
	config := testWorkerConfig()
	q := queue.NewMemoryQueue(config)
	defer q.Close()
	dlq := queue.NewMemoryDeadLetterQueue()
	defer dlq.Close()
	repo := newMockArchiveRepository()

	worker := NewArchiveQueueWorker(q, dlq, repo, config)
	ctx := context.Background()

	// Park an item by hand, then replay it with a healthy repository.
	require.NoError(t, dlq.Add(ctx, []byte(`{"quote_id":"q-replay","session_id":"session-1"}`), queue.ErrMaxRetriesExceeded))
	items, err := dlq.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)

	require.NoError(t, worker.RetryDeadLetterItem(ctx, items[0].ID))

	remaining, err := dlq.List(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	length, err := worker.GetQueueLength(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, length)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(workerCtx)
	defer worker.Stop()

	assert.Eventually(t, func() bool {
		return repo.recordCount() == 1
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, "q-replay", repo.recorded()[0].QuoteID)
}
