package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"extract_gateway/internal/models"
	"extract_gateway/internal/queue"
	"extract_gateway/internal/utils"
)

// recordInserter is the slice of the archive repository the worker
// needs; tests substitute a fake.
type recordInserter interface {
	Create(ctx context.Context, record *models.QuoteRecord) error
	InsertBatch(ctx context.Context, records []*models.QuoteRecord) error
}

// ArchiveQueueWorker drains queued quote records into the database in
// batches. It satisfies the quote engine's Archiver interface, so quote
// creation only pays the cost of an enqueue.
type ArchiveQueueWorker struct {
	queue       queue.Queue
	dlq         queue.DeadLetterQueue
	repo        recordInserter
	config      *queue.Config
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewArchiveQueueWorker creates a new archive queue worker
func NewArchiveQueueWorker(q queue.Queue, dlq queue.DeadLetterQueue, repo recordInserter, config *queue.Config) *ArchiveQueueWorker {
	if config == nil {
		config = queue.DefaultConfig("quote-archive")
	}

	return &ArchiveQueueWorker{
		queue:       q,
		dlq:         dlq,
		repo:        repo,
		config:      config,
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start starts the worker goroutine
func (w *ArchiveQueueWorker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop gracefully stops the worker
func (w *ArchiveQueueWorker) Stop() error {
	close(w.stopChan)
	<-w.stoppedChan
	return nil
}

// Record queues a quote record for archiving.
func (w *ArchiveQueueWorker) Record(ctx context.Context, record *models.QuoteRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal quote record: %w", err)
	}
	return w.queue.Enqueue(ctx, payload)
}

// run is the main worker loop
func (w *ArchiveQueueWorker) run(ctx context.Context) {
	defer close(w.stoppedChan)

	logger := utils.NewLogger("archive-worker")

	for {
		select {
		case <-w.stopChan:
			logger.Info("Archive worker stopping")
			return
		case <-ctx.Done():
			logger.Info("Archive worker context cancelled")
			return
		default:
			w.processBatch(ctx, logger)
		}
	}
}

// processBatch drains one batch from the queue into the database.
func (w *ArchiveQueueWorker) processBatch(ctx context.Context, logger *utils.Logger) {
	payloads, err := w.queue.DequeueWithTimeout(ctx, w.config.BatchSize, w.config.BatchTimeout)
	if err != nil {
		if err != queue.ErrQueueClosed && ctx.Err() == nil {
			logger.Error("Failed to dequeue quote records", "error", err)
		}
		time.Sleep(1 * time.Second) // back off on error
		return
	}

	if len(payloads) == 0 {
		return
	}

	logger.Debug("Processing archive batch", "count", len(payloads))

	records := make([]*models.QuoteRecord, 0, len(payloads))
	for _, payload := range payloads {
		var record models.QuoteRecord
		if err := json.Unmarshal(payload, &record); err != nil {
			logger.Error("Failed to unmarshal quote record", "error", err)
			continue
		}
		records = append(records, &record)
	}

	if len(records) == 0 {
		return
	}

	if err := w.repo.InsertBatch(ctx, records); err != nil {
		logger.Error("Failed to insert batch, falling back to individual inserts", "error", err)
		for _, record := range records {
			if err := w.processItem(ctx, record, logger); err != nil {
				logger.Error("Failed to archive quote record", "error", err)
			}
		}
	}
}

// processItem inserts a single record with retries, parking it in the
// dead letter queue when the retry budget runs out.
func (w *ArchiveQueueWorker) processItem(ctx context.Context, record *models.QuoteRecord, logger *utils.Logger) error {
	var lastErr error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := w.config.RetryBackoff * time.Duration(1<<uint(attempt-1))
			logger.Debug("Retrying quote record", "attempt", attempt, "backoff", backoff)
			time.Sleep(backoff)
		}

		if err := w.repo.Create(ctx, record); err != nil {
			lastErr = err
			logger.Error("Failed to insert quote record", "attempt", attempt, "error", err)
			if !utils.IsRecoverableError(err) {
				// Constraint violations and the like will not heal on
				// retry; park the record immediately.
				break
			}
			continue
		}

		logger.Debug("Quote record archived", "quote_id", record.QuoteID)
		return nil
	}

	if w.dlq != nil {
		payload, err := json.Marshal(record)
		if err == nil {
			if err := w.dlq.Add(ctx, payload, lastErr); err != nil {
				logger.Error("Failed to add to dead letter queue", "error", err)
			} else {
				logger.Warn("Quote record moved to DLQ", "quote_id", record.QuoteID, "error", lastErr)
			}
		}
	}

	return fmt.Errorf("%w: %v", queue.ErrMaxRetriesExceeded, lastErr)
}

// GetQueueLength returns the current queue length
func (w *ArchiveQueueWorker) GetQueueLength(ctx context.Context) (int, error) {
	return w.queue.Length(ctx)
}

// GetDeadLetterItems returns items from the dead letter queue
func (w *ArchiveQueueWorker) GetDeadLetterItems(ctx context.Context, maxItems int) ([]queue.DeadLetterItem, error) {
	if w.dlq == nil {
		return nil, fmt.Errorf("dead letter queue not configured")
	}
	return w.dlq.List(ctx, maxItems)
}

// RetryDeadLetterItem re-enqueues a parked record and removes it from
// the dead letter queue.
func (w *ArchiveQueueWorker) RetryDeadLetterItem(ctx context.Context, id string) error {
	if w.dlq == nil {
		return fmt.Errorf("dead letter queue not configured")
	}

	items, err := w.dlq.List(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to list dead letter items: %w", err)
	}

	for _, item := range items {
		if item.ID == id {
			if err := w.queue.Enqueue(ctx, item.Payload); err != nil {
				return fmt.Errorf("failed to re-enqueue item: %w", err)
			}
			if err := w.dlq.Remove(ctx, id); err != nil {
				return fmt.Errorf("failed to remove from DLQ: %w", err)
			}
			return nil
		}
	}

	return fmt.Errorf("item not found in dead letter queue")
}
