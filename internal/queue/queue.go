// Package queue provides the buffering layer between quote creation and
// the archive writer. Two backends share one interface:
//
//   - memory: channel-backed, nothing survives a restart, zero external
//     dependencies. The standalone deployment default.
//   - redis: list-backed, survives restarts and supports multiple
//     worker processes draining the same queue.
//
// Payloads are opaque byte slices; producers and the archive worker
// agree on the encoding (JSON quote records). Failed batches land in a
// dead-letter queue after the retry budget runs out.
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

func newDeadLetterID() string {
	return uuid.New().String()
}

// Queue is a FIFO byte-payload queue.
type Queue interface {
	// Enqueue appends a payload.
	Enqueue(ctx context.Context, payload []byte) error

	// Dequeue pops up to maxItems payloads, blocking until at least one
	// is available or the context is cancelled.
	Dequeue(ctx context.Context, maxItems int) ([][]byte, error)

	// DequeueWithTimeout pops up to maxItems payloads, returning an
	// empty slice if none arrive before the timeout.
	DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([][]byte, error)

	// Length reports the number of queued payloads.
	Length(ctx context.Context) (int, error)

	// Close shuts the queue down. Further calls return ErrQueueClosed.
	Close() error
}

// DeadLetterQueue holds payloads that exhausted their retries.
type DeadLetterQueue interface {
	// Add parks a payload together with the error that killed it.
	Add(ctx context.Context, payload []byte, cause error) error

	// List returns up to maxItems parked payloads, oldest first.
	List(ctx context.Context, maxItems int) ([]DeadLetterItem, error)

	// Remove drops a parked payload by ID.
	Remove(ctx context.Context, id string) error

	Close() error
}

// DeadLetterItem is one parked payload with its failure context.
type DeadLetterItem struct {
	ID        string    `json:"id"`
	Payload   []byte    `json:"payload"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
	Retries   int       `json:"retries"`
}

// Config holds queue and worker tuning.
type Config struct {
	// Name keys the queue in shared backends.
	Name string

	// BatchSize is the maximum payloads handed to the worker at once.
	BatchSize int

	// BatchTimeout is how long the worker waits before flushing a
	// partial batch.
	BatchTimeout time.Duration

	// MaxRetries is how many times a failed batch is retried before the
	// dead-letter queue takes it.
	MaxRetries int

	// RetryBackoff is the initial retry delay; it doubles per attempt.
	RetryBackoff time.Duration

	// RedisAddr, RedisPassword and RedisDB configure the redis backend.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// DefaultConfig returns the archive pipeline defaults.
func DefaultConfig(name string) *Config {
	return &Config{
		Name:         name,
		BatchSize:    100,
		BatchTimeout: 5 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 1 * time.Second,
	}
}
