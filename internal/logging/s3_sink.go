package logging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"extract_gateway/internal/utils"
)

// S3SinkConfig configures the S3-backed event sink.
type S3SinkConfig struct {
	BufferSize    int
	FlushSize     int
	FlushInterval time.Duration
	S3Bucket      string
	S3Region      string
	S3Prefix      string
	PodName       string
}

// DefaultS3SinkConfig returns sensible defaults; bucket, region and pod
// name must still be filled in.
func DefaultS3SinkConfig() S3SinkConfig {
	return S3SinkConfig{
		BufferSize:    1000,
		FlushSize:     100,
		FlushInterval: 5 * time.Minute,
	}
}

// batchWriter is the slice of S3Writer the sink needs; tests substitute
// a fake to avoid real AWS calls.
type batchWriter interface {
	WriteBatch(ctx context.Context, events []*QuoteEvent) (string, error)
}

// S3Sink buffers quote events in memory and flushes them to S3 when the
// batch fills or the flush interval elapses. Events beyond the buffer
// are dropped; losing audit entries is preferable to stalling requests.
type S3Sink struct {
	cfg    S3SinkConfig
	writer batchWriter
	logger *utils.Logger

	eventCh chan *QuoteEvent
	doneCh  chan struct{}
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewS3Sink creates an S3-backed sink and starts its flush loop.
func NewS3Sink(ctx context.Context, cfg S3SinkConfig) (*S3Sink, error) {
	writer, err := NewS3Writer(ctx, cfg.S3Bucket, cfg.S3Region, cfg.S3Prefix, cfg.PodName)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 writer: %w", err)
	}
	return newS3SinkWithWriter(cfg, writer), nil
}

func newS3SinkWithWriter(cfg S3SinkConfig, writer batchWriter) *S3Sink {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultS3SinkConfig().BufferSize
	}
	if cfg.FlushSize <= 0 {
		cfg.FlushSize = DefaultS3SinkConfig().FlushSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultS3SinkConfig().FlushInterval
	}

	sink := &S3Sink{
		cfg:     cfg,
		writer:  writer,
		logger:  utils.NewLogger("s3-sink"),
		eventCh: make(chan *QuoteEvent, cfg.BufferSize),
		doneCh:  make(chan struct{}),
	}

	sink.wg.Add(1)
	go sink.run()
	return sink
}

// Enqueue buffers an event for the next flush. A full buffer drops the
// event.
func (s *S3Sink) Enqueue(rec *QuoteEvent) error {
	if rec == nil {
		return nil
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	select {
	case s.eventCh <- rec:
	default:
		s.logger.Warn("event buffer full, dropping event", "event", rec.Event)
	}
	return nil
}

// run accumulates events and flushes on size or interval.
func (s *S3Sink) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]*QuoteEvent, 0, s.cfg.FlushSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if _, err := s.writer.WriteBatch(ctx, batch); err != nil {
			s.logger.Error("failed to flush events to S3", "count", len(batch), "error", err)
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case event := <-s.eventCh:
			batch = append(batch, event)
			if len(batch) >= s.cfg.FlushSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.doneCh:
			// Drain whatever is still buffered, then flush once.
			for {
				select {
				case event := <-s.eventCh:
					batch = append(batch, event)
				default:
					flush()
					return
				}
			}
		}
	}
}

// Shutdown drains the buffer and flushes the final batch. Idempotent.
func (s *S3Sink) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.doneCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
