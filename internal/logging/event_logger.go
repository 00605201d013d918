package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// EventLogger is a file-backed Sink: asynchronous, buffered JSONL
// writing with size-based rotation and periodic flush. Events that
// arrive while the buffer is full are dropped rather than stalling the
// caller.
type EventLogger struct {
	fileTemplate  string        // e.g. "/var/log/extract-gateway/events-%s.jsonl"
	maxSize       int64         // maximum size in bytes before rotation
	maxFiles      int           // rotated files to keep
	flushInterval time.Duration // flush cadence for partial buffers

	mu          sync.Mutex
	currentFile string
	file        *os.File
	writer      *bufio.Writer
	currentSize int64

	eventCh chan QuoteEvent
	doneCh  chan struct{}
	wg      sync.WaitGroup
	closed  bool
}

// NewEventLogger creates a file-backed event sink. bufferSize is how
// many events can be queued before new ones are dropped.
func NewEventLogger(fileTemplate string, maxSize int64, maxFiles, bufferSize int, flushInterval time.Duration) (*EventLogger, error) {
	logger := &EventLogger{
		fileTemplate:  fileTemplate,
		maxSize:       maxSize,
		maxFiles:      maxFiles,
		flushInterval: flushInterval,
		eventCh:       make(chan QuoteEvent, bufferSize),
		doneCh:        make(chan struct{}),
	}

	if err := logger.openFile(); err != nil {
		return nil, err
	}

	logger.wg.Add(1)
	go logger.run()

	return logger, nil
}

// newFileName applies the current timestamp to the file template.
func (logger *EventLogger) newFileName() string {
	timestamp := time.Now().Format("20060102150405")
	return fmt.Sprintf(logger.fileTemplate, timestamp)
}

// openFile opens the active log file and prepares the buffered writer,
// creating the directory when missing.
func (logger *EventLogger) openFile() error {
	logger.currentFile = logger.newFileName()
	dir := filepath.Dir(logger.currentFile)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	file, err := os.OpenFile(logger.currentFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	fi, err := file.Stat()
	if err != nil {
		file.Close()
		return err
	}
	logger.currentSize = fi.Size()
	logger.file = file
	logger.writer = bufio.NewWriter(file)
	return nil
}

// rotateIfNeeded rotates the file when adding n bytes would exceed the
// size limit.
func (logger *EventLogger) rotateIfNeeded(n int) error {
	logger.mu.Lock()
	defer logger.mu.Unlock()

	if logger.currentSize+int64(n) < logger.maxSize {
		return nil
	}

	if err := logger.writer.Flush(); err != nil {
		return err
	}
	if err := logger.file.Close(); err != nil {
		return err
	}
	return logger.openFile()
}

// cleanupOldFiles removes the oldest rotated files beyond maxFiles.
func (logger *EventLogger) cleanupOldFiles() error {
	pattern := fmt.Sprintf(logger.fileTemplate, "*")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return err
	}

	sort.Slice(matches, func(i, j int) bool {
		fi, err1 := os.Stat(matches[i])
		fj, err2 := os.Stat(matches[j])
		if err1 != nil || err2 != nil {
			return false
		}
		return fi.ModTime().Before(fj.ModTime())
	})

	excess := len(matches) - logger.maxFiles
	for i := 0; i < excess; i++ {
		_ = os.Remove(matches[i])
	}
	return nil
}

// run drains the event channel to disk and flushes periodically.
func (logger *EventLogger) run() {
	defer logger.wg.Done()
	ticker := time.NewTicker(logger.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-logger.eventCh:
			logger.writeEvent(event)
		case <-ticker.C:
			logger.mu.Lock()
			_ = logger.writer.Flush()
			logger.mu.Unlock()
		case <-logger.doneCh:
			// Drain remaining events before closing the file.
			for {
				select {
				case event := <-logger.eventCh:
					logger.writeEvent(event)
				default:
					logger.mu.Lock()
					_ = logger.writer.Flush()
					_ = logger.file.Close()
					logger.mu.Unlock()
					return
				}
			}
		}
	}
}

// writeEvent serializes an event to JSON and appends it, rotating first
// when the file is full.
func (logger *EventLogger) writeEvent(event QuoteEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	line := string(data) + "\n"
	n := len(line)
	_ = logger.rotateIfNeeded(n)

	logger.mu.Lock()
	_, _ = logger.writer.WriteString(line)
	logger.currentSize += int64(n)
	logger.mu.Unlock()

	_ = logger.cleanupOldFiles()
}

// Enqueue queues an event for writing. A full buffer drops the event.
func (logger *EventLogger) Enqueue(rec *QuoteEvent) error {
	if rec == nil {
		return nil
	}
	event := *rec
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case logger.eventCh <- event:
	default:
		// buffer full; drop
	}
	return nil
}

// Shutdown flushes the buffer and closes the file. Idempotent.
func (logger *EventLogger) Shutdown(ctx context.Context) error {
	logger.mu.Lock()
	if logger.closed {
		logger.mu.Unlock()
		return nil
	}
	logger.closed = true
	logger.mu.Unlock()

	close(logger.doneCh)
	logger.wg.Wait()
	return nil
}
