package logging

import (
	"context"
	"time"
)

// Event types recorded in the quote audit stream.
const (
	EventQuoteCreated  = "quote_created"
	EventQuoteConsumed = "quote_consumed"
	EventQuoteExpired  = "quote_expired"
	EventSessionClosed = "session_closed"
)

// QuoteEvent is one entry in the audit stream: a pricing or lifecycle
// decision the gateway made, flattened for offline analysis.
type QuoteEvent struct {
	Timestamp     time.Time `json:"timestamp"`
	Event         string    `json:"event"`
	QuoteID       string    `json:"quote_id,omitempty"`
	SessionID     string    `json:"session_id,omitempty"`
	Tier          string    `json:"tier,omitempty"`
	FileCount     int       `json:"file_count,omitempty"`
	AcceptedFiles int       `json:"accepted_files,omitempty"`
	CreditsTotal  int       `json:"credits_total,omitempty"`
	ClientIP      string    `json:"client_ip,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// Sink receives quote events. Implementations must not block the
// request path; writes happen asynchronously behind a bounded buffer.
type Sink interface {
	Enqueue(rec *QuoteEvent) error
	Shutdown(ctx context.Context) error
}

// NoopSink discards events. Used when event logging is disabled.
type NoopSink struct{}

func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (s *NoopSink) Enqueue(rec *QuoteEvent) error {
	return nil
}

func (s *NoopSink) Shutdown(ctx context.Context) error {
	return nil
}
