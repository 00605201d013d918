package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// QuoteSchemaVersion is the compatibility contract for the quote response
// shape. Any change to the shape requires bumping this literal, and
// consumers must reject unknown versions rather than guess field meaning.
const QuoteSchemaVersion = "images_mvp_quote_v1"

// ErrSchemaVersionMismatch is returned by ValidateQuote when a payload does
// not carry the expected schema version.
var ErrSchemaVersionMismatch = errors.New("unexpected quote schema version")

// MPBucket prices one megapixel band.
type MPBucket struct {
	Label   string `json:"label"`
	MaxMP   int    `json:"maxMp"`
	Credits int    `json:"credits"`
}

// CreditSchedule is static pricing configuration, not user-mutable. One
// immutable value is constructed at startup and injected everywhere pricing
// is needed.
type CreditSchedule struct {
	Base                    int        `json:"base"`
	Embedding               int        `json:"embedding"`
	OCR                     int        `json:"ocr"`
	Forensics               int        `json:"forensics"`
	MPBuckets               []MPBucket `json:"mpBuckets"`
	StandardCreditsPerImage int        `json:"standardCreditsPerImage"`
}

// DefaultCreditSchedule returns the compiled-in pricing policy.
func DefaultCreditSchedule() CreditSchedule {
	return CreditSchedule{
		Base:      1,
		Embedding: 1,
		OCR:       2,
		Forensics: 3,
		MPBuckets: []MPBucket{
			{Label: "small", MaxMP: 12, Credits: 0},
			{Label: "medium", MaxMP: 24, Credits: 1},
			{Label: "large", MaxMP: 48, Credits: 2},
			{Label: "xlarge", MaxMP: 9999, Credits: 4},
		},
		StandardCreditsPerImage: 2,
	}
}

// BucketFor returns the bucket covering mp megapixels. The last bucket
// absorbs anything beyond its threshold.
func (s CreditSchedule) BucketFor(mp float64) MPBucket {
	for _, b := range s.MPBuckets {
		if mp <= float64(b.MaxMP) {
			return b
		}
	}
	if len(s.MPBuckets) > 0 {
		return s.MPBuckets[len(s.MPBuckets)-1]
	}
	return MPBucket{}
}

// QuoteLimits bounds what a single batch may contain.
type QuoteLimits struct {
	MaxBytes     int64    `json:"maxBytes"`
	AllowedMimes []string `json:"allowedMimes"`
	MaxFiles     int      `json:"maxFiles"`
}

// CreditBreakdown itemizes one file's credits.
type CreditBreakdown struct {
	Base      int `json:"base"`
	Embedding int `json:"embedding"`
	OCR       int `json:"ocr"`
	Forensics int `json:"forensics"`
	MP        int `json:"mp"`
}

// PerFileQuote is the priced result for one file in the batch.
type PerFileQuote struct {
	ID           string          `json:"id"`
	Accepted     bool            `json:"accepted"`
	DetectedType string          `json:"detected_type"`
	CreditsTotal int             `json:"creditsTotal"`
	Breakdown    CreditBreakdown `json:"breakdown"`
	MP           *float64        `json:"mp"`
	MPBucket     *string         `json:"mpBucket"`
	Warnings     []string        `json:"warnings"`
}

// QuoteBody mirrors the per-file list with aggregates for display.
type QuoteBody struct {
	PerFile             []PerFileQuote `json:"perFile"`
	TotalCredits        int            `json:"totalCredits"`
	StandardEquivalents *int           `json:"standardEquivalents"`
}

// Quote is a time-bound, versioned price commitment for processing a batch
// of files. Immutable after creation; owned by the quote store until
// expired or consumed.
type Quote struct {
	SchemaVersion  string                  `json:"schemaVersion"`
	QuoteID        string                  `json:"quoteId"`
	CreditsTotal   int                     `json:"creditsTotal"`
	PerFile        map[string]PerFileQuote `json:"perFile"`
	Schedule       CreditSchedule          `json:"schedule"`
	Limits         QuoteLimits             `json:"limits"`
	CreditSchedule CreditSchedule          `json:"creditSchedule"`
	Body           QuoteBody               `json:"quote"`
	ExpiresAt      time.Time               `json:"expiresAt"`
	Warnings       []string                `json:"warnings"`

	// SessionID groups the quote with its progress viewers. Not part of
	// the response contract.
	SessionID string `json:"-"`
}

// Expired reports whether the quote is past its expiry at the given time.
func (q *Quote) Expired(now time.Time) bool {
	return !q.ExpiresAt.After(now)
}

// ValidateQuote is the consumer-side compatibility gate: it parses a quote
// payload and rejects it unless the schema version matches exactly.
func ValidateQuote(payload []byte) (*Quote, error) {
	var probe struct {
		SchemaVersion string `json:"schemaVersion"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return nil, fmt.Errorf("malformed quote payload: %w", err)
	}
	if probe.SchemaVersion != QuoteSchemaVersion {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrSchemaVersionMismatch, probe.SchemaVersion, QuoteSchemaVersion)
	}

	var quote Quote
	if err := json.Unmarshal(payload, &quote); err != nil {
		return nil, fmt.Errorf("malformed quote payload: %w", err)
	}
	return &quote, nil
}
