package quote

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"extract_gateway/internal/logging"
	"extract_gateway/internal/models"
	"extract_gateway/internal/utils"
)

// FileDescriptor is one file in a batch description.
type FileDescriptor struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Mime      string `json:"mime"`
	SizeBytes int64  `json:"sizeBytes"`
}

// Ops selects which extraction operations the batch wants beyond base
// metadata.
type Ops struct {
	Embedding bool `json:"embedding"`
	OCR       bool `json:"ocr"`
	Forensics bool `json:"forensics"`
}

// Archiver receives a summary record for every issued quote. Archiving is
// best-effort and never blocks or fails quote creation.
type Archiver interface {
	Record(ctx context.Context, rec *models.QuoteRecord) error
}

// Config tunes the engine.
type Config struct {
	TTL           time.Duration
	SweepInterval time.Duration
	MaxBytes      int64
	MaxFiles      int
}

// Engine prices batches and owns the quote lifecycle. It is constructed
// once at startup and injected into handlers; there is no package-level
// instance.
type Engine struct {
	store    Store
	schedule models.CreditSchedule
	limits   models.QuoteLimits
	cfg      Config
	archiver Archiver
	events   logging.Sink
	logger   *utils.Logger

	stopChan    chan struct{}
	stoppedChan chan struct{}
	sweeping    atomic.Bool
	started     atomic.Bool
}

// NewEngine creates a quote engine backed by the given store. Both the
// archiver and the event sink are optional.
func NewEngine(store Store, schedule models.CreditSchedule, cfg Config, archiver Archiver, events logging.Sink) *Engine {
	return &Engine{
		store:    store,
		schedule: schedule,
		limits: models.QuoteLimits{
			MaxBytes:     cfg.MaxBytes,
			AllowedMimes: models.KnownContentTypes(),
			MaxFiles:     cfg.MaxFiles,
		},
		cfg:         cfg,
		archiver:    archiver,
		events:      events,
		logger:      utils.NewLogger("quote-engine"),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// CreateQuote prices a batch and persists the resulting quote. Malformed
// batches (zero files, oversize entries) produce a degenerate quote with
// warnings rather than an error; only store faults fail hard.
func (e *Engine) CreateQuote(ctx context.Context, sessionID string, files []FileDescriptor, ops Ops, tier models.AccessTier) (*models.Quote, error) {
	now := time.Now()
	warnings := []string{}

	if len(files) == 0 {
		warnings = append(warnings, "batch contains no files")
	}
	if e.cfg.MaxFiles > 0 && len(files) > e.cfg.MaxFiles {
		warnings = append(warnings, fmt.Sprintf("batch exceeds the %d file limit; extra files were not priced", e.cfg.MaxFiles))
	}

	perFile := make(map[string]models.PerFileQuote, len(files))
	perFileList := make([]models.PerFileQuote, 0, len(files))
	creditsTotal := 0
	accepted := 0

	for i, f := range files {
		pf := e.priceFile(f, ops, tier, i)
		perFile[f.ID] = pf
		perFileList = append(perFileList, pf)
		if pf.Accepted {
			creditsTotal += pf.CreditsTotal
			accepted++
		}
	}

	var standardEquivalents *int
	if e.schedule.StandardCreditsPerImage > 0 {
		eq := (creditsTotal + e.schedule.StandardCreditsPerImage - 1) / e.schedule.StandardCreditsPerImage
		standardEquivalents = &eq
	}

	q := &models.Quote{
		SchemaVersion:  models.QuoteSchemaVersion,
		QuoteID:        uuid.New().String(),
		CreditsTotal:   creditsTotal,
		PerFile:        perFile,
		Schedule:       e.schedule,
		Limits:         e.limits,
		CreditSchedule: e.schedule,
		Body: models.QuoteBody{
			PerFile:             perFileList,
			TotalCredits:        creditsTotal,
			StandardEquivalents: standardEquivalents,
		},
		ExpiresAt: now.Add(e.cfg.TTL),
		Warnings:  warnings,
		SessionID: sessionID,
	}

	if err := e.store.Put(ctx, q); err != nil {
		return nil, fmt.Errorf("failed to persist quote: %w", err)
	}

	e.logger.Info("quote created",
		"quote_id", q.QuoteID,
		"session_id", sessionID,
		"tier", tier.String(),
		"files", len(files),
		"credits", creditsTotal,
	)

	if e.archiver != nil {
		rec := &models.QuoteRecord{
			ID:            uuid.New().String(),
			QuoteID:       q.QuoteID,
			SessionID:     sessionID,
			Tier:          tier.String(),
			FileCount:     len(files),
			AcceptedFiles: accepted,
			CreditsTotal:  creditsTotal,
			CreatedAt:     now,
			ExpiresAt:     q.ExpiresAt,
		}
		if err := e.archiver.Record(ctx, rec); err != nil {
			e.logger.Warn("failed to archive quote", "quote_id", q.QuoteID, "error", err)
		}
	}

	return q, nil
}

func (e *Engine) priceFile(f FileDescriptor, ops Ops, tier models.AccessTier, index int) models.PerFileQuote {
	pf := models.PerFileQuote{
		ID:           f.ID,
		DetectedType: f.Mime,
		Warnings:     []string{},
	}

	if e.cfg.MaxFiles > 0 && index >= e.cfg.MaxFiles {
		pf.Warnings = append(pf.Warnings, "file is beyond the batch size limit")
		return pf
	}
	if e.cfg.MaxBytes > 0 && f.SizeBytes > e.cfg.MaxBytes {
		pf.Warnings = append(pf.Warnings, fmt.Sprintf("file exceeds the %d byte limit", e.cfg.MaxBytes))
		return pf
	}

	verdict := models.CalculateFileCost(f.Mime, f.SizeBytes, tier)
	if verdict.Blocked {
		pf.Warnings = append(pf.Warnings, verdict.Reason)
		return pf
	}

	pf.Accepted = true
	pf.Breakdown.Base = verdict.TotalCost
	if ops.Embedding {
		pf.Breakdown.Embedding = e.schedule.Embedding
	}
	if ops.OCR {
		pf.Breakdown.OCR = e.schedule.OCR
	}
	if ops.Forensics {
		pf.Breakdown.Forensics = e.schedule.Forensics
	}

	if strings.HasPrefix(f.Mime, "image/") {
		mp := estimateMegapixels(f.SizeBytes)
		bucket := e.schedule.BucketFor(mp)
		pf.MP = &mp
		pf.MPBucket = &bucket.Label
		pf.Breakdown.MP = bucket.Credits
	}

	pf.CreditsTotal = pf.Breakdown.Base + pf.Breakdown.Embedding + pf.Breakdown.OCR + pf.Breakdown.Forensics + pf.Breakdown.MP
	return pf
}

// estimateMegapixels approximates resolution from compressed byte size.
// Actual dimensions are only known after the extraction pipeline opens the
// file; ~0.4MB per megapixel is a workable prior for compressed images.
func estimateMegapixels(sizeBytes int64) float64 {
	const bytesPerMegapixel = 400_000.0
	mp := float64(sizeBytes) / bytesPerMegapixel
	if mp < 0.1 {
		mp = 0.1
	}
	return mp
}

// GetQuote is a pure lookup. Unknown and expired ids both resolve to
// ErrQuoteNotFound; the correct caller recovery is re-quoting.
func (e *Engine) GetQuote(ctx context.Context, quoteID string) (*models.Quote, error) {
	return e.store.Get(ctx, quoteID)
}

// ConsumeQuote claims a quote for processing and removes it from the
// store. A quote can be consumed at most once.
func (e *Engine) ConsumeQuote(ctx context.Context, quoteID string) (*models.Quote, error) {
	q, err := e.store.Get(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	if err := e.store.Delete(ctx, quoteID); err != nil {
		return nil, fmt.Errorf("failed to consume quote: %w", err)
	}
	e.logger.Info("quote consumed", "quote_id", quoteID)
	return q, nil
}

// CleanupExpiredQuotes deletes every quote expired as of now and returns
// the number deleted. Safe to call concurrently with create/get.
func (e *Engine) CleanupExpiredQuotes(ctx context.Context) (int, error) {
	expired, err := e.store.DeleteExpired(ctx, time.Now())

	if e.events != nil {
		for _, id := range expired {
			if err := e.events.Enqueue(&logging.QuoteEvent{
				Event:   logging.EventQuoteExpired,
				QuoteID: id,
			}); err != nil {
				e.logger.Warn("failed to record quote expiry", "quote_id", id, "error", err)
				break
			}
		}
	}

	return len(expired), err
}

// Start launches the background sweep loop.
func (e *Engine) Start() {
	if !e.started.CompareAndSwap(false, true) {
		return
	}
	go e.sweepLoop()
}

// Stop halts the sweep loop and waits for it to exit.
func (e *Engine) Stop() {
	if !e.started.Load() {
		return
	}
	close(e.stopChan)
	<-e.stoppedChan
}

func (e *Engine) sweepLoop() {
	defer close(e.stoppedChan)

	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// A tick that lands while the previous sweep is still running
			// is skipped, never queued.
			if !e.sweeping.CompareAndSwap(false, true) {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			removed, err := e.CleanupExpiredQuotes(ctx)
			cancel()
			e.sweeping.Store(false)

			if err != nil {
				e.logger.Error("quote sweep failed", "error", err)
			} else if removed > 0 {
				e.logger.Info("swept expired quotes", "removed", removed)
			}
		case <-e.stopChan:
			return
		}
	}
}
