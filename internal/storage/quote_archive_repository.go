package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"extract_gateway/internal/models"
)

// QuoteArchiveRepository persists the audit trail of issued quotes.
type QuoteArchiveRepository struct {
	db *DB
}

// NewQuoteArchiveRepository creates a new quote archive repository
func NewQuoteArchiveRepository(db *DB) *QuoteArchiveRepository {
	return &QuoteArchiveRepository{db: db}
}

const insertQuoteRecordQuery = `
	INSERT INTO quote_records
		(id, quote_id, session_id, tier, file_count, accepted_files,
		 credits_total, created_at, expires_at)
	VALUES
		(:id, :quote_id, :session_id, :tier, :file_count, :accepted_files,
		 :credits_total, :created_at, :expires_at)
`

// Create stores a single quote record.
func (r *QuoteArchiveRepository) Create(ctx context.Context, record *models.QuoteRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if _, err := r.db.conn.NamedExecContext(ctx, insertQuoteRecordQuery, record); err != nil {
		return fmt.Errorf("failed to insert quote record: %w", err)
	}
	return nil
}

// InsertBatch stores multiple quote records in a single transaction.
func (r *QuoteArchiveRepository) InsertBatch(ctx context.Context, records []*models.QuoteRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, record := range records {
		if record.ID == "" {
			record.ID = uuid.New().String()
		}
		if _, err := tx.NamedExecContext(ctx, insertQuoteRecordQuery, record); err != nil {
			return fmt.Errorf("failed to insert quote record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetByQuoteID retrieves a single archived quote.
func (r *QuoteArchiveRepository) GetByQuoteID(ctx context.Context, quoteID string) (*models.QuoteRecord, error) {
	var record models.QuoteRecord
	query := `
		SELECT id, quote_id, session_id, tier, file_count, accepted_files,
		       credits_total, created_at, expires_at
		FROM quote_records
		WHERE quote_id = $1
	`
	err := r.db.conn.GetContext(ctx, &record, query, quoteID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrQuoteRecordNotFound
		}
		return nil, fmt.Errorf("failed to get quote record: %w", err)
	}
	return &record, nil
}

// ListBySession returns a session's archived quotes, newest first.
func (r *QuoteArchiveRepository) ListBySession(ctx context.Context, sessionID string, limit int) ([]*models.QuoteRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, quote_id, session_id, tier, file_count, accepted_files,
		       credits_total, created_at, expires_at
		FROM quote_records
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	var records []*models.QuoteRecord
	if err := r.db.conn.SelectContext(ctx, &records, query, sessionID, limit); err != nil {
		return nil, fmt.Errorf("failed to list quote records: %w", err)
	}
	return records, nil
}
