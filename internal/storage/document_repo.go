package storage

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_document_store.go -package=mocks filings-advisor/internal/storage DocumentStore

import (
	"context"
	"database/sql"
	"fmt"

	"filings-advisor/internal/domain"
)

// DocumentStore defines the interface for document storage operations.
type DocumentStore interface {
	// Insert inserts a document. The document ID must be set before calling.
	Insert(ctx context.Context, doc *DocumentRecord) error
	// GetByID gets a document by its ID. Returns ErrNotFound if not found.
	GetByID(ctx context.Context, id string) (*DocumentRecord, error)
	// FindByContentHash returns the ID of a document with the given content
	// hash, or ErrNotFound. Used for idempotent re-ingestion detection.
	FindByContentHash(ctx context.Context, hash string) (string, error)
	// Delete removes a document; its chunks cascade.
	Delete(ctx context.Context, id string) error
}

// DocumentRepo provides methods for document operations.
// It implements the DocumentStore interface.
type DocumentRepo struct {
	db *sql.DB
}

// NewDocumentRepo creates a new DocumentRepo.
func NewDocumentRepo(db *sql.DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

// Insert inserts a document.
func (r *DocumentRepo) Insert(ctx context.Context, doc *DocumentRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO documents (id, ticker, filing_date, report_type, text, source_url, content_hash, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Ticker, doc.FilingDate, string(doc.ReportType), doc.Text, doc.SourceURL, doc.ContentHash, doc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

// GetByID gets a document by its ID. Returns ErrNotFound if not found.
func (r *DocumentRepo) GetByID(ctx context.Context, id string) (*DocumentRecord, error) {
	var doc DocumentRecord
	var reportType string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, ticker, filing_date, report_type, text, source_url, content_hash, created_at
		 FROM documents WHERE id = ?`,
		id,
	).Scan(&doc.ID, &doc.Ticker, &doc.FilingDate, &reportType, &doc.Text, &doc.SourceURL, &doc.ContentHash, &doc.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query document: %w", err)
	}
	doc.ReportType = domain.ReportType(reportType)
	return &doc, nil
}

// FindByContentHash returns the ID of a document with the given content hash.
func (r *DocumentRepo) FindByContentHash(ctx context.Context, hash string) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx,
		"SELECT id FROM documents WHERE content_hash = ? LIMIT 1", hash,
	).Scan(&id)

	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query document by hash: %w", err)
	}
	return id, nil
}

// Delete removes a document; its chunks cascade.
func (r *DocumentRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}
