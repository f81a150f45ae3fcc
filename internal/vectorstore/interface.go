package vectorstore

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_vector_store.go -package=mocks filings-advisor/internal/vectorstore VectorStore

import (
	"context"
	"time"

	"filings-advisor/internal/domain"
)

// Record is one stored vector with its denormalized metadata. Metadata is
// duplicated here so filters can be pushed down to the backend without
// joining against the relational store.
type Record struct {
	ChunkID    string
	DocumentID string
	Seq        int
	Vector     []float32
	Ticker     string
	ReportType domain.ReportType
	FilingDate time.Time
	Text       string
}

// SearchResult is one ranked hit from a similarity search. Higher score
// means more similar (cosine).
type SearchResult struct {
	Record Record
	Score  float32
}

// VectorStore is the backend-agnostic contract over a vector collection.
// Implementations exist for Qdrant and for a relational SQLite engine;
// the ingestion path and the Retriever depend only on this interface.
type VectorStore interface {
	// EnsureCollection creates the collection with the given vector size if
	// it does not exist, and validates the size if it does.
	EnsureCollection(ctx context.Context, collection string, vectorSize int) error

	// Upsert inserts records, replacing any prior record with the same
	// (collection, chunk ID) rather than duplicating it.
	Upsert(ctx context.Context, collection string, records []Record) error

	// DeleteByDocument removes every record belonging to the document.
	// Used for re-ingestion and corrections.
	DeleteByDocument(ctx context.Context, collection string, documentID string) error

	// Search returns up to k nearest neighbors by cosine similarity,
	// restricted to records satisfying all filter predicates. Filters are
	// applied as a pre-filter (or equivalent over-fetch), never by trimming
	// fewer than k raw candidates. Ordering is deterministic for a fixed
	// index state: score descending, then filing date descending, then
	// chunk ID ascending.
	Search(ctx context.Context, collection string, query []float32, k int, filters domain.Filters) ([]SearchResult, error)
}
