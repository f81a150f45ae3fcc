package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"

	"filings-advisor/internal/contextutil"
	"filings-advisor/internal/domain"
)

// SQLiteStore implements VectorStore on the relational engine, storing
// vectors as BLOBs and scanning candidates with cosine similarity after a
// SQL pre-filter. The scan is exhaustive over the filtered set, which
// keeps results deterministic; collections here are modest enough that an
// index structure is not worth the dependency.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite-backed vector store on an open database.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS vector_collections (
			name TEXT PRIMARY KEY,
			dims INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS vector_records (
			collection TEXT NOT NULL,
			chunk_id TEXT NOT NULL,
			document_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			vector BLOB NOT NULL,
			ticker TEXT NOT NULL,
			report_type TEXT NOT NULL,
			filing_date DATE NOT NULL,
			text TEXT NOT NULL,
			PRIMARY KEY (collection, chunk_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_vector_records_document ON vector_records(collection, document_id);`,
		`CREATE INDEX IF NOT EXISTS idx_vector_records_meta ON vector_records(collection, ticker, report_type, filing_date);`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("failed to init vector schema: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// EnsureCollection registers the collection and validates its vector size.
func (s *SQLiteStore) EnsureCollection(ctx context.Context, collection string, vectorSize int) error {
	var dims int
	err := s.db.QueryRowContext(ctx,
		"SELECT dims FROM vector_collections WHERE name = ?", collection,
	).Scan(&dims)

	if err == sql.ErrNoRows {
		_, err = s.db.ExecContext(ctx,
			"INSERT INTO vector_collections (name, dims) VALUES (?, ?)", collection, vectorSize)
		if err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if dims != vectorSize {
		return fmt.Errorf("collection vector size mismatch: expected %d, got %d", vectorSize, dims)
	}
	return nil
}

// Upsert inserts records, replacing prior records with the same chunk ID.
// Each record replaces atomically, so a concurrent search observes either
// the old or the new record, never a torn one.
func (s *SQLiteStore) Upsert(ctx context.Context, collection string, records []Record) error {
	logger := contextutil.LoggerFromContext(ctx)

	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO vector_records (collection, chunk_id, document_id, seq, vector, ticker, report_type, filing_date, text)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(collection, chunk_id) DO UPDATE SET
			document_id = excluded.document_id,
			seq = excluded.seq,
			vector = excluded.vector,
			ticker = excluded.ticker,
			report_type = excluded.report_type,
			filing_date = excluded.filing_date,
			text = excluded.text`,
	)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer func() {
		_ = stmt.Close()
	}()

	for _, rec := range records {
		_, err := stmt.ExecContext(ctx, collection, rec.ChunkID, rec.DocumentID, rec.Seq,
			encodeVector(rec.Vector), rec.Ticker, string(rec.ReportType), rec.FilingDate, rec.Text)
		if err != nil {
			return fmt.Errorf("failed to upsert record %s: %w", rec.ChunkID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit upsert: %w", err)
	}

	logger.InfoContext(ctx, "upserted vector records", "collection", collection, "count", len(records))
	return nil
}

// DeleteByDocument removes every record belonging to the document.
func (s *SQLiteStore) DeleteByDocument(ctx context.Context, collection string, documentID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM vector_records WHERE collection = ? AND document_id = ?",
		collection, documentID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete records by document: %w", err)
	}
	return nil
}

// Search applies the metadata filters in SQL, then ranks the remaining
// candidates by cosine similarity.
func (s *SQLiteStore) Search(ctx context.Context, collection string, query []float32, k int, filters domain.Filters) ([]SearchResult, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if k <= 0 {
		return nil, fmt.Errorf("k must be greater than 0")
	}

	sqlQuery := `SELECT chunk_id, document_id, seq, vector, ticker, report_type, filing_date, text
		 FROM vector_records WHERE collection = ?`
	args := []any{collection}
	if filters.Ticker != "" {
		sqlQuery += " AND ticker = ?"
		args = append(args, filters.Ticker)
	}
	if filters.ReportType != "" {
		sqlQuery += " AND report_type = ?"
		args = append(args, string(filters.ReportType))
	}
	if !filters.DateFrom.IsZero() {
		sqlQuery += " AND filing_date >= ?"
		args = append(args, filters.DateFrom)
	}
	if !filters.DateTo.IsZero() {
		sqlQuery += " AND filing_date <= ?"
		args = append(args, filters.DateTo)
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query vector records: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var results []SearchResult
	for rows.Next() {
		var rec Record
		var blob []byte
		var reportType string
		var filingDate time.Time
		if err := rows.Scan(&rec.ChunkID, &rec.DocumentID, &rec.Seq, &blob, &rec.Ticker, &reportType, &filingDate, &rec.Text); err != nil {
			return nil, fmt.Errorf("failed to scan vector record: %w", err)
		}
		rec.ReportType = domain.ReportType(reportType)
		rec.FilingDate = filingDate
		rec.Vector = decodeVector(blob)

		score := cosineSimilarity(query, rec.Vector)
		results = append(results, SearchResult{Record: rec, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	sortResults(results)
	if len(results) > k {
		results = results[:k]
	}

	logger.DebugContext(ctx, "vector search completed", "collection", collection, "k", k, "results", len(results))
	return results, nil
}

// sortResults orders by score descending, then filing date descending,
// then chunk ID ascending for full determinism.
func sortResults(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if !results[i].Record.FilingDate.Equal(results[j].Record.FilingDate) {
			return results[i].Record.FilingDate.After(results[j].Record.FilingDate)
		}
		return results[i].Record.ChunkID < results[j].Record.ChunkID
	})
}

// cosineSimilarity calculates cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

func encodeVector(vector []float32) []byte {
	blob := make([]byte, 4*len(vector))
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

func decodeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vector
}
