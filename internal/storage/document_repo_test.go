package storage

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"filings-advisor/internal/domain"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := New(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

func sampleDocument(id string) *DocumentRecord {
	return &DocumentRecord{
		ID:          id,
		Ticker:      "AAPL",
		FilingDate:  time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		ReportType:  domain.ReportTypeFiling,
		Text:        "Revenue grew twelve percent year over year.",
		SourceURL:   "https://example.com/10-q",
		ContentHash: "hash-" + id,
		CreatedAt:   time.Now().UTC(),
	}
}

func TestDocumentRepo_InsertAndGet(t *testing.T) {
	db := newTestDB(t)
	repo := NewDocumentRepo(db)
	ctx := context.Background()

	doc := sampleDocument("doc-1")
	if err := repo.Insert(ctx, doc); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	got, err := repo.GetByID(ctx, "doc-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Ticker != doc.Ticker || got.ReportType != doc.ReportType || got.Text != doc.Text {
		t.Errorf("GetByID() = %+v, want %+v", got, doc)
	}
	if !got.FilingDate.Equal(doc.FilingDate) {
		t.Errorf("filing date = %v, want %v", got.FilingDate, doc.FilingDate)
	}
}

func TestDocumentRepo_GetByID_NotFound(t *testing.T) {
	db := newTestDB(t)
	repo := NewDocumentRepo(db)

	_, err := repo.GetByID(context.Background(), "absent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() error = %v, want ErrNotFound", err)
	}
}

func TestDocumentRepo_FindByContentHash(t *testing.T) {
	db := newTestDB(t)
	repo := NewDocumentRepo(db)
	ctx := context.Background()

	if err := repo.Insert(ctx, sampleDocument("doc-1")); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	id, err := repo.FindByContentHash(ctx, "hash-doc-1")
	if err != nil {
		t.Fatalf("FindByContentHash() error = %v", err)
	}
	if id != "doc-1" {
		t.Errorf("FindByContentHash() = %s, want doc-1", id)
	}

	_, err = repo.FindByContentHash(ctx, "absent-hash")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("FindByContentHash() error = %v, want ErrNotFound", err)
	}
}

func TestDocumentRepo_DeleteCascadesChunks(t *testing.T) {
	db := newTestDB(t)
	docRepo := NewDocumentRepo(db)
	chunkRepo := NewChunkRepo(db)
	ctx := context.Background()

	if err := docRepo.Insert(ctx, sampleDocument("doc-1")); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	chunks := []*ChunkRecord{
		{ID: "chunk-1", DocumentID: "doc-1", Seq: 0, Text: "part one", ContentHash: "h1"},
		{ID: "chunk-2", DocumentID: "doc-1", Seq: 1, Text: "part two", ContentHash: "h2"},
	}
	if err := chunkRepo.InsertBatch(ctx, chunks); err != nil {
		t.Fatalf("InsertBatch() error = %v", err)
	}

	if err := docRepo.Delete(ctx, "doc-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	remaining, err := chunkRepo.ListByDocument(ctx, "doc-1")
	if err != nil {
		t.Fatalf("ListByDocument() error = %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("chunks survived document deletion: %d left", len(remaining))
	}
}

func TestDocumentRepo_DeleteCascadesOnEveryPooledConnection(t *testing.T) {
	db := newTestDB(t)
	docRepo := NewDocumentRepo(db)
	chunkRepo := NewChunkRepo(db)
	ctx := context.Background()

	if err := docRepo.Insert(ctx, sampleDocument("doc-1")); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := chunkRepo.InsertBatch(ctx, []*ChunkRecord{
		{ID: "chunk-1", DocumentID: "doc-1", Seq: 0, Text: "part one", ContentHash: "h1"},
	}); err != nil {
		t.Fatalf("InsertBatch() error = %v", err)
	}

	// Pin one connection so the delete below is forced onto a different
	// one. Foreign keys are per-connection in SQLite, so enforcement must
	// hold on every connection in the pool, not just the first.
	pinned, err := db.Conn(ctx)
	if err != nil {
		t.Fatalf("Conn() error = %v", err)
	}
	defer func() {
		_ = pinned.Close()
	}()

	second, err := db.Conn(ctx)
	if err != nil {
		t.Fatalf("Conn() error = %v", err)
	}
	defer func() {
		_ = second.Close()
	}()

	var fk int
	if err := second.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("PRAGMA foreign_keys error = %v", err)
	}
	if fk != 1 {
		t.Fatalf("foreign_keys = %d on second pooled connection, want 1", fk)
	}

	if _, err := second.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", "doc-1"); err != nil {
		t.Fatalf("delete error = %v", err)
	}

	remaining, err := chunkRepo.ListByDocument(ctx, "doc-1")
	if err != nil {
		t.Fatalf("ListByDocument() error = %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("chunks survived document deletion: %d left", len(remaining))
	}
}

func TestChunkRepo_InsertBatchAndList(t *testing.T) {
	db := newTestDB(t)
	docRepo := NewDocumentRepo(db)
	chunkRepo := NewChunkRepo(db)
	ctx := context.Background()

	if err := docRepo.Insert(ctx, sampleDocument("doc-1")); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	chunks := []*ChunkRecord{
		{ID: "chunk-2", DocumentID: "doc-1", Seq: 1, Text: "part two", ContentHash: "h2"},
		{ID: "chunk-1", DocumentID: "doc-1", Seq: 0, Text: "part one", ContentHash: "h1"},
	}
	if err := chunkRepo.InsertBatch(ctx, chunks); err != nil {
		t.Fatalf("InsertBatch() error = %v", err)
	}

	got, err := chunkRepo.ListByDocument(ctx, "doc-1")
	if err != nil {
		t.Fatalf("ListByDocument() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d chunks, want 2", len(got))
	}
	// Listing is in sequence order regardless of insert order.
	if got[0].Seq != 0 || got[1].Seq != 1 {
		t.Errorf("chunks not ordered by seq: %d, %d", got[0].Seq, got[1].Seq)
	}
}

func TestChunkRepo_InsertBatchRejectsOrphans(t *testing.T) {
	db := newTestDB(t)
	chunkRepo := NewChunkRepo(db)

	err := chunkRepo.InsertBatch(context.Background(), []*ChunkRecord{
		{ID: "chunk-1", DocumentID: "missing-doc", Seq: 0, Text: "orphan", ContentHash: "h"},
	})
	if err == nil {
		t.Error("InsertBatch() accepted a chunk without a document")
	}
}

func TestChunkRepo_DuplicateSeqRejected(t *testing.T) {
	db := newTestDB(t)
	docRepo := NewDocumentRepo(db)
	chunkRepo := NewChunkRepo(db)
	ctx := context.Background()

	if err := docRepo.Insert(ctx, sampleDocument("doc-1")); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	err := chunkRepo.InsertBatch(ctx, []*ChunkRecord{
		{ID: "chunk-1", DocumentID: "doc-1", Seq: 0, Text: "a", ContentHash: "h1"},
		{ID: "chunk-2", DocumentID: "doc-1", Seq: 0, Text: "b", ContentHash: "h2"},
	})
	if err == nil {
		t.Error("InsertBatch() accepted duplicate sequence numbers")
	}

	// The batch is transactional: nothing landed.
	got, listErr := chunkRepo.ListByDocument(ctx, "doc-1")
	if listErr != nil {
		t.Fatalf("ListByDocument() error = %v", listErr)
	}
	if len(got) != 0 {
		t.Errorf("partial batch persisted: %d chunks", len(got))
	}
}
