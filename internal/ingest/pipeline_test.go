package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"filings-advisor/internal/domain"
	"filings-advisor/internal/embed"
	"filings-advisor/internal/storage"
	"filings-advisor/internal/vectorstore"
)

// fakeEmbedder produces deterministic vectors from text lengths and
// counts how many texts reached it.
type fakeEmbedder struct {
	mu    sync.Mutex
	texts int
	fail  bool
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, inputs []embed.Input) ([][]float32, error) {
	f.mu.Lock()
	f.texts += len(inputs)
	fail := f.fail
	f.mu.Unlock()

	if fail {
		return nil, errors.New("provider unavailable")
	}
	vectors := make([][]float32, len(inputs))
	for i, input := range inputs {
		vectors[i] = []float32{float32(len(input.Text)), 1, 0}
	}
	return vectors, nil
}

func (f *fakeEmbedder) Model() string { return "fake-model" }

type pipelineFixture struct {
	pipeline  *Pipeline
	docRepo   *storage.DocumentRepo
	chunkRepo *storage.ChunkRepo
	store     *vectorstore.SQLiteStore
	embedder  *fakeEmbedder
}

func newPipelineFixture(t *testing.T, chunkSize int) *pipelineFixture {
	t.Helper()
	db, err := storage.New(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	if err := storage.Migrate(db); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	store, err := vectorstore.NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}

	fx := &pipelineFixture{
		docRepo:   storage.NewDocumentRepo(db),
		chunkRepo: storage.NewChunkRepo(db),
		store:     store,
		embedder:  &fakeEmbedder{},
	}
	collections := Collections{Filings: "filings", Transcripts: "transcripts"}
	fx.pipeline = NewPipeline(fx.docRepo, fx.chunkRepo, fx.embedder, store, collections, NewChunker(chunkSize, 0.1))
	return fx
}

func sampleDoc(text string) Document {
	return Document{
		Ticker:     "AAPL",
		FilingDate: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		ReportType: domain.ReportTypeFiling,
		Text:       text,
		SourceURL:  "https://example.com/10-q",
	}
}

func TestIngestDocument(t *testing.T) {
	fx := newPipelineFixture(t, 100)
	ctx := context.Background()
	text := strings.Repeat("Revenue grew twelve percent in the quarter.\n", 8)

	documentID, err := fx.pipeline.IngestDocument(ctx, sampleDoc(text))
	if err != nil {
		t.Fatalf("IngestDocument() error = %v", err)
	}

	doc, err := fx.docRepo.GetByID(ctx, documentID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if doc.Ticker != "AAPL" {
		t.Errorf("ticker = %q", doc.Ticker)
	}

	chunks, err := fx.chunkRepo.ListByDocument(ctx, documentID)
	if err != nil {
		t.Fatalf("ListByDocument() error = %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want several", len(chunks))
	}

	// Vector records landed in the filings collection with metadata.
	results, err := fx.store.Search(ctx, "filings", []float32{1, 0, 0}, 50, domain.Filters{Ticker: "AAPL"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != len(chunks) {
		t.Errorf("vector records = %d, chunks = %d", len(results), len(chunks))
	}
}

func TestIngestDocument_IdempotentByContentHash(t *testing.T) {
	fx := newPipelineFixture(t, 100)
	ctx := context.Background()
	doc := sampleDoc(strings.Repeat("Margins held steady across segments.\n", 8))

	first, err := fx.pipeline.IngestDocument(ctx, doc)
	if err != nil {
		t.Fatalf("first IngestDocument() error = %v", err)
	}
	textsAfterFirst := fx.embedder.texts

	// Same content under a different source is a no-op.
	doc.SourceURL = "https://example.com/mirror"
	second, err := fx.pipeline.IngestDocument(ctx, doc)
	if err != nil {
		t.Fatalf("second IngestDocument() error = %v", err)
	}
	if second != first {
		t.Errorf("re-ingestion produced a new document: %s vs %s", second, first)
	}
	if fx.embedder.texts != textsAfterFirst {
		t.Error("re-ingestion called the embedding provider")
	}
}

func TestIngestDocument_NormalizesBeforeHashing(t *testing.T) {
	fx := newPipelineFixture(t, 100)
	ctx := context.Background()

	crlf := sampleDoc("Revenue grew.\r\n\r\nMargins held.\r\n")
	lf := sampleDoc("Revenue grew.\n\nMargins held.\n")

	first, err := fx.pipeline.IngestDocument(ctx, crlf)
	if err != nil {
		t.Fatalf("IngestDocument() error = %v", err)
	}
	second, err := fx.pipeline.IngestDocument(ctx, lf)
	if err != nil {
		t.Fatalf("IngestDocument() error = %v", err)
	}
	if first != second {
		t.Error("equivalent content under different line endings was ingested twice")
	}
}

func TestIngestDocument_Validation(t *testing.T) {
	fx := newPipelineFixture(t, 100)
	ctx := context.Background()

	tests := []struct {
		name string
		doc  Document
	}{
		{name: "missing ticker", doc: Document{ReportType: domain.ReportTypeFiling, Text: "x"}},
		{name: "bad report type", doc: Document{Ticker: "AAPL", ReportType: "memo", Text: "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fx.pipeline.IngestDocument(ctx, tt.doc)
			if !errors.Is(err, domain.ErrConfiguration) {
				t.Errorf("error = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestIngestDocument_ProviderFailureLeavesNothing(t *testing.T) {
	fx := newPipelineFixture(t, 100)
	fx.embedder.fail = true
	ctx := context.Background()

	_, err := fx.pipeline.IngestDocument(ctx, sampleDoc(strings.Repeat("Guidance was raised.\n", 10)))
	if err == nil {
		t.Fatal("IngestDocument() succeeded with a failing provider")
	}

	// Nothing half indexed: the same document ingests cleanly afterwards.
	fx.embedder.fail = false
	if _, err := fx.pipeline.IngestDocument(ctx, sampleDoc(strings.Repeat("Guidance was raised.\n", 10))); err != nil {
		t.Fatalf("re-ingestion after failure error = %v", err)
	}
}

func TestDeleteDocument(t *testing.T) {
	fx := newPipelineFixture(t, 100)
	ctx := context.Background()

	documentID, err := fx.pipeline.IngestDocument(ctx, sampleDoc(strings.Repeat("Cloud revenue accelerated.\n", 8)))
	if err != nil {
		t.Fatalf("IngestDocument() error = %v", err)
	}

	if err := fx.pipeline.DeleteDocument(ctx, documentID); err != nil {
		t.Fatalf("DeleteDocument() error = %v", err)
	}

	if _, err := fx.docRepo.GetByID(ctx, documentID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("document still present: %v", err)
	}
	results, err := fx.store.Search(ctx, "filings", []float32{1, 0, 0}, 10, domain.Filters{})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 0 {
		t.Errorf("%d vector records survived deletion", len(results))
	}

	if err := fx.pipeline.DeleteDocument(ctx, "absent"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("DeleteDocument(absent) error = %v, want ErrNotFound", err)
	}
}

func TestIngestDocument_TranscriptGoesToTranscriptsCollection(t *testing.T) {
	fx := newPipelineFixture(t, 100)
	ctx := context.Background()

	doc := sampleDoc("# Q3 Call\n\nRevenue **grew** nicely this quarter, management said.\n")
	doc.ReportType = domain.ReportTypeTranscript
	doc.Markdown = true

	if _, err := fx.pipeline.IngestDocument(ctx, doc); err != nil {
		t.Fatalf("IngestDocument() error = %v", err)
	}

	results, err := fx.store.Search(ctx, "transcripts", []float32{1, 0, 0}, 10, domain.Filters{})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) == 0 {
		t.Fatal("transcript records missing from transcripts collection")
	}
	if strings.Contains(results[0].Record.Text, "**") {
		t.Errorf("markdown not flattened: %q", results[0].Record.Text)
	}

	filings, err := fx.store.Search(ctx, "filings", []float32{1, 0, 0}, 10, domain.Filters{})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(filings) != 0 {
		t.Error("transcript leaked into the filings collection")
	}
}
