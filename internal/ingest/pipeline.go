package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"filings-advisor/internal/contextutil"
	"filings-advisor/internal/domain"
	"filings-advisor/internal/embed"
	"filings-advisor/internal/storage"
	"filings-advisor/internal/vectorstore"
)

// Embedder is the embedding capability the pipeline consumes.
type Embedder interface {
	EmbedBatch(ctx context.Context, inputs []embed.Input) ([][]float32, error)
	Model() string
}

// Collections names the vector namespaces per report type.
type Collections struct {
	Filings     string
	Transcripts string
}

// For returns the collection for a report type.
func (c Collections) For(rt domain.ReportType) string {
	if rt == domain.ReportTypeTranscript {
		return c.Transcripts
	}
	return c.Filings
}

// Pipeline orchestrates ingestion: normalize, chunk, embed (cache-checked)
// and persist into both the relational store and the vector store.
type Pipeline struct {
	docRepo     storage.DocumentStore
	chunkRepo   storage.ChunkStore
	embedder    Embedder
	vectorStore vectorstore.VectorStore
	collections Collections
	chunker     *Chunker
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(
	docRepo storage.DocumentStore,
	chunkRepo storage.ChunkStore,
	embedder Embedder,
	vectorStore vectorstore.VectorStore,
	collections Collections,
	chunker *Chunker,
) *Pipeline {
	return &Pipeline{
		docRepo:     docRepo,
		chunkRepo:   chunkRepo,
		embedder:    embedder,
		vectorStore: vectorStore,
		collections: collections,
		chunker:     chunker,
	}
}

// IngestDocument indexes one document and returns its identifier.
// Re-submitting identical content is a no-op returning the existing ID.
// Any provider or storage failure aborts the whole document; nothing is
// left partially indexed, and re-ingestion is the recovery path.
func (p *Pipeline) IngestDocument(ctx context.Context, doc Document) (string, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if doc.Ticker == "" {
		return "", fmt.Errorf("%w: document ticker is required", domain.ErrConfiguration)
	}
	if !doc.ReportType.Valid() {
		return "", fmt.Errorf("%w: invalid report type %q", domain.ErrConfiguration, doc.ReportType)
	}

	text := doc.Text
	if doc.Markdown {
		text = FlattenMarkdown([]byte(text))
	}
	text = NormalizeText(text)

	docHash := HashText(text)
	if existingID, err := p.docRepo.FindByContentHash(ctx, docHash); err == nil {
		logger.InfoContext(ctx, "document already indexed, skipping", "document_id", existingID, "ticker", doc.Ticker)
		return existingID, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("failed to check existing document: %w", err)
	}

	documentID := uuid.New().String()
	record := &storage.DocumentRecord{
		ID:          documentID,
		Ticker:      doc.Ticker,
		FilingDate:  doc.FilingDate.UTC(),
		ReportType:  doc.ReportType,
		Text:        text,
		SourceURL:   doc.SourceURL,
		ContentHash: docHash,
		CreatedAt:   time.Now().UTC(),
	}

	chunks := p.chunker.Chunk(text)
	if len(chunks) == 0 {
		logger.WarnContext(ctx, "no chunks generated", "ticker", doc.Ticker, "document_id", documentID)
		if err := p.docRepo.Insert(ctx, record); err != nil {
			return "", err
		}
		return documentID, nil
	}

	inputs := make([]embed.Input, len(chunks))
	chunkRecords := make([]*storage.ChunkRecord, len(chunks))
	for i, chunk := range chunks {
		inputs[i] = embed.Input{ContentHash: chunk.ContentHash, Text: chunk.Text}
		chunkRecords[i] = &storage.ChunkRecord{
			ID:          uuid.New().String(),
			DocumentID:  documentID,
			Seq:         chunk.Seq,
			Text:        chunk.Text,
			ContentHash: chunk.ContentHash,
		}
	}

	vectors, err := p.embedder.EmbedBatch(ctx, inputs)
	if err != nil {
		return "", fmt.Errorf("failed to embed document %s: %w", doc.Ticker, err)
	}

	if err := p.docRepo.Insert(ctx, record); err != nil {
		return "", err
	}
	if err := p.chunkRepo.InsertBatch(ctx, chunkRecords); err != nil {
		_ = p.docRepo.Delete(ctx, documentID)
		return "", err
	}

	vectorRecords := make([]vectorstore.Record, len(chunks))
	for i, chunk := range chunkRecords {
		vectorRecords[i] = vectorstore.Record{
			ChunkID:    chunk.ID,
			DocumentID: documentID,
			Seq:        chunk.Seq,
			Vector:     vectors[i],
			Ticker:     doc.Ticker,
			ReportType: doc.ReportType,
			FilingDate: record.FilingDate,
			Text:       chunk.Text,
		}
	}

	collection := p.collections.For(doc.ReportType)
	if err := p.vectorStore.Upsert(ctx, collection, vectorRecords); err != nil {
		// Roll back the relational side so the document is absent rather
		// than half indexed; chunks cascade.
		_ = p.docRepo.Delete(ctx, documentID)
		return "", fmt.Errorf("failed to store vectors for document %s: %w", documentID, err)
	}

	logger.InfoContext(ctx, "document ingested",
		"document_id", documentID, "ticker", doc.Ticker, "report_type", string(doc.ReportType),
		"chunks", len(chunks), "collection", collection)
	return documentID, nil
}

// DeleteDocument removes a document from both stores.
func (p *Pipeline) DeleteDocument(ctx context.Context, documentID string) error {
	doc, err := p.docRepo.GetByID(ctx, documentID)
	if err != nil {
		return err
	}

	collection := p.collections.For(doc.ReportType)
	if err := p.vectorStore.DeleteByDocument(ctx, collection, documentID); err != nil {
		return err
	}
	return p.docRepo.Delete(ctx, documentID)
}
