// Package retrieval turns a query string into ranked, deduplicated
// passages from the vector store.
package retrieval

import (
	"context"
	"fmt"
	"sort"

	"filings-advisor/internal/contextutil"
	"filings-advisor/internal/domain"
	"filings-advisor/internal/ingest"
	"filings-advisor/internal/vectorstore"
)

// QueryEmbedder is the embedding capability the retriever consumes.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text, contentHash string) ([]float32, error)
	Model() string
}

// Retriever embeds queries and performs ranked, filtered similarity
// search with overlap deduplication.
type Retriever struct {
	embedder    QueryEmbedder
	vectorStore vectorstore.VectorStore
	collections ingest.Collections
	overfetch   int
}

// NewRetriever creates a Retriever. ingestModel is the embedding model
// identifier the index was built with; a mismatch with the embedder makes
// the vector spaces incomparable and fails fast as a configuration error.
func NewRetriever(
	embedder QueryEmbedder,
	vectorStore vectorstore.VectorStore,
	collections ingest.Collections,
	ingestModel string,
	overfetch int,
) (*Retriever, error) {
	if embedder.Model() != ingestModel {
		return nil, domain.ConfigurationErrorf(
			"query embedding model %q does not match ingestion model %q",
			embedder.Model(), ingestModel)
	}
	if overfetch < 1 {
		overfetch = 3
	}
	return &Retriever{
		embedder:    embedder,
		vectorStore: vectorStore,
		collections: collections,
		overfetch:   overfetch,
	}, nil
}

// Retrieve returns up to k passages ranked by descending similarity.
// The store is over-fetched so that deduplication of overlapping chunk
// spans still leaves k results when enough distinct regions match.
// Ties break by more recent filing date, then document ID, then sequence.
func (r *Retriever) Retrieve(ctx context.Context, queryText string, filters domain.Filters, k int) ([]domain.RetrievedPassage, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if queryText == "" {
		return nil, fmt.Errorf("query text must not be empty")
	}
	if k <= 0 {
		k = 5
	}

	queryVector, err := r.embedder.EmbedQuery(ctx, queryText, ingest.HashText(queryText))
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	// A report-type filter pins the collection; otherwise search every
	// namespace and merge.
	collections := []string{r.collections.Filings, r.collections.Transcripts}
	if filters.ReportType != "" {
		collections = []string{r.collections.For(filters.ReportType)}
	}

	kPrime := k * r.overfetch
	var candidates []vectorstore.SearchResult
	for _, collection := range collections {
		results, err := r.vectorStore.Search(ctx, collection, queryVector, kPrime, filters)
		if err != nil {
			return nil, fmt.Errorf("search in collection %s failed: %w", collection, err)
		}
		candidates = append(candidates, results...)
	}

	sortCandidates(candidates)
	passages := dedupOverlaps(candidates)
	if len(passages) > k {
		passages = passages[:k]
	}

	logger.InfoContext(ctx, "retrieval completed",
		"query_length", len(queryText), "k", k, "candidates", len(candidates), "returned", len(passages))
	return passages, nil
}

// sortCandidates orders merged results deterministically: score
// descending, filing date descending, document ID, then sequence.
func sortCandidates(candidates []vectorstore.SearchResult) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Record.FilingDate.Equal(b.Record.FilingDate) {
			return a.Record.FilingDate.After(b.Record.FilingDate)
		}
		if a.Record.DocumentID != b.Record.DocumentID {
			return a.Record.DocumentID < b.Record.DocumentID
		}
		return a.Record.Seq < b.Record.Seq
	})
}

// dedupOverlaps drops candidates whose chunk span overlaps an already
// kept passage from the same document. With overlap below half a chunk,
// only immediate sequence neighbors can share text, so adjacency in seq
// is the overlap test. Candidates must already be sorted best-first; the
// highest-scoring representative of each region survives.
func dedupOverlaps(candidates []vectorstore.SearchResult) []domain.RetrievedPassage {
	kept := make(map[string][]int) // document ID -> kept seqs
	var passages []domain.RetrievedPassage

	for _, cand := range candidates {
		rec := cand.Record
		overlaps := false
		for _, seq := range kept[rec.DocumentID] {
			if abs(seq-rec.Seq) <= 1 {
				overlaps = true
				break
			}
		}
		if overlaps {
			continue
		}
		kept[rec.DocumentID] = append(kept[rec.DocumentID], rec.Seq)
		passages = append(passages, domain.RetrievedPassage{
			ChunkID:    rec.ChunkID,
			DocumentID: rec.DocumentID,
			Seq:        rec.Seq,
			Ticker:     rec.Ticker,
			ReportType: rec.ReportType,
			FilingDate: rec.FilingDate,
			Text:       rec.Text,
			Score:      cand.Score,
		})
	}
	return passages
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
