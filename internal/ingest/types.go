package ingest

import (
	"crypto/sha256"
	"fmt"
	"time"

	"filings-advisor/internal/domain"
)

// Chunk is one passage produced by the Chunker.
type Chunk struct {
	Seq         int    // Sequence index within the document (starts at 0)
	Text        string // Chunk text content
	ContentHash string // SHA-256 hex of the chunk text
}

// Document is an ingestion request: one normalized disclosure to index.
type Document struct {
	Ticker     string
	FilingDate time.Time
	ReportType domain.ReportType
	Text       string
	SourceURL  string
	Markdown   bool // earnings transcripts arrive as markdown
}

// HashText returns the SHA-256 hex digest of text. It is the cache and
// dedup key: identical normalized text always hashes identically.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%x", sum)
}
