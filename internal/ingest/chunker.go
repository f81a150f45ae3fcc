package ingest

import (
	"strings"
	"unicode/utf8"
)

// Chunker splits normalized document text into overlapping passages sized
// for the embedding model's input limit. Splits prefer paragraph, then
// line, then sentence boundaries near the target size; when no acceptable
// boundary exists within the tolerance window it cuts hard. Output is
// deterministic for identical input and configuration, which is what
// makes re-ingestion detection by content hash possible.
type Chunker struct {
	size      int // target chunk size in runes
	overlap   int // runes shared between consecutive chunks
	tolerance int // boundary search window below the target size
}

// NewChunker creates a chunker with the given target size (runes) and
// overlap fraction in [0, 0.5).
func NewChunker(size int, overlapFrac float64) *Chunker {
	if size <= 0 {
		size = 4000
	}
	if overlapFrac < 0 || overlapFrac >= 0.5 {
		overlapFrac = 0.1
	}
	overlap := int(float64(size) * overlapFrac)
	tolerance := size / 5
	if tolerance < 1 {
		tolerance = 1
	}
	return &Chunker{size: size, overlap: overlap, tolerance: tolerance}
}

// Chunk splits text into an ordered sequence of chunks covering the whole
// document with no gaps. Empty or whitespace-only input produces zero
// chunks, not an error.
func (c *Chunker) Chunk(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	var chunks []Chunk
	start := 0

	for start < len(runes) {
		if len(runes)-start <= c.size {
			chunks = appendChunk(chunks, string(runes[start:]))
			break
		}

		end := start + c.size
		splitPoint := c.boundaryBefore(runes, start, end)

		chunks = appendChunk(chunks, string(runes[start:splitPoint]))

		// Consecutive chunks share the configured overlap, but every
		// iteration must advance.
		next := splitPoint - c.overlap
		if next <= start {
			next = splitPoint
		}
		start = next
	}

	return chunks
}

// boundaryBefore finds the best split point at or before end, searching
// the tolerance window for a paragraph break, then a line break, then a
// sentence end. Without one it returns end (hard cut).
func (c *Chunker) boundaryBefore(runes []rune, start, end int) int {
	windowStart := end - c.tolerance
	if windowStart < start+1 {
		windowStart = start + 1
	}
	window := string(runes[windowStart:end])

	if i := strings.LastIndex(window, "\n\n"); i != -1 {
		return windowStart + utf8.RuneCountInString(window[:i]) + 2
	}
	if i := strings.LastIndex(window, "\n"); i != -1 {
		return windowStart + utf8.RuneCountInString(window[:i]) + 1
	}
	if i := strings.LastIndex(window, ". "); i != -1 {
		return windowStart + utf8.RuneCountInString(window[:i]) + 2
	}
	return end
}

func appendChunk(chunks []Chunk, text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return chunks
	}
	return append(chunks, Chunk{
		Seq:         len(chunks),
		Text:        text,
		ContentHash: HashText(text),
	})
}
