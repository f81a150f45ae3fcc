package storage

import (
	"time"

	"filings-advisor/internal/domain"
)

// DocumentRecord represents an ingested disclosure document.
// Documents are immutable once ingested; re-ingestion happens under a new
// identifier after deleting the old one.
type DocumentRecord struct {
	ID          string
	Ticker      string
	FilingDate  time.Time
	ReportType  domain.ReportType
	Text        string
	SourceURL   string
	ContentHash string // SHA-256 hex of normalized text
	CreatedAt   time.Time
}

// ChunkRecord represents a passage of a document, the unit of embedding
// and retrieval.
type ChunkRecord struct {
	ID          string // UUID (same as vector store point ID)
	DocumentID  string
	Seq         int    // Sequence index within the document (starts at 0)
	Text        string
	ContentHash string // SHA-256 hex of normalized chunk text
}

// MessageRole is the closed set of conversation message roles.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Valid reports whether r is one of the known roles.
func (r MessageRole) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// ConversationRecord represents a stored conversation.
type ConversationRecord struct {
	ID        string
	UserID    string
	Summary   string
	Tickers   []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MessageRecord represents one message in a conversation's append-only
// history. Seq is assigned by the database and defines the causal order.
type MessageRecord struct {
	Seq            int64
	ID             string
	ConversationID string
	Role           MessageRole
	Content        string
	CreatedAt      time.Time
	Metadata       map[string]any
}
