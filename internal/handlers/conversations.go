package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"filings-advisor/internal/contextutil"
	"filings-advisor/internal/storage"
)

// MemoryReader is the conversation read access the handler consumes.
type MemoryReader interface {
	ListConversations(ctx context.Context, userID string) ([]*storage.ConversationRecord, error)
	LoadHistory(ctx context.Context, conversationID string) ([]*storage.MessageRecord, error)
}

// ConversationsHandler handles HTTP requests for conversation listings.
type ConversationsHandler struct {
	mem MemoryReader
}

// NewConversationsHandler creates a new ConversationsHandler.
func NewConversationsHandler(mem MemoryReader) *ConversationsHandler {
	return &ConversationsHandler{mem: mem}
}

// ConversationResponse represents one conversation in a listing.
type ConversationResponse struct {
	ID        string    `json:"id"`
	Summary   string    `json:"summary"`
	Tickers   []string  `json:"tickers"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MessageResponse represents one message in a history listing.
type MessageResponse struct {
	ID        string         `json:"id"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	CreatedAt time.Time      `json:"created_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// List returns a user's conversations, most recently active first.
func (h *ConversationsHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	convs, err := h.mem.ListConversations(ctx, userID)
	if err != nil {
		logger.ErrorContext(ctx, "failed to list conversations", "user_id", userID, "error", err)
		writeError(w, statusForError(err), "Failed to list conversations")
		return
	}

	resp := make([]ConversationResponse, 0, len(convs))
	for _, conv := range convs {
		resp = append(resp, ConversationResponse{
			ID:        conv.ID,
			Summary:   conv.Summary,
			Tickers:   conv.Tickers,
			CreatedAt: conv.CreatedAt,
			UpdatedAt: conv.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// Messages returns a conversation's full history in append order.
func (h *ConversationsHandler) Messages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	conversationID := chi.URLParam(r, "id")
	msgs, err := h.mem.LoadHistory(ctx, conversationID)
	if err != nil {
		logger.ErrorContext(ctx, "failed to load history", "conversation_id", conversationID, "error", err)
		writeError(w, statusForError(err), "Failed to load conversation history")
		return
	}

	resp := make([]MessageResponse, 0, len(msgs))
	for _, msg := range msgs {
		resp = append(resp, MessageResponse{
			ID:        msg.ID,
			Role:      string(msg.Role),
			Content:   msg.Content,
			CreatedAt: msg.CreatedAt,
			Metadata:  msg.Metadata,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
