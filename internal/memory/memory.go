// Package memory manages conversation records and their ordered message
// history, and assembles budget-bounded prompt context.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"filings-advisor/internal/storage"
)

// Manager coordinates conversation persistence. Appends within one
// conversation are serialized through a per-conversation mutex so two
// concurrent callers never interleave their messages out of causal order.
type Manager struct {
	store storage.ConversationStore

	// locks holds one mutex per conversation this process has written to.
	// Entries are never pruned; the map grows with the number of distinct
	// conversations touched, a few dozen bytes each.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a Manager backed by the given store.
func NewManager(store storage.ConversationStore) *Manager {
	return &Manager{
		store: store,
		locks: make(map[string]*sync.Mutex),
	}
}

func (m *Manager) lock(conversationID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[conversationID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[conversationID] = l
	}
	return l
}

// CreateConversation creates a conversation for the user and seeds it with
// a system message naming the tickers it concerns.
func (m *Manager) CreateConversation(ctx context.Context, userID, summary string, tickers []string) (*storage.ConversationRecord, error) {
	if userID == "" {
		return nil, fmt.Errorf("user ID must not be empty")
	}

	now := time.Now().UTC()
	conv := &storage.ConversationRecord{
		ID:        uuid.New().String(),
		UserID:    userID,
		Summary:   summary,
		Tickers:   tickers,
		CreatedAt: now,
		UpdatedAt: now,
	}

	content := "You are a financial research assistant answering questions about company filings and earnings call transcripts."
	if len(tickers) > 0 {
		content += " This conversation concerns: " + strings.Join(tickers, ", ") + "."
	}
	seed := []*storage.MessageRecord{{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Role:           storage.RoleSystem,
		Content:        content,
		CreatedAt:      now,
	}}

	if err := m.store.Create(ctx, conv, seed); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

// GetConversation returns a conversation by ID.
func (m *Manager) GetConversation(ctx context.Context, id string) (*storage.ConversationRecord, error) {
	return m.store.Get(ctx, id)
}

// ListConversations returns a user's conversations, most recently
// active first.
func (m *Manager) ListConversations(ctx context.Context, userID string) ([]*storage.ConversationRecord, error) {
	return m.store.ListByUser(ctx, userID)
}

// UpdateSummary replaces a conversation's summary.
func (m *Manager) UpdateSummary(ctx context.Context, id, summary string) error {
	return m.store.UpdateSummary(ctx, id, summary)
}

// LoadHistory returns the conversation's full message history in append
// order. Returns storage.ErrNotFound if the conversation does not exist.
func (m *Manager) LoadHistory(ctx context.Context, conversationID string) ([]*storage.MessageRecord, error) {
	if _, err := m.store.Get(ctx, conversationID); err != nil {
		return nil, err
	}
	msgs, err := m.store.ListMessages(ctx, conversationID, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return msgs, nil
}

// Append appends a message to the conversation and bumps its updated_at
// atomically. The returned record carries the assigned sequence number.
func (m *Manager) Append(ctx context.Context, conversationID string, role storage.MessageRole, content string, metadata map[string]any) (*storage.MessageRecord, error) {
	l := m.lock(conversationID)
	l.Lock()
	defer l.Unlock()

	msg := &storage.MessageRecord{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
		Metadata:       metadata,
	}
	if err := m.store.Append(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// AppendExchange persists a user message and the assistant reply as one
// causal unit in a single transaction, so a retry after failure cannot
// leave a half-written exchange behind.
func (m *Manager) AppendExchange(ctx context.Context, conversationID, userContent, replyContent string, replyMetadata map[string]any) (*storage.MessageRecord, *storage.MessageRecord, error) {
	l := m.lock(conversationID)
	l.Lock()
	defer l.Unlock()

	now := time.Now().UTC()
	userMsg := &storage.MessageRecord{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           storage.RoleUser,
		Content:        userContent,
		CreatedAt:      now,
	}
	replyMsg := &storage.MessageRecord{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           storage.RoleAssistant,
		Content:        replyContent,
		CreatedAt:      now,
		Metadata:       replyMetadata,
	}
	if err := m.store.AppendAll(ctx, []*storage.MessageRecord{userMsg, replyMsg}); err != nil {
		return nil, nil, err
	}
	return userMsg, replyMsg, nil
}
