package storage

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_conversation_store.go -package=mocks filings-advisor/internal/storage ConversationStore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"filings-advisor/internal/domain"
)

// ConversationStore defines the interface for conversation persistence.
type ConversationStore interface {
	// Create inserts a conversation and its seed messages in one transaction.
	Create(ctx context.Context, conv *ConversationRecord, seed []*MessageRecord) error
	// Get returns a conversation by ID. Returns ErrNotFound if not found.
	Get(ctx context.Context, id string) (*ConversationRecord, error)
	// ListByUser returns a user's conversations ordered by updated_at descending.
	ListByUser(ctx context.Context, userID string) ([]*ConversationRecord, error)
	// UpdateSummary replaces the summary and bumps updated_at.
	UpdateSummary(ctx context.Context, id, summary string) error
	// Append inserts a message and bumps the conversation's updated_at in the
	// same transaction. Returns domain.ErrConsistency if the conversation
	// does not exist.
	Append(ctx context.Context, msg *MessageRecord) error
	// AppendAll inserts several messages of one conversation and bumps
	// updated_at in a single transaction: all messages land or none do.
	AppendAll(ctx context.Context, msgs []*MessageRecord) error
	// ListMessages returns a conversation's messages in causal (append) order.
	// limit <= 0 returns the full history.
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*MessageRecord, error)
}

// ConversationRepo provides methods for conversation operations.
// It implements the ConversationStore interface.
type ConversationRepo struct {
	db *sql.DB
}

// NewConversationRepo creates a new ConversationRepo.
func NewConversationRepo(db *sql.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// Create inserts a conversation and its seed messages in one transaction.
func (r *ConversationRepo) Create(ctx context.Context, conv *ConversationRecord, seed []*MessageRecord) error {
	tickers, err := json.Marshal(conv.Tickers)
	if err != nil {
		return fmt.Errorf("failed to marshal tickers: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, summary, tickers, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.UserID, conv.Summary, string(tickers), conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}

	for _, msg := range seed {
		if err := insertMessage(ctx, tx, msg); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit conversation: %w", err)
	}
	return nil
}

// Get returns a conversation by ID. Returns ErrNotFound if not found.
func (r *ConversationRepo) Get(ctx context.Context, id string) (*ConversationRecord, error) {
	return scanConversation(r.db.QueryRowContext(ctx,
		`SELECT id, user_id, summary, tickers, created_at, updated_at FROM conversations WHERE id = ?`, id))
}

// ListByUser returns a user's conversations ordered by updated_at descending.
func (r *ConversationRepo) ListByUser(ctx context.Context, userID string) ([]*ConversationRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, summary, tickers, created_at, updated_at
		 FROM conversations WHERE user_id = ? ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var convs []*ConversationRecord
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return convs, nil
}

// UpdateSummary replaces the summary and bumps updated_at.
func (r *ConversationRepo) UpdateSummary(ctx context.Context, id, summary string) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE conversations SET summary = ?, updated_at = ? WHERE id = ?",
		summary, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update summary: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Append inserts a message and bumps the conversation's updated_at in the
// same transaction: both succeed or both fail.
func (r *ConversationRepo) Append(ctx context.Context, msg *MessageRecord) error {
	return r.AppendAll(ctx, []*MessageRecord{msg})
}

// AppendAll inserts several messages of one conversation and bumps
// updated_at in a single transaction: all messages land or none do.
func (r *ConversationRepo) AppendAll(ctx context.Context, msgs []*MessageRecord) error {
	if len(msgs) == 0 {
		return nil
	}
	conversationID := msgs[0].ConversationID
	for _, msg := range msgs {
		if msg.ConversationID != conversationID {
			return fmt.Errorf("%w: messages span multiple conversations", domain.ErrConsistency)
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Referential integrity is enforced at write time, not deferred.
	var exists int
	err = tx.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM conversations WHERE id = ?", conversationID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check conversation: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: append to missing conversation %s", domain.ErrConsistency, conversationID)
	}

	latest := msgs[0].CreatedAt
	for _, msg := range msgs {
		if err := insertMessage(ctx, tx, msg); err != nil {
			return err
		}
		if msg.CreatedAt.After(latest) {
			latest = msg.CreatedAt
		}
	}

	// updated_at is monotonically non-decreasing: never move it backwards.
	_, err = tx.ExecContext(ctx,
		"UPDATE conversations SET updated_at = MAX(updated_at, ?) WHERE id = ?",
		latest, conversationID,
	)
	if err != nil {
		return fmt.Errorf("failed to bump updated_at: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit append: %w", domain.ErrConsistency, err)
	}
	return nil
}

// ListMessages returns a conversation's messages in causal (append) order.
func (r *ConversationRepo) ListMessages(ctx context.Context, conversationID string, limit int) ([]*MessageRecord, error) {
	query := `SELECT seq, id, conversation_id, role, content, created_at, metadata
		 FROM conversation_messages WHERE conversation_id = ? ORDER BY seq`
	args := []any{conversationID}
	if limit > 0 {
		// Most recent N, returned in chronological order.
		query = `SELECT seq, id, conversation_id, role, content, created_at, metadata FROM (
			SELECT seq, id, conversation_id, role, content, created_at, metadata
			FROM conversation_messages WHERE conversation_id = ? ORDER BY seq DESC LIMIT ?
		) ORDER BY seq`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var msgs []*MessageRecord
	for rows.Next() {
		var msg MessageRecord
		var role, metadata string
		if err := rows.Scan(&msg.Seq, &msg.ID, &msg.ConversationID, &role, &msg.Content, &msg.CreatedAt, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = MessageRole(role)
		if err := json.Unmarshal([]byte(metadata), &msg.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message metadata: %w", err)
		}
		msgs = append(msgs, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return msgs, nil
}

func insertMessage(ctx context.Context, tx *sql.Tx, msg *MessageRecord) error {
	if !msg.Role.Valid() {
		return fmt.Errorf("%w: invalid message role %q", domain.ErrConsistency, msg.Role)
	}
	metadata := msg.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal message metadata: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO conversation_messages (id, conversation_id, role, content, created_at, metadata)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, string(msg.Role), msg.Content, msg.CreatedAt, string(raw),
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	if seq, err := res.LastInsertId(); err == nil {
		msg.Seq = seq
	}
	return nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanConversation.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*ConversationRecord, error) {
	var conv ConversationRecord
	var tickers string
	err := row.Scan(&conv.ID, &conv.UserID, &conv.Summary, &tickers, &conv.CreatedAt, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan conversation: %w", err)
	}
	if err := json.Unmarshal([]byte(tickers), &conv.Tickers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tickers: %w", err)
	}
	return &conv, nil
}
