package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"filings-advisor/internal/domain"
)

func sampleConversation(id string) *ConversationRecord {
	now := time.Now().UTC()
	return &ConversationRecord{
		ID:        id,
		UserID:    "user-1",
		Summary:   "Apple revenue questions",
		Tickers:   []string{"AAPL"},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func seedMessage(conversationID string) *MessageRecord {
	return &MessageRecord{
		ID:             "msg-seed-" + conversationID,
		ConversationID: conversationID,
		Role:           RoleSystem,
		Content:        "This conversation concerns: AAPL.",
		CreatedAt:      time.Now().UTC(),
	}
}

func TestConversationRepo_CreateAndGet(t *testing.T) {
	db := newTestDB(t)
	repo := NewConversationRepo(db)
	ctx := context.Background()

	conv := sampleConversation("conv-1")
	if err := repo.Create(ctx, conv, []*MessageRecord{seedMessage("conv-1")}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repo.Get(ctx, "conv-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.UserID != "user-1" || got.Summary != conv.Summary {
		t.Errorf("Get() = %+v, want %+v", got, conv)
	}
	if len(got.Tickers) != 1 || got.Tickers[0] != "AAPL" {
		t.Errorf("tickers = %v, want [AAPL]", got.Tickers)
	}

	msgs, err := repo.ListMessages(ctx, "conv-1", 0)
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(msgs) != 1 || msgs[0].Role != RoleSystem {
		t.Errorf("seed message missing: %+v", msgs)
	}
}

func TestConversationRepo_Get_NotFound(t *testing.T) {
	db := newTestDB(t)
	repo := NewConversationRepo(db)

	_, err := repo.Get(context.Background(), "absent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestConversationRepo_AppendBumpsUpdatedAt(t *testing.T) {
	db := newTestDB(t)
	repo := NewConversationRepo(db)
	ctx := context.Background()

	conv := sampleConversation("conv-1")
	if err := repo.Create(ctx, conv, nil); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	later := conv.UpdatedAt.Add(2 * time.Second)
	msg := &MessageRecord{
		ID:             "msg-1",
		ConversationID: "conv-1",
		Role:           RoleUser,
		Content:        "what was revenue",
		CreatedAt:      later,
	}
	if err := repo.Append(ctx, msg); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if msg.Seq == 0 {
		t.Error("Append() did not assign a sequence number")
	}

	got, err := repo.Get(ctx, "conv-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !got.UpdatedAt.Equal(later) {
		t.Errorf("updated_at = %v, want %v", got.UpdatedAt, later)
	}
	if got.UpdatedAt.Before(got.CreatedAt) {
		t.Error("updated_at moved before created_at")
	}
}

func TestConversationRepo_AppendToMissingConversation(t *testing.T) {
	db := newTestDB(t)
	repo := NewConversationRepo(db)

	err := repo.Append(context.Background(), &MessageRecord{
		ID:             "msg-1",
		ConversationID: "absent",
		Role:           RoleUser,
		Content:        "hello",
		CreatedAt:      time.Now().UTC(),
	})
	if !errors.Is(err, domain.ErrConsistency) {
		t.Errorf("Append() error = %v, want ErrConsistency", err)
	}
}

func TestConversationRepo_AppendRejectsInvalidRole(t *testing.T) {
	db := newTestDB(t)
	repo := NewConversationRepo(db)
	ctx := context.Background()

	if err := repo.Create(ctx, sampleConversation("conv-1"), nil); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	err := repo.Append(ctx, &MessageRecord{
		ID:             "msg-1",
		ConversationID: "conv-1",
		Role:           "moderator",
		Content:        "hello",
		CreatedAt:      time.Now().UTC(),
	})
	if err == nil {
		t.Error("Append() accepted a role outside the closed enumeration")
	}
}

func TestConversationRepo_AppendAllAtomic(t *testing.T) {
	db := newTestDB(t)
	repo := NewConversationRepo(db)
	ctx := context.Background()

	if err := repo.Create(ctx, sampleConversation("conv-1"), nil); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	now := time.Now().UTC()
	err := repo.AppendAll(ctx, []*MessageRecord{
		{ID: "msg-1", ConversationID: "conv-1", Role: RoleUser, Content: "q", CreatedAt: now},
		{ID: "msg-2", ConversationID: "conv-1", Role: "bogus", Content: "a", CreatedAt: now},
	})
	if err == nil {
		t.Fatal("AppendAll() accepted an invalid message")
	}

	// Neither message may have landed.
	msgs, listErr := repo.ListMessages(ctx, "conv-1", 0)
	if listErr != nil {
		t.Fatalf("ListMessages() error = %v", listErr)
	}
	if len(msgs) != 0 {
		t.Errorf("partial exchange persisted: %d messages", len(msgs))
	}
}

func TestConversationRepo_AppendAllExchange(t *testing.T) {
	db := newTestDB(t)
	repo := NewConversationRepo(db)
	ctx := context.Background()

	if err := repo.Create(ctx, sampleConversation("conv-1"), nil); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	now := time.Now().UTC()
	err := repo.AppendAll(ctx, []*MessageRecord{
		{ID: "msg-1", ConversationID: "conv-1", Role: RoleUser, Content: "q", CreatedAt: now},
		{ID: "msg-2", ConversationID: "conv-1", Role: RoleAssistant, Content: "a", CreatedAt: now,
			Metadata: map[string]any{"chunk_ids": []any{"chunk-1"}}},
	})
	if err != nil {
		t.Fatalf("AppendAll() error = %v", err)
	}

	msgs, err := repo.ListMessages(ctx, "conv-1", 0)
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != RoleUser || msgs[1].Role != RoleAssistant {
		t.Errorf("exchange out of order: %s, %s", msgs[0].Role, msgs[1].Role)
	}
	if msgs[1].Seq <= msgs[0].Seq {
		t.Error("sequence numbers not strictly increasing")
	}
	if _, ok := msgs[1].Metadata["chunk_ids"]; !ok {
		t.Error("assistant metadata lost")
	}
}

func TestConversationRepo_ListMessagesLimit(t *testing.T) {
	db := newTestDB(t)
	repo := NewConversationRepo(db)
	ctx := context.Background()

	if err := repo.Create(ctx, sampleConversation("conv-1"), nil); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		err := repo.Append(ctx, &MessageRecord{
			ID:             fmt.Sprintf("msg-%d", i),
			ConversationID: "conv-1",
			Role:           RoleUser,
			Content:        fmt.Sprintf("message %d", i),
			CreatedAt:      time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	msgs, err := repo.ListMessages(ctx, "conv-1", 2)
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	// The most recent two, still in chronological order.
	if msgs[0].Content != "message 3" || msgs[1].Content != "message 4" {
		t.Errorf("limited listing wrong: %q, %q", msgs[0].Content, msgs[1].Content)
	}
}

func TestConversationRepo_ListByUser(t *testing.T) {
	db := newTestDB(t)
	repo := NewConversationRepo(db)
	ctx := context.Background()

	first := sampleConversation("conv-1")
	second := sampleConversation("conv-2")
	second.UpdatedAt = second.UpdatedAt.Add(time.Minute)
	other := sampleConversation("conv-3")
	other.UserID = "user-2"

	for _, conv := range []*ConversationRecord{first, second, other} {
		if err := repo.Create(ctx, conv, nil); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	convs, err := repo.ListByUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListByUser() error = %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("got %d conversations, want 2", len(convs))
	}
	// Most recently active first.
	if convs[0].ID != "conv-2" || convs[1].ID != "conv-1" {
		t.Errorf("ordering wrong: %s, %s", convs[0].ID, convs[1].ID)
	}
}

func TestConversationRepo_UpdateSummary(t *testing.T) {
	db := newTestDB(t)
	repo := NewConversationRepo(db)
	ctx := context.Background()

	if err := repo.Create(ctx, sampleConversation("conv-1"), nil); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.UpdateSummary(ctx, "conv-1", "revised summary"); err != nil {
		t.Fatalf("UpdateSummary() error = %v", err)
	}

	got, err := repo.Get(ctx, "conv-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Summary != "revised summary" {
		t.Errorf("summary = %q, want %q", got.Summary, "revised summary")
	}

	if err := repo.UpdateSummary(ctx, "absent", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateSummary() error = %v, want ErrNotFound", err)
	}
}
