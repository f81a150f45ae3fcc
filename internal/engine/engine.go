// Package engine orchestrates the query path: retrieve passages,
// assemble bounded context, generate a reply, and persist the exchange.
package engine

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"filings-advisor/internal/contextutil"
	"filings-advisor/internal/domain"
	"filings-advisor/internal/llm"
	"filings-advisor/internal/memory"
	"filings-advisor/internal/retry"
	"filings-advisor/internal/storage"
)

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_engine.go -package=mocks -source=engine.go

// Retriever finds passages relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, queryText string, filters domain.Filters, k int) ([]domain.RetrievedPassage, error)
}

// Generator produces a reply from an assembled prompt.
type Generator interface {
	ChatWithMessages(ctx context.Context, messages []llm.Message, params llm.ChatParams) (string, error)
}

// ConversationMemory is the conversation persistence the engine consumes.
type ConversationMemory interface {
	CreateConversation(ctx context.Context, userID, summary string, tickers []string) (*storage.ConversationRecord, error)
	GetConversation(ctx context.Context, id string) (*storage.ConversationRecord, error)
	AssembleContext(ctx context.Context, conversationID string, passages []domain.RetrievedPassage, budget int) (*memory.PromptContext, error)
	AppendExchange(ctx context.Context, conversationID, userContent, replyContent string, replyMetadata map[string]any) (*storage.MessageRecord, *storage.MessageRecord, error)
}

// Options tunes the engine.
type Options struct {
	TopK          int // passages requested per query, default 5
	ContextBudget int // character budget for assembled context, default 12000
	Retry         retry.Policy
}

// Engine is the top-level conversation orchestrator.
type Engine struct {
	retriever Retriever
	mem       ConversationMemory
	generator Generator
	opts      Options
}

// New creates an Engine.
func New(retriever Retriever, mem ConversationMemory, generator Generator, opts Options) *Engine {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.ContextBudget <= 0 {
		opts.ContextBudget = 12000
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = retry.DefaultPolicy()
	}
	return &Engine{
		retriever: retriever,
		mem:       mem,
		generator: generator,
		opts:      opts,
	}
}

// AskRequest is a single user query against a conversation.
type AskRequest struct {
	UserID         string
	ConversationID string // empty creates a new conversation
	Query          string
	Filters        domain.Filters
	Tickers        []string // seeds a new conversation's ticker set
}

// AskResult carries the generated reply. Reply may be non-empty even
// when Ask returns an error: persistence can fail after a paid
// generation succeeded, and the text is not discarded.
type AskResult struct {
	ConversationID string
	Reply          string
	Citations      []string // chunk IDs of the passages included in the prompt
	Created        bool
}

// Ask runs the full query path. The caller's context deadline bounds
// retrieval, generation, and persistence; nothing is persisted before
// generation completes.
func (e *Engine) Ask(ctx context.Context, req AskRequest) (*AskResult, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("query must not be empty")
	}

	result := &AskResult{ConversationID: req.ConversationID}
	if req.ConversationID == "" {
		tickers := req.Tickers
		if len(tickers) == 0 && req.Filters.Ticker != "" {
			tickers = []string{req.Filters.Ticker}
		}
		conv, err := e.mem.CreateConversation(ctx, req.UserID, summarize(req.Query), tickers)
		if err != nil {
			return nil, fmt.Errorf("failed to create conversation: %w", err)
		}
		result.ConversationID = conv.ID
		result.Created = true
	} else if _, err := e.mem.GetConversation(ctx, req.ConversationID); err != nil {
		return nil, err
	}

	passages, err := e.retriever.Retrieve(ctx, req.Query, req.Filters, e.opts.TopK)
	if err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}

	// The incoming query is not persisted yet, so it is charged against
	// the budget here rather than inside assembly.
	budget := e.opts.ContextBudget - len(req.Query)
	if budget < 1 {
		budget = 1
	}
	pc, err := e.mem.AssembleContext(ctx, result.ConversationID, passages, budget)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble context: %w", err)
	}

	reply, err := e.generator.ChatWithMessages(ctx, buildMessages(pc, req.Query), llm.ChatParams{})
	if err != nil {
		return nil, fmt.Errorf("generation failed: %w", err)
	}

	for _, p := range pc.Passages {
		result.Citations = append(result.Citations, p.ChunkID)
	}
	result.Reply = reply

	// AppendExchange is atomic, so a retried attempt can never leave a
	// user message without its reply.
	metadata := map[string]any{"chunk_ids": result.Citations}
	persistErr := e.opts.Retry.Do(ctx, func(ctx context.Context) error {
		_, _, err := e.mem.AppendExchange(ctx, result.ConversationID, req.Query, reply, metadata)
		return err
	})
	if persistErr != nil {
		logger.ErrorContext(ctx, "failed to persist exchange",
			"conversation_id", result.ConversationID, "error", persistErr)
		return result, fmt.Errorf("reply generated but not persisted: %w", persistErr)
	}

	logger.InfoContext(ctx, "exchange completed",
		"conversation_id", result.ConversationID, "passages", len(pc.Passages), "reply_length", len(reply))
	return result, nil
}

// buildMessages renders the assembled context into a chat prompt: the
// seed system message plus retrieved excerpts, the retained history, and
// the current query last.
func buildMessages(pc *memory.PromptContext, query string) []llm.Message {
	var sys strings.Builder
	if pc.System != "" {
		sys.WriteString(pc.System)
	}
	if len(pc.Passages) > 0 {
		if sys.Len() > 0 {
			sys.WriteString("\n\n")
		}
		sys.WriteString("Relevant excerpts from company disclosures:\n")
		for _, p := range pc.Passages {
			fmt.Fprintf(&sys, "\n[%s %s %s]\n%s\n",
				p.Ticker, p.ReportType, p.FilingDate.Format("2006-01-02"), p.Text)
		}
	}

	var msgs []llm.Message
	if sys.Len() > 0 {
		msgs = append(msgs, llm.Message{Role: "system", Content: sys.String()})
	}
	for _, m := range pc.History {
		msgs = append(msgs, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	msgs = append(msgs, llm.Message{Role: "user", Content: query})
	return msgs
}

// summarize derives a short conversation summary from the first query.
func summarize(query string) string {
	const maxLen = 80
	s := strings.Join(strings.Fields(query), " ")
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen-3]) + "..."
}
