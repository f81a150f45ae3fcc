package memory

import (
	"context"
	"sort"
	"unicode/utf8"

	"filings-advisor/internal/domain"
	"filings-advisor/internal/storage"
)

// PromptContext is the bounded material handed to the generation step:
// the seed system message (if present), retrieved passages in rank
// order, and a chronological slice of conversation history ending with
// the most recent user message.
type PromptContext struct {
	System   string
	Passages []domain.RetrievedPassage
	History  []*storage.MessageRecord
}

// AssembleContext builds a prompt context within the character budget.
// The most recent user message is always included, even when it alone
// exceeds the budget; the seed system message is truncated to fit what
// remains. The immediately preceding turn is kept next for coherence,
// then retrieved passages in rank order, then older history newest-first
// until the budget is spent. Relevance wins over recency for older
// turns.
func (m *Manager) AssembleContext(ctx context.Context, conversationID string, passages []domain.RetrievedPassage, budget int) (*PromptContext, error) {
	history, err := m.LoadHistory(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if budget <= 0 {
		budget = 12000
	}

	pc := &PromptContext{}
	used := 0

	// The seed system message is not part of the recency window; it is
	// carried separately.
	var system string
	if len(history) > 0 && history[0].Role == storage.RoleSystem {
		system = history[0].Content
		history = history[1:]
	}

	lastUser := -1
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == storage.RoleUser {
			lastUser = i
			break
		}
	}

	included := make(map[int]bool)
	if lastUser >= 0 {
		included[lastUser] = true
		used += len(history[lastUser].Content)
	}

	// Only the most recent user message may overrun the budget. The seed
	// is charged next and truncated to whatever remains.
	if system != "" {
		if remaining := budget - used; len(system) > remaining {
			system = truncateBytes(system, remaining)
		}
		pc.System = system
		used += len(pc.System)
	}

	// Immediately preceding turn: up to two messages before the latest
	// user message.
	for i := lastUser - 1; i >= 0 && i >= lastUser-2; i-- {
		cost := len(history[i].Content)
		if used+cost > budget {
			break
		}
		included[i] = true
		used += cost
	}

	for _, p := range passages {
		cost := len(p.Text)
		if used+cost > budget {
			break
		}
		pc.Passages = append(pc.Passages, p)
		used += cost
	}

	// Remaining history, newest first.
	for i := len(history) - 1; i >= 0; i-- {
		if included[i] {
			continue
		}
		cost := len(history[i].Content)
		if used+cost > budget {
			continue
		}
		included[i] = true
		used += cost
	}

	indices := make([]int, 0, len(included))
	for i := range included {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	for _, i := range indices {
		pc.History = append(pc.History, history[i])
	}
	return pc, nil
}

// truncateBytes cuts s to at most n bytes without splitting a rune.
func truncateBytes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
