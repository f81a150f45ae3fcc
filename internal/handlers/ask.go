package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"filings-advisor/internal/contextutil"
	"filings-advisor/internal/domain"
	"filings-advisor/internal/engine"
)

// ConversationEngine is the query orchestration the handler consumes.
type ConversationEngine interface {
	Ask(ctx context.Context, req engine.AskRequest) (*engine.AskResult, error)
}

// AskHandler handles HTTP requests for conversation queries.
type AskHandler struct {
	engine ConversationEngine
}

// NewAskHandler creates a new AskHandler.
func NewAskHandler(eng ConversationEngine) *AskHandler {
	return &AskHandler{engine: eng}
}

// AskRequest represents the HTTP request payload for queries.
type AskRequest struct {
	UserID         string   `json:"user_id"`
	ConversationID string   `json:"conversation_id,omitempty"`
	Query          string   `json:"query"`
	Ticker         string   `json:"ticker,omitempty"`
	ReportType     string   `json:"report_type,omitempty"`
	DateFrom       string   `json:"date_from,omitempty"` // YYYY-MM-DD
	DateTo         string   `json:"date_to,omitempty"`   // YYYY-MM-DD
	Tickers        []string `json:"tickers,omitempty"`
}

// AskResponse represents the HTTP response payload for queries.
type AskResponse struct {
	ConversationID string   `json:"conversation_id"`
	Reply          string   `json:"reply"`
	Citations      []string `json:"citations,omitempty"`
	Created        bool     `json:"created,omitempty"`
}

// ServeHTTP handles a conversation query.
func (h *AskHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "invalid request body", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "Query is required")
		return
	}
	if req.UserID == "" && req.ConversationID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required for a new conversation")
		return
	}

	filters, err := parseFilters(req.Ticker, req.ReportType, req.DateFrom, req.DateTo)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.engine.Ask(ctx, engine.AskRequest{
		UserID:         req.UserID,
		ConversationID: req.ConversationID,
		Query:          req.Query,
		Filters:        filters,
		Tickers:        req.Tickers,
	})
	if err != nil {
		logger.ErrorContext(ctx, "ask failed", "error", err)
		writeError(w, statusForError(err), "Failed to process query")
		return
	}

	writeJSON(w, http.StatusOK, AskResponse{
		ConversationID: result.ConversationID,
		Reply:          result.Reply,
		Citations:      result.Citations,
		Created:        result.Created,
	})
}

func parseFilters(ticker, reportType, dateFrom, dateTo string) (domain.Filters, error) {
	filters := domain.Filters{Ticker: ticker}

	if reportType != "" {
		rt := domain.ReportType(reportType)
		if !rt.Valid() {
			return domain.Filters{}, fmt.Errorf("invalid report_type: %s", reportType)
		}
		filters.ReportType = rt
	}
	if dateFrom != "" {
		t, err := time.Parse("2006-01-02", dateFrom)
		if err != nil {
			return domain.Filters{}, fmt.Errorf("invalid date_from: %s", dateFrom)
		}
		filters.DateFrom = t
	}
	if dateTo != "" {
		t, err := time.Parse("2006-01-02", dateTo)
		if err != nil {
			return domain.Filters{}, fmt.Errorf("invalid date_to: %s", dateTo)
		}
		filters.DateTo = t
	}
	return filters, nil
}
