package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"filings-advisor/internal/contextutil"
	"filings-advisor/internal/domain"
	"filings-advisor/internal/ingest"
)

// Ingester is the document ingestion the handler consumes.
type Ingester interface {
	IngestDocument(ctx context.Context, doc ingest.Document) (string, error)
	DeleteDocument(ctx context.Context, documentID string) error
}

// IngestHandler handles HTTP requests for document ingestion.
type IngestHandler struct {
	pipeline Ingester
}

// NewIngestHandler creates a new IngestHandler.
func NewIngestHandler(pipeline Ingester) *IngestHandler {
	return &IngestHandler{pipeline: pipeline}
}

// IngestRequest represents the HTTP request payload for ingestion.
type IngestRequest struct {
	Ticker     string `json:"ticker"`
	FilingDate string `json:"filing_date"` // YYYY-MM-DD
	ReportType string `json:"report_type"`
	Text       string `json:"text"`
	SourceURL  string `json:"source_url,omitempty"`
	Markdown   bool   `json:"markdown,omitempty"`
}

// IngestResponse represents the HTTP response payload for ingestion.
type IngestResponse struct {
	DocumentID string `json:"document_id"`
}

// Ingest handles a document ingestion request.
func (h *IngestHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "invalid request body", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Ticker == "" || req.Text == "" {
		writeError(w, http.StatusBadRequest, "ticker and text are required")
		return
	}
	rt := domain.ReportType(req.ReportType)
	if !rt.Valid() {
		writeError(w, http.StatusBadRequest, "invalid report_type")
		return
	}
	filingDate, err := time.Parse("2006-01-02", req.FilingDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid filing_date, expected YYYY-MM-DD")
		return
	}

	documentID, err := h.pipeline.IngestDocument(ctx, ingest.Document{
		Ticker:     req.Ticker,
		FilingDate: filingDate,
		ReportType: rt,
		Text:       req.Text,
		SourceURL:  req.SourceURL,
		Markdown:   req.Markdown,
	})
	if err != nil {
		logger.ErrorContext(ctx, "ingestion failed", "ticker", req.Ticker, "error", err)
		writeError(w, statusForError(err), "Failed to ingest document")
		return
	}

	writeJSON(w, http.StatusCreated, IngestResponse{DocumentID: documentID})
}

// Delete handles a document deletion request.
func (h *IngestHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	documentID := chi.URLParam(r, "id")
	if err := h.pipeline.DeleteDocument(ctx, documentID); err != nil {
		logger.ErrorContext(ctx, "deletion failed", "document_id", documentID, "error", err)
		writeError(w, statusForError(err), "Failed to delete document")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
