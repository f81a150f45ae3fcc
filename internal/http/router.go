// Package http wires the HTTP routes and middleware.
package http

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"filings-advisor/internal/handlers"
)

// Deps holds dependencies for the HTTP router.
type Deps struct {
	Engine   handlers.ConversationEngine
	Pipeline handlers.Ingester
	Memory   handlers.MemoryReader
	DB       *sql.DB
}

// NewRouter creates the HTTP router.
func NewRouter(deps *Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(LoggerMiddleware)
	r.Use(CORS)

	askHandler := handlers.NewAskHandler(deps.Engine)
	ingestHandler := handlers.NewIngestHandler(deps.Pipeline)
	conversationsHandler := handlers.NewConversationsHandler(deps.Memory)
	healthHandler := handlers.NewHealthHandler(deps.DB)

	r.Route("/api", func(r chi.Router) {
		r.Method(http.MethodPost, "/ask", askHandler)
		r.Post("/documents", ingestHandler.Ingest)
		r.Delete("/documents/{id}", ingestHandler.Delete)
		r.Get("/conversations", conversationsHandler.List)
		r.Get("/conversations/{id}/messages", conversationsHandler.Messages)
	})
	r.Method(http.MethodGet, "/health", healthHandler)

	return r
}
