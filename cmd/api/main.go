package main

import (
	"context"
	"log"
	"log/slog"
	nethttp "net/http"
	"os"

	"filings-advisor/internal/config"
	"filings-advisor/internal/embed"
	"filings-advisor/internal/embedcache"
	"filings-advisor/internal/engine"
	"filings-advisor/internal/http"
	"filings-advisor/internal/ingest"
	"filings-advisor/internal/llm"
	"filings-advisor/internal/memory"
	"filings-advisor/internal/retrieval"
	"filings-advisor/internal/retry"
	"filings-advisor/internal/storage"
	"filings-advisor/internal/vectorstore"
)

func main() {
	// Load configuration first (needed for log level)
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Configure structured logging with configurable level and format
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))

	// Initialize database
	db, err := storage.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer func() {
		_ = db.Close()
	}()

	if err := storage.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	slog.Info("Database initialized", "path", cfg.DBPath)

	docRepo := storage.NewDocumentRepo(db)
	chunkRepo := storage.NewChunkRepo(db)
	conversationRepo := storage.NewConversationRepo(db)

	ctx := context.Background()

	// Select the vector store backend
	var vectorStore vectorstore.VectorStore
	switch cfg.VectorBackend {
	case config.BackendQdrant:
		vectorStore, err = vectorstore.NewQdrantStore(cfg.QdrantURL)
		if err != nil {
			log.Fatalf("Failed to create Qdrant client: %v", err)
		}
	case config.BackendSQLite:
		vectorStore, err = vectorstore.NewSQLiteStore(db)
		if err != nil {
			log.Fatalf("Failed to create SQLite vector store: %v", err)
		}
	}

	collections := ingest.Collections{
		Filings:     cfg.FilingsCollection,
		Transcripts: cfg.TranscriptsCollection,
	}
	for _, collection := range []string{collections.Filings, collections.Transcripts} {
		if err := vectorStore.EnsureCollection(ctx, collection, cfg.VectorSize); err != nil {
			log.Fatalf("Failed to ensure collection %s: %v", collection, err)
		}
	}
	slog.Info("Vector store ready", "backend", cfg.VectorBackend, "vector_size", cfg.VectorSize)

	// Embedding cache lives in its own database file
	cache, err := embedcache.Open(cfg.EmbedCachePath, cfg.CacheCapacity)
	if err != nil {
		log.Fatalf("Failed to open embedding cache: %v", err)
	}
	defer func() {
		_ = cache.Close()
	}()

	retryPolicy := retry.Policy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
	}

	embeddingsClient := llm.NewEmbeddingsClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.EmbeddingModel, cfg.VectorSize)
	embedder := embed.NewEmbedder(embeddingsClient, cache, embed.Options{
		BatchSize:   cfg.EmbedBatchSize,
		Concurrency: cfg.EmbedConcurrency,
		RatePerSec:  cfg.EmbedRatePerSec,
		Retry:       retryPolicy,
	})

	chunker := ingest.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	pipeline := ingest.NewPipeline(docRepo, chunkRepo, embedder, vectorStore, collections, chunker)

	retriever, err := retrieval.NewRetriever(embedder, vectorStore, collections, cfg.EmbeddingModel, cfg.Overfetch)
	if err != nil {
		log.Fatalf("Failed to create retriever: %v", err)
	}

	mem := memory.NewManager(conversationRepo)
	chatClient := llm.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.ChatModel)
	eng := engine.New(retriever, mem, chatClient, engine.Options{
		TopK:          cfg.TopK,
		ContextBudget: cfg.ContextBudget,
		Retry:         retryPolicy,
	})
	slog.Info("Conversation engine initialized", "chat_model", cfg.ChatModel, "embedding_model", cfg.EmbeddingModel)

	router := http.NewRouter(&http.Deps{
		Engine:   eng,
		Pipeline: pipeline,
		Memory:   mem,
		DB:       db,
	})

	addr := ":" + cfg.APIPort
	slog.Info("Starting API server", "addr", addr)
	if err := nethttp.ListenAndServe(addr, router); err != nil {
		log.Fatalf("API server failed to start: %v", err)
	}
}
