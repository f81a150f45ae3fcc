package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Vector store backend identifiers.
const (
	BackendQdrant = "qdrant"
	BackendSQLite = "sqlite"
)

// Config holds all configuration for the application.
type Config struct {
	// Providers
	OpenAIAPIKey   string
	OpenAIBaseURL  string
	ChatModel      string
	EmbeddingModel string
	VectorSize     int

	// Storage
	DBPath         string
	EmbedCachePath string
	CacheCapacity  int // 0 disables eviction

	// Vector store
	VectorBackend         string
	QdrantURL             string
	FilingsCollection     string
	TranscriptsCollection string

	// Ingestion / retrieval tuning
	ChunkSize        int
	ChunkOverlap     float64
	EmbedBatchSize   int
	EmbedConcurrency int
	EmbedRatePerSec  float64
	Overfetch        int
	TopK             int
	ContextBudget    int

	// Retry
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration

	// Server / logging
	APIPort   string
	LogLevel  slog.Level
	LogFormat string
}

// Load reads configuration from environment variables and returns a Config struct.
// It applies defaults for optional fields and validates required fields.
// If a .env file exists in the current directory or project root, it will be loaded automatically.
// Environment variables already set take precedence over .env file values.
func Load() (*Config, error) {
	_ = godotenv.Load() // Try current directory

	// Walk up from the working directory looking for a .env next to go.mod.
	wd, err := os.Getwd()
	if err == nil {
		dir := wd
		for i := 0; i < 5; i++ {
			envPath := filepath.Join(dir, ".env")
			if _, err := os.Stat(envPath); err == nil {
				_ = godotenv.Load(envPath)
				break
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	cfg := &Config{
		OpenAIAPIKey:          os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:         getEnv("OPENAI_BASE_URL", ""),
		ChatModel:             getEnv("CHAT_MODEL", "gpt-4o-mini"),
		EmbeddingModel:        getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		DBPath:                getEnv("DB_PATH", "./data/advisor.db"),
		EmbedCachePath:        getEnv("EMBED_CACHE_PATH", "./data/embed-cache.db"),
		VectorBackend:         getEnv("VECTOR_BACKEND", BackendSQLite),
		QdrantURL:             getEnv("QDRANT_URL", "http://localhost:6333"),
		FilingsCollection:     getEnv("VECTOR_COLLECTION_FILINGS", "filings"),
		TranscriptsCollection: getEnv("VECTOR_COLLECTION_TRANSCRIPTS", "transcripts"),
		APIPort:               getEnv("API_PORT", "9000"),
		LogFormat:             getEnv("LOG_FORMAT", "text"),
	}

	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}

	switch cfg.VectorBackend {
	case BackendQdrant, BackendSQLite:
	default:
		return nil, fmt.Errorf("VECTOR_BACKEND must be %q or %q, got %q", BackendQdrant, BackendSQLite, cfg.VectorBackend)
	}

	if cfg.VectorSize, err = getEnvInt("VECTOR_SIZE", 1536); err != nil {
		return nil, err
	}
	if cfg.CacheCapacity, err = getEnvInt("EMBED_CACHE_CAPACITY", 0); err != nil {
		return nil, err
	}
	if cfg.ChunkSize, err = getEnvInt("CHUNK_SIZE", 4000); err != nil {
		return nil, err
	}
	if cfg.EmbedBatchSize, err = getEnvInt("EMBED_BATCH_SIZE", 64); err != nil {
		return nil, err
	}
	if cfg.EmbedConcurrency, err = getEnvInt("EMBED_CONCURRENCY", 4); err != nil {
		return nil, err
	}
	if cfg.Overfetch, err = getEnvInt("RETRIEVAL_OVERFETCH", 3); err != nil {
		return nil, err
	}
	if cfg.TopK, err = getEnvInt("RETRIEVAL_TOP_K", 5); err != nil {
		return nil, err
	}
	if cfg.ContextBudget, err = getEnvInt("CONTEXT_BUDGET_CHARS", 12000); err != nil {
		return nil, err
	}
	if cfg.RetryMaxAttempts, err = getEnvInt("RETRY_MAX_ATTEMPTS", 4); err != nil {
		return nil, err
	}

	overlapStr := getEnv("CHUNK_OVERLAP", "0.1")
	cfg.ChunkOverlap, err = strconv.ParseFloat(overlapStr, 64)
	if err != nil {
		return nil, fmt.Errorf("CHUNK_OVERLAP must be a valid float: %w", err)
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= 0.5 {
		return nil, fmt.Errorf("CHUNK_OVERLAP must be in [0, 0.5), got %v", cfg.ChunkOverlap)
	}

	rateStr := getEnv("EMBED_RATE_PER_SEC", "5")
	cfg.EmbedRatePerSec, err = strconv.ParseFloat(rateStr, 64)
	if err != nil {
		return nil, fmt.Errorf("EMBED_RATE_PER_SEC must be a valid float: %w", err)
	}

	delayMs, err := getEnvInt("RETRY_BASE_DELAY_MS", 1000)
	if err != nil {
		return nil, err
	}
	cfg.RetryBaseDelay = time.Duration(delayMs) * time.Millisecond

	if cfg.VectorSize <= 0 {
		return nil, fmt.Errorf("VECTOR_SIZE must be greater than 0")
	}
	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("CHUNK_SIZE must be greater than 0")
	}
	if cfg.Overfetch < 1 {
		return nil, fmt.Errorf("RETRIEVAL_OVERFETCH must be at least 1")
	}

	switch strings.ToLower(getEnv("LOG_LEVEL", "info")) {
	case "debug":
		cfg.LogLevel = slog.LevelDebug
	case "info":
		cfg.LogLevel = slog.LevelInfo
	case "warn":
		cfg.LogLevel = slog.LevelWarn
	case "error":
		cfg.LogLevel = slog.LevelError
	default:
		return nil, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error")
	}

	// Create the data directory for the SQLite files if needed.
	for _, p := range []string{cfg.DBPath, cfg.EmbedCachePath} {
		if dir := filepath.Dir(p); dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
	}

	return cfg, nil
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
	}
	return n, nil
}
