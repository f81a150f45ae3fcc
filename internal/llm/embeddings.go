package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// EmbeddingsClient wraps the OpenAI embeddings API.
type EmbeddingsClient struct {
	client       *openai.Client
	model        string
	expectedSize int // Expected vector size for validation
}

// NewEmbeddingsClient creates a new embeddings client.
// expectedSize is the vector size the store was created with; every
// response is validated against it so a dimension mismatch fails loudly
// instead of corrupting the index.
func NewEmbeddingsClient(apiKey, baseURL, model string, expectedSize int) *EmbeddingsClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &EmbeddingsClient{
		client:       openai.NewClientWithConfig(cfg),
		model:        model,
		expectedSize: expectedSize,
	}
}

// Model returns the embedding model identifier this client calls.
func (c *EmbeddingsClient) Model() string {
	return c.model
}

// EmbedTexts generates embeddings for the given texts, one vector per
// input in the same order.
func (c *EmbeddingsClient) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("empty input array")
	}

	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(c.model),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	vectors := make([][]float32, len(texts))
	for _, data := range resp.Data {
		if data.Index < 0 || data.Index >= len(texts) {
			return nil, fmt.Errorf("embedding index %d out of range", data.Index)
		}
		if c.expectedSize > 0 && len(data.Embedding) != c.expectedSize {
			return nil, fmt.Errorf("embedding size mismatch: expected %d, got %d", c.expectedSize, len(data.Embedding))
		}
		vectors[data.Index] = data.Embedding
	}
	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("no embedding returned for input %d", i)
		}
	}
	return vectors, nil
}
