// Package embed orchestrates embedding of chunk batches: cache lookups
// first, then provider calls for the misses, grouped into provider-sized
// batches and dispatched concurrently under a rate limit.
package embed

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_provider.go -package=mocks filings-advisor/internal/embed Provider

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"filings-advisor/internal/contextutil"
	"filings-advisor/internal/domain"
	"filings-advisor/internal/retry"
)

// Provider is the external embedding capability.
type Provider interface {
	// EmbedTexts returns one vector per input text, in order.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	// Model returns the embedding model identifier.
	Model() string
}

// Cache is the durable content-addressed vector cache.
type Cache interface {
	Get(ctx context.Context, contentHash, model string) ([]float32, bool, error)
	Put(ctx context.Context, contentHash, model string, vector []float32) error
}

// Input is one text to embed, addressed by its content hash.
type Input struct {
	ContentHash string
	Text        string
}

// Options tunes batching and pacing against the provider.
type Options struct {
	BatchSize   int
	Concurrency int
	RatePerSec  float64
	Retry       retry.Policy
}

// Embedder coordinates the cache and the provider.
type Embedder struct {
	provider    Provider
	cache       Cache
	batchSize   int
	concurrency int
	limiter     *rate.Limiter
	policy      retry.Policy
}

// NewEmbedder creates an Embedder. The cache is an explicit dependency so
// ingestion stays testable with an in-memory substitute.
func NewEmbedder(provider Provider, cache Cache, opts Options) *Embedder {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 64
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), 1)
	}
	return &Embedder{
		provider:    provider,
		cache:       cache,
		batchSize:   batchSize,
		concurrency: concurrency,
		limiter:     limiter,
		policy:      opts.Retry,
	}
}

// Model returns the embedding model identifier in use. Retrieval compares
// it against the model recorded at ingestion to fail fast on mismatches.
func (e *Embedder) Model() string {
	return e.provider.Model()
}

// EmbedBatch returns one vector per input, order-preserving. Cached
// vectors are reused; misses are fetched from the provider in batches and
// written to the cache before returning, so a crash after a successful
// provider call still benefits future retries. Any batch exhausting its
// retries fails the whole call: callers must know ingestion did not
// complete.
func (e *Embedder) EmbedBatch(ctx context.Context, inputs []Input) ([][]float32, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if len(inputs) == 0 {
		return nil, nil
	}

	model := e.provider.Model()
	vectors := make([][]float32, len(inputs))

	// Cache lookups first. Identical passages share one cache entry, so
	// dedupe misses by content hash within the batch as well.
	missText := make(map[string]string)
	var missOrder []string
	for i, input := range inputs {
		vector, ok, err := e.cache.Get(ctx, input.ContentHash, model)
		if err != nil {
			return nil, fmt.Errorf("cache lookup failed: %w", err)
		}
		if ok {
			vectors[i] = vector
			continue
		}
		if _, seen := missText[input.ContentHash]; !seen {
			missText[input.ContentHash] = input.Text
			missOrder = append(missOrder, input.ContentHash)
		}
	}

	logger.DebugContext(ctx, "embedding batch",
		"inputs", len(inputs), "cache_misses", len(missOrder), "model", model)

	if len(missOrder) == 0 {
		return vectors, nil
	}

	// Fetch misses in provider-sized batches, concurrently up to the
	// configured limit. Results land in a hash-keyed map so callers see
	// input order regardless of completion order.
	var mu sync.Mutex
	fetched := make(map[string][]float32, len(missOrder))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for start := 0; start < len(missOrder); start += e.batchSize {
		end := min(start+e.batchSize, len(missOrder))
		hashes := missOrder[start:end]

		g.Go(func() error {
			texts := make([]string, len(hashes))
			for i, h := range hashes {
				texts[i] = missText[h]
			}

			var result [][]float32
			err := e.policy.Do(gctx, func(ctx context.Context) error {
				if err := e.limiter.Wait(ctx); err != nil {
					return err
				}
				var err error
				result, err = e.provider.EmbedTexts(ctx, texts)
				return err
			})
			if err != nil {
				return domain.ProviderErrorf(err, "embedding batch of %d texts failed", len(texts))
			}
			if len(result) != len(texts) {
				return fmt.Errorf("%w: expected %d vectors, got %d", domain.ErrProvider, len(texts), len(result))
			}

			// Cache before returning so the work survives a crash.
			for i, h := range hashes {
				if err := e.cache.Put(gctx, h, model, result[i]); err != nil {
					return fmt.Errorf("cache write failed: %w", err)
				}
			}

			mu.Lock()
			for i, h := range hashes {
				fetched[h] = result[i]
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, input := range inputs {
		if vectors[i] == nil {
			vectors[i] = fetched[input.ContentHash]
		}
		if vectors[i] == nil {
			return nil, fmt.Errorf("%w: no vector for input %d", domain.ErrProvider, i)
		}
	}
	return vectors, nil
}

// EmbedQuery embeds a single query string through the same cache-checked path.
func (e *Embedder) EmbedQuery(ctx context.Context, text, contentHash string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []Input{{ContentHash: contentHash, Text: text}})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}
