package vectorstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"filings-advisor/internal/contextutil"
	"filings-advisor/internal/domain"
)

// QdrantStore implements VectorStore using Qdrant, the dedicated
// vector-database backend. Metadata travels in the point payload so
// filters run as an indexed pre-filter inside Qdrant.
type QdrantStore struct {
	client *qdrant.Client
}

// NewQdrantStore creates a new Qdrant vector store client.
// urlStr should be in the format "http://host:port" (e.g., "http://localhost:6333").
// The gRPC port (typically 6334) will be derived from the HTTP port.
func NewQdrantStore(urlStr string) (*QdrantStore, error) {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return nil, fmt.Errorf("invalid Qdrant URL: %w", err)
	}

	host := parsedURL.Hostname()
	if host == "" {
		host = "localhost"
	}

	port := 6334 // Default gRPC port
	if parsedURL.Port() != "" {
		httpPort, err := strconv.Atoi(parsedURL.Port())
		if err == nil {
			// gRPC port is typically HTTP port + 1
			port = httpPort + 1
		}
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client: %w", err)
	}

	return &QdrantStore{client: client}, nil
}

// EnsureCollection ensures a collection exists with the specified vector size.
// If the collection exists, validates that the vector size matches.
func (s *QdrantStore) EnsureCollection(ctx context.Context, collection string, vectorSize int) error {
	logger := contextutil.LoggerFromContext(ctx)

	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}

	if !exists {
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(vectorSize),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}
		logger.InfoContext(ctx, "collection created", "collection", collection, "vector_size", vectorSize)
		return nil
	}

	info, err := s.client.GetCollectionInfo(ctx, collection)
	if err != nil {
		return fmt.Errorf("failed to get collection info: %w", err)
	}

	config := info.Config
	if config == nil || config.Params == nil {
		return fmt.Errorf("collection config is invalid")
	}
	vectorsConfig := config.Params.GetVectorsConfig()
	if vectorsConfig == nil {
		return fmt.Errorf("collection vectors config is invalid")
	}
	params := vectorsConfig.GetParams()
	if params == nil {
		return fmt.Errorf("collection vector params are invalid")
	}
	if int(params.Size) != vectorSize {
		return fmt.Errorf("collection vector size mismatch: expected %d, got %d", vectorSize, params.Size)
	}
	return nil
}

// Upsert inserts records, replacing prior points with the same chunk ID.
func (s *QdrantStore) Upsert(ctx context.Context, collection string, records []Record) error {
	logger := contextutil.LoggerFromContext(ctx)

	if len(records) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, rec := range records {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(rec.ChunkID),
			Vectors: qdrant.NewVectors(rec.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				"document_id": rec.DocumentID,
				"seq":         int64(rec.Seq),
				"ticker":      rec.Ticker,
				"report_type": string(rec.ReportType),
				"filing_date": rec.FilingDate.UTC().Unix(),
				"text":        rec.Text,
			}),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         points,
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to upsert points", "collection", collection, "count", len(points), "error", err)
		return fmt.Errorf("failed to upsert points: %w", err)
	}

	logger.InfoContext(ctx, "upserted points", "collection", collection, "count", len(points))
	return nil
}

// DeleteByDocument removes all points whose payload references the document.
func (s *QdrantStore) DeleteByDocument(ctx context.Context, collection string, documentID string) error {
	logger := contextutil.LoggerFromContext(ctx)

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("document_id", documentID)},
		}),
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to delete points", "collection", collection, "document_id", documentID, "error", err)
		return fmt.Errorf("failed to delete points: %w", err)
	}
	return nil
}

// Search performs a filtered similarity search.
func (s *QdrantStore) Search(ctx context.Context, collection string, query []float32, k int, filters domain.Filters) ([]SearchResult, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if k <= 0 {
		return nil, fmt.Errorf("k must be greater than 0")
	}

	var conditions []*qdrant.Condition
	if !filters.Empty() {
		if filters.Ticker != "" {
			conditions = append(conditions, qdrant.NewMatch("ticker", filters.Ticker))
		}
		if filters.ReportType != "" {
			conditions = append(conditions, qdrant.NewMatch("report_type", string(filters.ReportType)))
		}
		if !filters.DateFrom.IsZero() || !filters.DateTo.IsZero() {
			dateRange := &qdrant.Range{}
			if !filters.DateFrom.IsZero() {
				gte := float64(filters.DateFrom.UTC().Unix())
				dateRange.Gte = &gte
			}
			if !filters.DateTo.IsZero() {
				lte := float64(filters.DateTo.UTC().Unix())
				dateRange.Lte = &lte
			}
			conditions = append(conditions, qdrant.NewRange("filing_date", dateRange))
		}
	}

	limit := uint64(k)
	queryReq := &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if len(conditions) > 0 {
		queryReq.Filter = &qdrant.Filter{Must: conditions}
	}

	scoredPoints, err := s.client.Query(ctx, queryReq)
	if err != nil {
		logger.ErrorContext(ctx, "failed to search points", "collection", collection, "k", k, "error", err)
		return nil, fmt.Errorf("failed to search points: %w", err)
	}

	results := make([]SearchResult, 0, len(scoredPoints))
	for _, point := range scoredPoints {
		rec := Record{Vector: nil} // vectors stay in Qdrant; payload carries everything else
		if point.Id != nil {
			rec.ChunkID = point.Id.GetUuid()
		}
		if payload := point.Payload; payload != nil {
			rec.DocumentID = payload["document_id"].GetStringValue()
			rec.Seq = int(payload["seq"].GetIntegerValue())
			rec.Ticker = payload["ticker"].GetStringValue()
			rec.ReportType = domain.ReportType(payload["report_type"].GetStringValue())
			rec.FilingDate = time.Unix(payload["filing_date"].GetIntegerValue(), 0).UTC()
			rec.Text = payload["text"].GetStringValue()
		}
		results = append(results, SearchResult{Record: rec, Score: point.Score})
	}

	// Qdrant orders by score; re-sort to pin down tie-breaking.
	sortResults(results)

	logger.DebugContext(ctx, "vector search completed", "collection", collection, "k", k, "results", len(results))
	return results, nil
}
