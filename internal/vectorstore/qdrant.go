package vectorstore

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantStore implements Searcher using Qdrant
type QdrantStore struct {
	client *qdrant.Client
}

// NewQdrantStore creates a new Qdrant client.
// url should be in format "host:port" (e.g., "localhost:6334")
func NewQdrantStore(url string) (*QdrantStore, error) {
	host, portStr, err := net.SplitHostPort(url)
	if err != nil {
		// If no port specified, assume default
		host = url
		portStr = "6334"
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant url: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return &QdrantStore{client: client}, nil
}

// Close closes the Qdrant client connection
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// CollectionExists checks if a collection exists
func (s *QdrantStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return false, fmt.Errorf("failed to check collection existence: %w", err)
	}
	return exists, nil
}

// Search performs similarity search restricted to the given filenames
func (s *QdrantStore) Search(ctx context.Context, collection string, vector []float32, topK int, filenames []string) ([]SearchResult, error) {
	if len(filenames) == 0 || topK <= 0 {
		return nil, nil
	}

	response, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatchKeywords(PayloadFilename, filenames...),
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]SearchResult, 0, len(response))
	for _, point := range response {
		results = append(results, toSearchResult(point.GetId(), point.Score, point.Payload))
	}
	return results, nil
}

func toSearchResult(id *qdrant.PointId, score float32, payload map[string]*qdrant.Value) SearchResult {
	result := SearchResult{
		ID:       pointID(id),
		Score:    score,
		Metadata: make(map[string]string),
	}
	for k, v := range payload {
		switch k {
		case PayloadFilename:
			result.Filename = v.GetStringValue()
		case PayloadContent:
			result.Content = v.GetStringValue()
		case PayloadSummary:
			result.Summary = v.GetStringValue()
		case PayloadSourceLink:
			result.SourceLink = v.GetStringValue()
		default:
			result.Metadata[k] = v.GetStringValue()
		}
	}
	return result
}

func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return strconv.FormatUint(id.GetNum(), 10)
}

// Ensure QdrantStore implements Searcher
var _ Searcher = (*QdrantStore)(nil)
