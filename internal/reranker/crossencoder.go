package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// CrossEncoderScorer calls a text-embeddings-inference style /rerank endpoint
// serving a cross-encoder model such as BAAI/bge-reranker-v2-m3.
type CrossEncoderScorer struct {
	baseURL string
	model   string
	client  *http.Client
}

// CrossEncoderOption configures a CrossEncoderScorer
type CrossEncoderOption func(*CrossEncoderScorer)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) CrossEncoderOption {
	return func(s *CrossEncoderScorer) {
		s.client = client
	}
}

// WithCrossEncoderModel names the model the rerank server should use.
// It is sent as the request's model field and as the X-Rerank-Model header.
func WithCrossEncoderModel(model string) CrossEncoderOption {
	return func(s *CrossEncoderScorer) {
		s.model = model
	}
}

// NewCrossEncoderScorer creates a scorer for the rerank server at baseURL
func NewCrossEncoderScorer(baseURL string, opts ...CrossEncoderOption) *CrossEncoderScorer {
	s := &CrossEncoderScorer{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type crossEncoderRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Texts     []string `json:"texts"`
	RawScores bool     `json:"raw_scores"`
	Truncate  bool     `json:"truncate"`
}

type crossEncoderScore struct {
	Index int     `json:"index"`
	Score float32 `json:"score"`
}

// ScoreBatch implements Scorer
func (s *CrossEncoderScorer) ScoreBatch(ctx context.Context, query string, texts []string) ([]float32, error) {
	if len(texts) == 0 {
		return []float32{}, nil
	}

	body, err := json.Marshal(crossEncoderRequest{
		Model:    s.model,
		Query:    query,
		Texts:    texts,
		Truncate: true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.model != "" {
		req.Header.Set("X-Rerank-Model", s.model)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("rerank API error (status %d): %s", resp.StatusCode, string(msg))
	}

	var results []crossEncoderScore
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	scores := make([]float32, len(texts))
	seen := make([]bool, len(texts))
	for _, r := range results {
		if r.Index < 0 || r.Index >= len(texts) {
			return nil, fmt.Errorf("rerank API returned out of range index %d", r.Index)
		}
		scores[r.Index] = r.Score
		seen[r.Index] = true
	}
	for i, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("rerank API returned no score for text %d", i)
		}
	}

	return scores, nil
}

var _ Scorer = (*CrossEncoderScorer)(nil)
