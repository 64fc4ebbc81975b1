// Package reranker re-scores retrieval candidates against the query.
//
// A Reranker delegates the scoring to a Scorer and owns ordering: candidates
// below the threshold are dropped and the rest are sorted by score, descending,
// with ties keeping their retrieval order.
//
// # Trade-offs
//
//   - Latency: one extra model call per query (a single batched scoring call)
//   - Quality: better relevance when the top vector results have similar similarities
//
// Scoring failures fail the rerank. Unscored candidates are never passed through.
package reranker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/knoguchi/deptrag/internal/engine"
)

// ErrScoring wraps every failure of the scoring capability
var ErrScoring = errors.New("relevance scoring failed")

// Scorer produces one relevance score per text, in input order.
type Scorer interface {
	ScoreBatch(ctx context.Context, query string, texts []string) ([]float32, error)
}

// ScoredCandidate is a candidate with its reranker score
type ScoredCandidate struct {
	engine.Candidate
	Score float32
}

// Reranker orders candidates by Scorer relevance
type Reranker struct {
	scorer Scorer
	logger *slog.Logger
}

// Option configures a Reranker
type Option func(*Reranker)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reranker) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a reranker around scorer
func New(scorer Scorer, opts ...Option) *Reranker {
	r := &Reranker{
		scorer: scorer,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rerank scores all candidates in one ScoreBatch call, drops those scoring below threshold
// (when set) and returns the rest ordered by score, descending. Ties keep their input order.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []engine.Candidate, threshold *float32) ([]ScoredCandidate, error) {
	if len(candidates) == 0 {
		return []ScoredCandidate{}, nil
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Summary
	}

	scores, err := r.scorer.ScoreBatch(ctx, query, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScoring, err)
	}
	if len(scores) != len(candidates) {
		return nil, fmt.Errorf("%w: got %d scores for %d candidates", ErrScoring, len(scores), len(candidates))
	}

	out := make([]ScoredCandidate, 0, len(candidates))
	for i, c := range candidates {
		if threshold != nil && scores[i] < *threshold {
			continue
		}
		out = append(out, ScoredCandidate{Candidate: c, Score: scores[i]})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})

	r.logger.Debug("reranked candidates",
		"candidates", len(candidates),
		"kept", len(out),
	)
	return out, nil
}
