package reranker

import (
	"context"
	"errors"
	"testing"

	"github.com/knoguchi/deptrag/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedScorer struct {
	scores []float32
	err    error
	calls  int
	texts  []string
}

func (f *fixedScorer) ScoreBatch(ctx context.Context, query string, texts []string) ([]float32, error) {
	f.calls++
	f.texts = texts
	if f.err != nil {
		return nil, f.err
	}
	return f.scores, nil
}

func threshold(v float32) *float32 { return &v }

func candidates(sims ...float32) []engine.Candidate {
	out := make([]engine.Candidate, len(sims))
	for i, s := range sims {
		out[i] = engine.Candidate{
			Filename:   string(rune('a'+i)) + ".pdf",
			Similarity: s,
			Summary:    "summary " + string(rune('a'+i)),
		}
	}
	return out
}

func filenames(scored []ScoredCandidate) []string {
	out := make([]string, len(scored))
	for i, s := range scored {
		out[i] = s.Filename
	}
	return out
}

func TestRerank_ThresholdDropsLowScores(t *testing.T) {
	scorer := &fixedScorer{scores: []float32{0.3, 0.9, 0.3}}
	r := New(scorer)

	out, err := r.Rerank(context.Background(), "q", candidates(0.9, 0.95, 0.80), threshold(0.5))
	require.NoError(t, err)

	require.Len(t, out, 1)
	assert.Equal(t, "b.pdf", out[0].Filename)
	assert.Equal(t, float32(0.9), out[0].Score)
	assert.Equal(t, float32(0.95), out[0].Similarity)
	assert.Equal(t, 1, scorer.calls)
}

func TestRerank_StableOnTies(t *testing.T) {
	scorer := &fixedScorer{scores: []float32{0.5, 0.8, 0.5, 0.5, 0.8}}
	r := New(scorer)

	out, err := r.Rerank(context.Background(), "q", candidates(0.1, 0.2, 0.3, 0.4, 0.5), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"b.pdf", "e.pdf", "a.pdf", "c.pdf", "d.pdf"}, filenames(out))
}

func TestRerank_OrderingProperties(t *testing.T) {
	scorer := &fixedScorer{scores: []float32{0.2, 0.7, 0.4, 0.9, 0.4, 0.1}}
	r := New(scorer)
	in := candidates(0.9, 0.8, 0.7, 0.6, 0.5, 0.4)

	out, err := r.Rerank(context.Background(), "q", in, threshold(0.4))
	require.NoError(t, err)

	assert.LessOrEqual(t, len(out), len(in))
	for i, c := range out {
		assert.GreaterOrEqual(t, c.Score, float32(0.4))
		if i > 0 {
			assert.GreaterOrEqual(t, out[i-1].Score, c.Score)
		}
	}
	assert.Equal(t, []string{"d.pdf", "b.pdf", "c.pdf", "e.pdf"}, filenames(out))
}

func TestRerank_ScoresSummaries(t *testing.T) {
	scorer := &fixedScorer{scores: []float32{0.1, 0.2}}
	_, err := New(scorer).Rerank(context.Background(), "q", candidates(0.5, 0.6), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"summary a", "summary b"}, scorer.texts)
}

func TestRerank_EmptyInputSkipsScorer(t *testing.T) {
	scorer := &fixedScorer{}
	out, err := New(scorer).Rerank(context.Background(), "q", nil, threshold(0.5))
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Zero(t, scorer.calls)
}

func TestRerank_ScorerFailureFailsCall(t *testing.T) {
	boom := errors.New("model unavailable")
	out, err := New(&fixedScorer{err: boom}).Rerank(context.Background(), "q", candidates(0.5), nil)

	assert.Nil(t, out)
	assert.ErrorIs(t, err, ErrScoring)
	assert.ErrorIs(t, err, boom)
}

func TestRerank_ScoreCountMismatch(t *testing.T) {
	_, err := New(&fixedScorer{scores: []float32{0.5}}).Rerank(context.Background(), "q", candidates(0.5, 0.4), nil)
	assert.ErrorIs(t, err, ErrScoring)
}
