package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/knoguchi/deptrag/internal/access"
	"github.com/knoguchi/deptrag/internal/embedder"
	"github.com/knoguchi/deptrag/internal/llm"
	"github.com/knoguchi/deptrag/internal/vectorstore"
)

const defaultSystemPrompt = `You answer questions for employees using only the department documents provided.
If the documents do not contain the answer, say that you could not find it. Do not invent facts.`

// QdrantFactory builds engines backed by a Qdrant collection named in the index manifest
type QdrantFactory struct {
	store    vectorstore.Searcher
	embedder embedder.Embedder
	llm      llm.LLM
	logger   *slog.Logger
}

// QdrantOption configures a QdrantFactory
type QdrantOption func(*QdrantFactory)

// WithQdrantLogger sets a custom logger
func WithQdrantLogger(logger *slog.Logger) QdrantOption {
	return func(f *QdrantFactory) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewQdrantFactory creates a factory; all engines share the searcher, embedder and LLM
func NewQdrantFactory(store vectorstore.Searcher, emb embedder.Embedder, llmClient llm.LLM, opts ...QdrantOption) *QdrantFactory {
	f := &QdrantFactory{
		store:    store,
		embedder: emb,
		llm:      llmClient,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Construct loads the manifest at indexPath and checks it against the embedder and the store
func (f *QdrantFactory) Construct(ctx context.Context, indexPath string) (Engine, error) {
	m, err := LoadManifest(indexPath)
	if err != nil {
		return nil, err
	}

	if m.EmbeddingModel != f.embedder.ModelName() {
		return nil, fmt.Errorf("%w: index embedded with %q, query embedder is %q",
			ErrManifestInvalid, m.EmbeddingModel, f.embedder.ModelName())
	}
	if dim := f.embedder.Dimension(); m.Dimension > 0 && dim > 0 && m.Dimension != dim {
		return nil, fmt.Errorf("%w: index dimension %d, query embedder dimension %d",
			ErrManifestInvalid, m.Dimension, dim)
	}

	exists, err := f.store.CollectionExists(ctx, m.Collection)
	if err != nil {
		return nil, fmt.Errorf("failed to check collection %q: %w", m.Collection, err)
	}
	if !exists {
		return nil, fmt.Errorf("collection %q does not exist", m.Collection)
	}

	return &QdrantEngine{
		manifest: *m,
		store:    f.store,
		embedder: f.embedder,
		llm:      f.llm,
		logger:   f.logger.With("collection", m.Collection),
	}, nil
}

// QdrantEngine answers questions against one Qdrant collection
type QdrantEngine struct {
	manifest Manifest
	store    vectorstore.Searcher
	embedder embedder.Embedder
	llm      llm.LLM
	logger   *slog.Logger
}

// Manifest returns the manifest the engine was built from
func (e *QdrantEngine) Manifest() Manifest {
	return e.manifest
}

// Query retrieves up to topK chunks restricted to allowed and generates an answer from the best documents
func (e *QdrantEngine) Query(ctx context.Context, question string, topK int, allowed access.AllowedSet) (*Result, error) {
	if allowed.Empty() || topK <= 0 {
		return &Result{}, nil
	}

	vector, err := e.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := e.store.Search(ctx, e.manifest.Collection, vector, topK, allowed.Sorted())
	if err != nil {
		return nil, fmt.Errorf("failed to search vectors: %w", err)
	}

	candidates := aggregate(hits, allowed)
	if len(candidates) < len(hits) {
		e.logger.Debug("aggregated chunk hits", "hits", len(hits), "documents", len(candidates))
	}

	answer := ""
	if len(candidates) > 0 {
		n := min(e.manifest.AnswerContext, len(candidates))
		answer, err = e.llm.Generate(ctx, buildPrompt(question, candidates[:n], hits), llm.GenerateOptions{
			SystemPrompt: defaultSystemPrompt,
			Temperature:  llm.DefaultTemperature,
			MaxTokens:    2048,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to generate response: %w", err)
		}
	}

	return &Result{
		Answer:        strings.TrimSpace(answer),
		Candidates:    candidates,
		RetrievedDocs: len(candidates),
	}, nil
}

// aggregate collapses chunk hits into one candidate per filename, keeping the best similarity.
// Hits outside allowed are discarded even if the store returned them.
func aggregate(hits []vectorstore.SearchResult, allowed access.AllowedSet) []Candidate {
	index := make(map[string]int, len(hits))
	var out []Candidate
	for _, h := range hits {
		if !allowed.Contains(h.Filename) {
			continue
		}
		summary := h.Summary
		if summary == "" {
			summary = h.Content
		}
		if i, ok := index[h.Filename]; ok {
			if h.Score > out[i].Similarity {
				out[i].Similarity = h.Score
				out[i].Summary = summary
				if h.SourceLink != "" {
					out[i].SourceLink = h.SourceLink
				}
			}
			continue
		}
		index[h.Filename] = len(out)
		out = append(out, Candidate{
			Filename:   h.Filename,
			SourceLink: h.SourceLink,
			Similarity: h.Score,
			Summary:    summary,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Similarity > out[j].Similarity
	})
	return out
}

func buildPrompt(question string, docs []Candidate, hits []vectorstore.SearchResult) string {
	var sb strings.Builder

	sb.WriteString("## Context Documents\n\n")
	for i, doc := range docs {
		sb.WriteString(fmt.Sprintf("[Doc %d] (Source: %s)\n", i+1, doc.Filename))
		for _, h := range hits {
			if h.Filename == doc.Filename && h.Content != "" {
				sb.WriteString(h.Content)
				sb.WriteString("\n")
			}
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Question\n")
	sb.WriteString(question)
	sb.WriteString("\n\n")
	sb.WriteString("## Answer (be brief and direct)\n")

	return sb.String()
}

var (
	_ Factory = (*QdrantFactory)(nil)
	_ Engine  = (*QdrantEngine)(nil)
)
