package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/knoguchi/deptrag/internal/access"
	"github.com/knoguchi/deptrag/internal/llm"
	"github.com/knoguchi/deptrag/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	model string
	dim   int
	err   error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0, 0}, nil
}
func (f *fakeEmbedder) Dimension() int    { return f.dim }
func (f *fakeEmbedder) ModelName() string { return f.model }

type fakeSearcher struct {
	collections map[string]bool
	hits        []vectorstore.SearchResult
	gotFilter   []string
	gotTopK     int
}

func (f *fakeSearcher) CollectionExists(ctx context.Context, collection string) (bool, error) {
	return f.collections[collection], nil
}

func (f *fakeSearcher) Search(ctx context.Context, collection string, vector []float32, topK int, filenames []string) ([]vectorstore.SearchResult, error) {
	f.gotFilter = filenames
	f.gotTopK = topK
	return f.hits, nil
}

type fakeLLM struct {
	calls  int
	prompt string
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
	f.calls++
	f.prompt = prompt
	return "  the answer \n", nil
}

func newFactoryDir(t *testing.T) string {
	dir := t.TempDir()
	writeManifest(t, dir, "collection: dept_1\nembedding_model: nomic-embed-text\ndimension: 3\nanswer_context: 1\n")
	return dir
}

func TestQdrantFactory_Construct(t *testing.T) {
	dir := newFactoryDir(t)
	store := &fakeSearcher{collections: map[string]bool{"dept_1": true}}

	t.Run("valid index", func(t *testing.T) {
		f := NewQdrantFactory(store, &fakeEmbedder{model: "nomic-embed-text", dim: 3}, &fakeLLM{})
		eng, err := f.Construct(context.Background(), dir)
		require.NoError(t, err)
		assert.Equal(t, "dept_1", eng.(*QdrantEngine).Manifest().Collection)
	})

	t.Run("model mismatch", func(t *testing.T) {
		f := NewQdrantFactory(store, &fakeEmbedder{model: "bge-m3", dim: 3}, &fakeLLM{})
		_, err := f.Construct(context.Background(), dir)
		assert.ErrorIs(t, err, ErrManifestInvalid)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		f := NewQdrantFactory(store, &fakeEmbedder{model: "nomic-embed-text", dim: 768}, &fakeLLM{})
		_, err := f.Construct(context.Background(), dir)
		assert.ErrorIs(t, err, ErrManifestInvalid)
	})

	t.Run("missing collection", func(t *testing.T) {
		f := NewQdrantFactory(&fakeSearcher{}, &fakeEmbedder{model: "nomic-embed-text", dim: 3}, &fakeLLM{})
		_, err := f.Construct(context.Background(), dir)
		assert.Error(t, err)
	})
}

func TestQdrantEngine_Query(t *testing.T) {
	store := &fakeSearcher{
		collections: map[string]bool{"dept_1": true},
		hits: []vectorstore.SearchResult{
			{Filename: "a.pdf", Content: "a chunk 1", Score: 0.4},
			{Filename: "b.pdf", Content: "b chunk", Summary: "b summary", Score: 0.7, SourceLink: "https://b"},
			{Filename: "a.pdf", Content: "a chunk 2", Score: 0.9},
			{Filename: "leak.pdf", Content: "must not appear", Score: 0.99},
		},
	}
	gen := &fakeLLM{}
	f := NewQdrantFactory(store, &fakeEmbedder{model: "nomic-embed-text", dim: 3}, gen)
	eng, err := f.Construct(context.Background(), newFactoryDir(t))
	require.NoError(t, err)

	allowed := access.NewAllowedSet("b.pdf", "a.pdf")
	res, err := eng.Query(context.Background(), "what?", 250, allowed)
	require.NoError(t, err)

	assert.Equal(t, []string{"a.pdf", "b.pdf"}, store.gotFilter)
	assert.Equal(t, 250, store.gotTopK)
	assert.Equal(t, "the answer", res.Answer)
	assert.Equal(t, 2, res.RetrievedDocs)
	require.Len(t, res.Candidates, 2)

	assert.Equal(t, Candidate{Filename: "a.pdf", Similarity: 0.9, Summary: "a chunk 2"}, res.Candidates[0])
	assert.Equal(t, Candidate{Filename: "b.pdf", Similarity: 0.7, Summary: "b summary", SourceLink: "https://b"}, res.Candidates[1])

	// answer_context: 1 keeps only the best document in the prompt
	assert.Equal(t, 1, gen.calls)
	assert.Contains(t, gen.prompt, "a chunk 1")
	assert.NotContains(t, gen.prompt, "b chunk")
	assert.NotContains(t, gen.prompt, "must not appear")
}

func TestQdrantEngine_EmptyAllowedSkipsBackends(t *testing.T) {
	store := &fakeSearcher{collections: map[string]bool{"dept_1": true}}
	gen := &fakeLLM{}
	f := NewQdrantFactory(store, &fakeEmbedder{model: "nomic-embed-text", dim: 3, err: errors.New("unreachable")}, gen)
	eng, err := f.Construct(context.Background(), newFactoryDir(t))
	require.NoError(t, err)

	res, err := eng.Query(context.Background(), "q", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Candidates)
	assert.Zero(t, gen.calls)
	assert.Nil(t, store.gotFilter)
}

func TestQdrantEngine_NoHitsSkipsGeneration(t *testing.T) {
	store := &fakeSearcher{collections: map[string]bool{"dept_1": true}}
	gen := &fakeLLM{}
	f := NewQdrantFactory(store, &fakeEmbedder{model: "nomic-embed-text", dim: 3}, gen)
	eng, err := f.Construct(context.Background(), newFactoryDir(t))
	require.NoError(t, err)

	res, err := eng.Query(context.Background(), "q", 10, access.NewAllowedSet("a.pdf"))
	require.NoError(t, err)
	assert.Empty(t, res.Answer)
	assert.Zero(t, res.RetrievedDocs)
	assert.Zero(t, gen.calls)
}

func TestQdrantEngine_EmbedFailure(t *testing.T) {
	store := &fakeSearcher{collections: map[string]bool{"dept_1": true}}
	boom := errors.New("ollama down")
	f := NewQdrantFactory(store, &fakeEmbedder{model: "nomic-embed-text", dim: 3, err: boom}, &fakeLLM{})
	eng, err := f.Construct(context.Background(), newFactoryDir(t))
	require.NoError(t, err)

	_, err = eng.Query(context.Background(), "q", 10, access.NewAllowedSet("a.pdf"))
	assert.ErrorIs(t, err, boom)
}
