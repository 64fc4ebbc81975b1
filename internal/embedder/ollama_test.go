package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaEmbedder_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)

		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		assert.Equal(t, "annual leave", req.Input)

		_ = json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{0.1, 0.2, 0.3}}})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(OllamaConfig{BaseURL: srv.URL + "/"})
	vec, err := e.Embed(context.Background(), "annual leave")
	require.NoError(t, err)

	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, 768, e.Dimension())
	assert.Equal(t, "nomic-embed-text", e.ModelName())
}

func TestOllamaEmbedder_Errors(t *testing.T) {
	t.Run("non-200 status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model not found", http.StatusNotFound)
		}))
		defer srv.Close()

		_, err := NewOllamaEmbedder(OllamaConfig{BaseURL: srv.URL}).Embed(context.Background(), "q")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 404")
	})

	t.Run("empty embedding", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"embeddings":[]}`))
		}))
		defer srv.Close()

		_, err := NewOllamaEmbedder(OllamaConfig{BaseURL: srv.URL}).Embed(context.Background(), "q")
		assert.Error(t, err)
	})
}
