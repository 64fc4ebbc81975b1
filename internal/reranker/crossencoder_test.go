package reranker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCrossEncoderScorer_ScoreBatch(t *testing.T) {
	var got crossEncoderRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rerank", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		// servers return results sorted by score, not by index
		_, _ = w.Write([]byte(`[{"index":1,"score":0.92},{"index":0,"score":0.08}]`))
	}))
	defer srv.Close()

	scores, err := NewCrossEncoderScorer(srv.URL+"/").ScoreBatch(context.Background(), "q", []string{"x", "y"})
	require.NoError(t, err)

	assert.Equal(t, []float32{0.08, 0.92}, scores)
	assert.Equal(t, "q", got.Query)
	assert.Equal(t, []string{"x", "y"}, got.Texts)
	assert.True(t, got.Truncate)
	assert.False(t, got.RawScores)
	assert.Empty(t, got.Model)
}

func TestCrossEncoderScorer_SendsModel(t *testing.T) {
	var got crossEncoderRequest
	var header string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("X-Rerank-Model")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`[{"index":0,"score":0.5}]`))
	}))
	defer srv.Close()

	s := NewCrossEncoderScorer(srv.URL, WithCrossEncoderModel("BAAI/bge-reranker-v2-m3"))
	_, err := s.ScoreBatch(context.Background(), "q", []string{"x"})
	require.NoError(t, err)

	assert.Equal(t, "BAAI/bge-reranker-v2-m3", got.Model)
	assert.Equal(t, "BAAI/bge-reranker-v2-m3", header)
}

func TestCrossEncoderScorer_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		payload string
	}{
		{name: "server error", status: http.StatusInternalServerError, payload: "boom"},
		{name: "missing index", status: http.StatusOK, payload: `[{"index":0,"score":0.5}]`},
		{name: "out of range", status: http.StatusOK, payload: `[{"index":0,"score":0.5},{"index":5,"score":0.1}]`},
		{name: "bad json", status: http.StatusOK, payload: `{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.payload))
			}))
			defer srv.Close()

			_, err := NewCrossEncoderScorer(srv.URL).ScoreBatch(context.Background(), "q", []string{"x", "y"})
			assert.Error(t, err)
		})
	}
}
