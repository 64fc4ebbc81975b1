package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/knoguchi/deptrag/internal/auth"
	"github.com/knoguchi/deptrag/internal/engine"
	"github.com/knoguchi/deptrag/internal/repository"
	"github.com/knoguchi/deptrag/internal/repository/inmem"
	"github.com/knoguchi/deptrag/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQuerier struct {
	resp      *service.QueryResponse
	err       error
	requester repository.Requester
	req       service.QueryRequest
	calls     int
}

func (f *fakeQuerier) Query(ctx context.Context, requester repository.Requester, req service.QueryRequest) (*service.QueryResponse, error) {
	f.calls++
	f.requester = requester
	f.req = req
	return f.resp, f.err
}

func newTestRouter(t *testing.T, q Querier, readiness map[string]ReadinessCheck) (http.Handler, *auth.JWTManager) {
	t.Helper()
	store := inmem.NewStore()
	dept := int64(4)
	store.AddUser(repository.QueryUser{ID: 1, Username: "alice", DefaultDepartmentID: &dept, Status: repository.QueryUserApproved, IsActive: true})
	tokens := auth.NewJWTManager(auth.DefaultJWTConfig("secret"))

	router := NewRouter(HTTPServerConfig{
		Querier:        q,
		Authenticator:  auth.NewAuthenticator(tokens, store, nil),
		Readiness:      readiness,
		AllowedOrigins: []string{"https://query.example"},
	}, nil)
	return router, tokens
}

func postQuery(t *testing.T, h http.Handler, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/rag/query", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestQueryHandler_Success(t *testing.T) {
	q := &fakeQuerier{resp: &service.QueryResponse{
		Query:  "leave",
		Answer: "20 days",
		Sources: []service.Source{
			{FileID: 9, FileName: "hr.pdf", DownloadLink: "/public/files/9/download"},
		},
	}}
	h, tokens := newTestRouter(t, q, nil)
	token, err := tokens.GenerateToken(1, "alice")
	require.NoError(t, err)

	rec := postQuery(t, h, `{"query":"leave","scope_ids":[4],"category_ids":[2,3]}`, token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "20 days", got["answer"])
	sources := got["sources"].([]any)
	require.Len(t, sources, 1)
	assert.Equal(t, map[string]any{
		"file_id":       float64(9),
		"file_name":     "hr.pdf",
		"source_link":   "",
		"download_link": "/public/files/9/download",
	}, sources[0])

	assert.Equal(t, repository.AuthenticatedQueryUser(1, "alice", 4), q.requester)
	assert.Equal(t, service.QueryRequest{Query: "leave", ScopeIDs: []int64{4}, CategoryIDs: []int64{2, 3}}, q.req)
}

func TestQueryHandler_AnonymousWithoutToken(t *testing.T) {
	q := &fakeQuerier{resp: &service.QueryResponse{Sources: []service.Source{}}}
	h, _ := newTestRouter(t, q, nil)

	rec := postQuery(t, h, `{"query":"leave","scope_ids":[1]}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, repository.Anonymous(), q.requester)
	assert.Contains(t, rec.Body.String(), `"sources":[]`)
}

func TestQueryHandler_BadRequests(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		detail string
	}{
		{name: "not json", body: `query=leave`, detail: "invalid request body"},
		{name: "missing query", body: `{"scope_ids":[1]}`, detail: "query is required"},
		{name: "non positive scope", body: `{"query":"q","scope_ids":[0]}`, detail: "scope_ids must contain positive ids"},
		{name: "non positive category", body: `{"query":"q","category_ids":[-2]}`, detail: "category_ids must contain positive ids"},
		{name: "query too long", body: fmt.Sprintf(`{"query":%q}`, strings.Repeat("x", 4001)), detail: "query must be at most 4000 characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &fakeQuerier{}
			h, _ := newTestRouter(t, q, nil)

			rec := postQuery(t, h, tt.body, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.detail)
			assert.Zero(t, q.calls)
		})
	}
}

func TestQueryHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		detail string
	}{
		{name: "scope required", err: service.ErrScopeRequired, status: http.StatusBadRequest, detail: "scope_ids is required"},
		{name: "invalid query", err: fmt.Errorf("%w: invalid department id -1", service.ErrInvalidQuery), status: http.StatusBadRequest, detail: "invalid department id"},
		{name: "engine unavailable", err: &engine.UnavailableError{DepartmentID: 3, Err: errors.New("no manifest")}, status: http.StatusServiceUnavailable, detail: "department 3"},
		{name: "internal", err: fmt.Errorf("%w: rerank: secret dsn", service.ErrInternal), status: http.StatusInternalServerError, detail: "query processing failed"},
		{name: "deadline", err: context.DeadlineExceeded, status: http.StatusGatewayTimeout, detail: "timed out"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestRouter(t, &fakeQuerier{err: tt.err}, nil)

			rec := postQuery(t, h, `{"query":"q","scope_ids":[1]}`, "")
			assert.Equal(t, tt.status, rec.Code)

			var body errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Contains(t, body.Detail, tt.detail)
			assert.NotContains(t, body.Detail, "secret dsn")
		})
	}
}

func TestHealthEndpoints(t *testing.T) {
	t.Run("healthz", func(t *testing.T) {
		h, _ := newTestRouter(t, &fakeQuerier{}, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
	})

	t.Run("ready", func(t *testing.T) {
		h, _ := newTestRouter(t, &fakeQuerier{}, map[string]ReadinessCheck{
			"database": func(ctx context.Context) error { return nil },
		})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("not ready", func(t *testing.T) {
		h, _ := newTestRouter(t, &fakeQuerier{}, map[string]ReadinessCheck{
			"database": func(ctx context.Context) error { return errors.New("connection refused") },
		})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.JSONEq(t, `{"status":"not ready","checks":{"database":"connection refused"}}`, rec.Body.String())
	})
}

func TestCORS(t *testing.T) {
	h, _ := newTestRouter(t, &fakeQuerier{}, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/rag/query", nil)
	req.Header.Set("Origin", "https://query.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://query.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodOptions, "/api/rag/query", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestNewHTTPServer_RequiresQuerier(t *testing.T) {
	_, err := NewHTTPServer(HTTPServerConfig{Port: 0})
	assert.Error(t, err)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
