// Package service coordinates one department query from scope resolution to the audited response.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/knoguchi/deptrag/internal/access"
	"github.com/knoguchi/deptrag/internal/audit"
	"github.com/knoguchi/deptrag/internal/engine"
	"github.com/knoguchi/deptrag/internal/repository"
	"github.com/knoguchi/deptrag/internal/reranker"
	"github.com/knoguchi/deptrag/internal/worker"
)

const (
	// DefaultCandidateBudget is how many candidates the engine may return per query
	DefaultCandidateBudget = 250

	// DefaultDownloadLinkPrefix prefixes the document id in download links
	DefaultDownloadLinkPrefix = "/public/files"
)

// Canned answers returned when the requester may see nothing
const (
	msgNoPublicDocuments    = "Sorry, there is no public information available to query right now. Please sign in to access more content."
	msgNoPermittedDocuments = "Sorry, you do not currently have permission to access any documents. Please contact an administrator to request access."
	msgNoPublicInCategory   = "Sorry, no public information was found in the selected categories."
	msgNoPermittedCategory  = "Sorry, no information you have permission to access was found in the selected categories."
)

// ScopeResolver derives the documents a requester may see
type ScopeResolver interface {
	Resolve(ctx context.Context, requester repository.Requester, departmentID int64, categoryIDs []int64) (access.Resolution, error)
}

// EngineProvider hands out the retrieval engine of a department
type EngineProvider interface {
	Get(ctx context.Context, departmentID int64) (engine.Engine, error)
}

// Ranker orders retrieval candidates by relevance
type Ranker interface {
	Rerank(ctx context.Context, query string, candidates []engine.Candidate, threshold *float32) ([]reranker.ScoredCandidate, error)
}

// AuditRecorder persists the outcome of a query. It must not fail the caller.
type AuditRecorder interface {
	Record(ctx context.Context, e audit.Entry)
}

// QueryRequest is one natural-language question
type QueryRequest struct {
	Query       string
	ScopeIDs    []int64
	CategoryIDs []int64
}

// Source is an attributable document behind an answer
type Source struct {
	FileID       int64  `json:"file_id"`
	FileName     string `json:"file_name"`
	SourceLink   string `json:"source_link"`
	DownloadLink string `json:"download_link"`
}

// QueryResponse is the answer with its ordered sources
type QueryResponse struct {
	Query   string   `json:"query"`
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
}

// Stats are process-lifetime counters
type Stats struct {
	Queries        int64
	EmptyScope     int64
	DroppedSources int64
}

// QueryService answers department queries
type QueryService struct {
	resolver ScopeResolver
	engines  EngineProvider
	ranker   Ranker
	catalog  repository.DocumentCatalog
	audit    AuditRecorder

	pool            *worker.Pool
	candidateBudget int
	threshold       *float32
	downloadPrefix  string
	logger          *slog.Logger

	queries    atomic.Int64
	emptyScope atomic.Int64
	dropped    atomic.Int64
}

// Option configures a QueryService
type Option func(*QueryService)

// WithPool runs retrieval and reranking on pool workers
func WithPool(pool *worker.Pool) Option {
	return func(s *QueryService) {
		s.pool = pool
	}
}

// WithCandidateBudget sets the engine's topK
func WithCandidateBudget(n int) Option {
	return func(s *QueryService) {
		if n > 0 {
			s.candidateBudget = n
		}
	}
}

// WithRerankThreshold drops candidates scoring below t. Nil means no threshold.
func WithRerankThreshold(t *float32) Option {
	return func(s *QueryService) {
		s.threshold = t
	}
}

// WithDownloadLinkPrefix sets the path prefix of download links
func WithDownloadLinkPrefix(prefix string) Option {
	return func(s *QueryService) {
		if prefix != "" {
			s.downloadPrefix = strings.TrimSuffix(prefix, "/")
		}
	}
}

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *QueryService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewQueryService creates a query service
func NewQueryService(
	resolver ScopeResolver,
	engines EngineProvider,
	ranker Ranker,
	catalog repository.DocumentCatalog,
	recorder AuditRecorder,
	opts ...Option,
) *QueryService {
	s := &QueryService{
		resolver:        resolver,
		engines:         engines,
		ranker:          ranker,
		catalog:         catalog,
		audit:           recorder,
		candidateBudget: DefaultCandidateBudget,
		downloadPrefix:  DefaultDownloadLinkPrefix,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Query answers req for requester.
//
// Errors: ErrInvalidQuery and ErrScopeRequired before any lookup, *engine.UnavailableError when the
// department's engine cannot be built, ErrInternal for lookup, retrieval or scoring failures, and
// the context error when ctx ends first.
func (s *QueryService) Query(ctx context.Context, requester repository.Requester, req QueryRequest) (*QueryResponse, error) {
	start := time.Now()
	s.queries.Add(1)

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrInvalidQuery
	}

	departmentID, err := targetDepartment(requester, req.ScopeIDs)
	if err != nil {
		return nil, err
	}

	logger := s.logger.With(
		"department_id", departmentID,
		"requester", requester.Class(),
	)

	scope, err := s.resolver.Resolve(ctx, requester, departmentID, req.CategoryIDs)
	if err != nil {
		return nil, s.internal(ctx, "scope resolution", err)
	}
	if scope.IsEmpty() {
		s.emptyScope.Add(1)
		logger.Info("empty access scope", "reason", scope.Empty.String())
		return &QueryResponse{
			Query:   req.Query,
			Answer:  cannedAnswer(requester, scope.Empty),
			Sources: []Source{},
		}, nil
	}

	eng, err := s.engines.Get(ctx, departmentID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}

	var (
		result *engine.Result
		ranked []reranker.ScoredCandidate
	)
	err = s.run(ctx, func(ctx context.Context) error {
		res, err := eng.Query(ctx, query, s.candidateBudget, scope.Allowed)
		if err != nil {
			return fmt.Errorf("retrieval: %w", err)
		}
		if res == nil {
			res = &engine.Result{}
		}
		scored, err := s.ranker.Rerank(ctx, query, res.Candidates, s.threshold)
		if err != nil {
			return fmt.Errorf("rerank: %w", err)
		}
		result, ranked = res, scored
		return nil
	})
	if err != nil {
		return nil, s.internal(ctx, "query", err)
	}

	sources := make([]Source, 0, len(ranked))
	for _, c := range ranked {
		if !scope.Allowed.Contains(c.Filename) {
			// engines must filter, but never let a disallowed document through
			logger.Error("engine returned a document outside the access scope", "filename", c.Filename)
			continue
		}
		doc, err := s.catalog.FindByFilename(ctx, departmentID, c.Filename)
		if errors.Is(err, repository.ErrNotFound) {
			s.dropped.Add(1)
			logger.Warn("file record not found for retrieved document", "filename", c.Filename)
			continue
		}
		if err != nil {
			return nil, s.internal(ctx, "document lookup", err)
		}
		sources = append(sources, Source{
			FileID:       doc.ID,
			FileName:     c.Filename,
			SourceLink:   c.SourceLink,
			DownloadLink: fmt.Sprintf("%s/%d/download", s.downloadPrefix, doc.ID),
		})
	}

	resp := &QueryResponse{
		Query:   req.Query,
		Answer:  result.Answer,
		Sources: sources,
	}

	elapsed := time.Since(start)
	s.audit.Record(ctx, audit.Entry{
		RequesterClass: requester.Class(),
		DepartmentID:   departmentID,
		Query:          req.Query,
		Answer:         result.Answer,
		ProcessingTime: elapsed,
		SourceCount:    len(sources),
		ExtraData:      extraData(requester, req, result.RetrievedDocs),
	})

	logger.Info("query answered",
		"candidates", len(result.Candidates),
		"ranked", len(ranked),
		"sources", len(sources),
		"duration", elapsed,
	)
	return resp, nil
}

// Stats returns the service counters
func (s *QueryService) Stats() Stats {
	return Stats{
		Queries:        s.queries.Load(),
		EmptyScope:     s.emptyScope.Load(),
		DroppedSources: s.dropped.Load(),
	}
}

func (s *QueryService) run(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.pool == nil {
		return fn(ctx)
	}
	return s.pool.Do(ctx, fn)
}

func (s *QueryService) internal(ctx context.Context, stage string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	s.logger.Error("query failed", "stage", stage, "error", err)
	return fmt.Errorf("%w: %s: %w", ErrInternal, stage, err)
}

// targetDepartment picks the first explicit scope, then the requester's default department
func targetDepartment(requester repository.Requester, scopeIDs []int64) (int64, error) {
	if len(scopeIDs) > 0 {
		if scopeIDs[0] <= 0 {
			return 0, fmt.Errorf("%w: invalid department id %d", ErrInvalidQuery, scopeIDs[0])
		}
		return scopeIDs[0], nil
	}
	if requester.Kind == repository.RequesterQueryUser && requester.DefaultDepartmentID > 0 {
		return requester.DefaultDepartmentID, nil
	}
	return 0, ErrScopeRequired
}

func cannedAnswer(requester repository.Requester, reason access.EmptyReason) string {
	anonymous := requester.Kind != repository.RequesterQueryUser
	switch {
	case reason == access.EmptyCategory && anonymous:
		return msgNoPublicInCategory
	case reason == access.EmptyCategory:
		return msgNoPermittedCategory
	case anonymous:
		return msgNoPublicDocuments
	default:
		return msgNoPermittedDocuments
	}
}

func extraData(requester repository.Requester, req QueryRequest, retrievedDocs int) map[string]any {
	extra := map[string]any{
		"category_ids":   nonNil(req.CategoryIDs),
		"scope_ids":      nonNil(req.ScopeIDs),
		"retrieved_docs": retrievedDocs,
	}
	if requester.Kind == repository.RequesterQueryUser {
		extra["query_user_id"] = requester.UserID
		extra["query_user_name"] = requester.Username
	}
	return extra
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
