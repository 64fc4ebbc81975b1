// Package engine defines the per-department retrieval engine contract and the registry that
// constructs and memoizes one engine per department.
package engine

import (
	"context"

	"github.com/knoguchi/deptrag/internal/access"
)

// Candidate is one unranked retrieval hit
type Candidate struct {
	Filename   string  // original filename, joined against the document catalog
	SourceLink string
	Similarity float32 // base similarity from the index
	Summary    string  // text the reranker scores against the query
}

// Result is the outcome of one engine query
type Result struct {
	Answer        string
	Candidates    []Candidate
	RetrievedDocs int
}

// Engine answers questions against one department's index.
// Implementations must never return a candidate whose filename is outside allowed.
type Engine interface {
	Query(ctx context.Context, question string, topK int, allowed access.AllowedSet) (*Result, error)
}

// Factory constructs an engine from a department index directory
type Factory interface {
	Construct(ctx context.Context, indexPath string) (Engine, error)
}

// FactoryFunc adapts a function to Factory
type FactoryFunc func(ctx context.Context, indexPath string) (Engine, error)

// Construct calls f
func (f FactoryFunc) Construct(ctx context.Context, indexPath string) (Engine, error) {
	return f(ctx, indexPath)
}
