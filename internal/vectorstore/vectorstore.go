// Package vectorstore provides similarity search over department vector collections.
package vectorstore

import (
	"context"
)

// Payload keys written by the indexing pipeline for every chunk
const (
	PayloadFilename   = "filename"
	PayloadContent    = "content"
	PayloadSummary    = "summary"
	PayloadSourceLink = "source_link"
)

// SearchResult represents a search result from the vector store
type SearchResult struct {
	ID         string
	Filename   string
	Content    string
	Summary    string
	SourceLink string
	Score      float32
	Metadata   map[string]string
}

// Searcher runs filtered similarity search against a named collection
type Searcher interface {
	// CollectionExists checks if a collection exists
	CollectionExists(ctx context.Context, collection string) (bool, error)

	// Search returns up to topK chunks whose filename is one of filenames, best first.
	// An empty filenames slice matches nothing.
	Search(ctx context.Context, collection string, vector []float32, topK int, filenames []string) ([]SearchResult, error)
}
