// Package embedder provides query embedding for retrieval.
package embedder

import "context"

// Embedder turns text into a dense vector
type Embedder interface {
	// Embed generates an embedding vector for a single text input.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the dimensionality of the embedding vectors.
	Dimension() int

	// ModelName returns the name of the embedding model being used.
	ModelName() string
}

// KnownDimensions maps embedding model names to their vector size
var KnownDimensions = map[string]int{
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"all-minilm":             384,
	"snowflake-arctic-embed": 1024,
	"bge-m3":                 1024,
}

// DimensionFor returns the vector size of a model, or 0 if unknown
func DimensionFor(model string) int {
	return KnownDimensions[model]
}
