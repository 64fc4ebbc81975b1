package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ManifestFile is the name of the manifest inside a department index directory
const ManifestFile = "manifest.yaml"

// DefaultAnswerContext is how many top candidates feed answer generation when the manifest omits it
const DefaultAnswerContext = 5

// Manifest describes a built department index
type Manifest struct {
	Collection     string `yaml:"collection"`
	EmbeddingModel string `yaml:"embedding_model"`
	Dimension      int    `yaml:"dimension"`
	AnswerContext  int    `yaml:"answer_context"`
}

// LoadManifest reads and validates <indexPath>/manifest.yaml
func LoadManifest(indexPath string) (*Manifest, error) {
	path := filepath.Join(indexPath, ManifestFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s does not exist", ErrManifestInvalid, path)
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrManifestInvalid, path, err)
	}
	if m.Collection == "" {
		return nil, fmt.Errorf("%w: %s: collection is required", ErrManifestInvalid, path)
	}
	if m.EmbeddingModel == "" {
		return nil, fmt.Errorf("%w: %s: embedding_model is required", ErrManifestInvalid, path)
	}
	if m.Dimension < 0 || m.AnswerContext < 0 {
		return nil, fmt.Errorf("%w: %s: dimension and answer_context must not be negative", ErrManifestInvalid, path)
	}
	if m.AnswerContext == 0 {
		m.AnswerContext = DefaultAnswerContext
	}
	return &m, nil
}
