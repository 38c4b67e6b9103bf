package source

import (
	"context"
	"fmt"
	"os"

	"github.com/pevans/newsingest/article"
	"gopkg.in/yaml.v3"
)

// File reads articles from a YAML or JSON fixture: a list of objects with
// headline, link and optional image_url.
type File struct {
	path string
}

// NewFile creates a fixture-file fetcher.
func NewFile(path string) *File {
	return &File{path: path}
}

// Fetch reads and parses the file.
func (f *File) Fetch(_ context.Context) ([]article.RawArticle, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture file: %w", err)
	}

	var articles []article.RawArticle
	if err := yaml.Unmarshal(data, &articles); err != nil {
		return nil, fmt.Errorf("failed to parse fixture file: %w", err)
	}

	return articles, nil
}
