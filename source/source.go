// Package source provides the page-fetchers that produce raw articles.
package source

import (
	"fmt"

	"github.com/pevans/newsingest/config"
	"github.com/pevans/newsingest/ingest"
)

// New builds the page-fetcher described by cfg.
func New(cfg config.SourceConfig) (ingest.Source, error) {
	switch cfg.Type {
	case config.SourceGoogle:
		selectors := Selectors{
			Article:    cfg.Selectors.Article,
			Headline:   cfg.Selectors.Headline,
			Image:      cfg.Selectors.Image,
			TopStories: cfg.Selectors.TopStories,
		}
		return NewGoogleNews(cfg.URL, cfg.TopStories, selectors, cfg.Timeout), nil
	case config.SourceRSS:
		return NewFeed(cfg.URL, cfg.Timeout), nil
	case config.SourceFile:
		return NewFile(cfg.URL), nil
	default:
		return nil, fmt.Errorf("unsupported source type: %s", cfg.Type)
	}
}
