package source

import (
	"testing"
	"time"

	"github.com/pevans/newsingest/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNew verifies the source type selects the fetcher
func TestNew(t *testing.T) {
	tests := []struct {
		typ  string
		want any
	}{
		{config.SourceGoogle, &GoogleNews{}},
		{config.SourceRSS, &Feed{}},
		{config.SourceFile, &File{}},
	}

	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			src, err := New(config.SourceConfig{Type: tt.typ, URL: "http://example.com", Timeout: time.Second})
			require.NoError(t, err)
			assert.IsType(t, tt.want, src)
		})
	}
}

// TestNew_Unknown verifies unknown types are rejected
func TestNew_Unknown(t *testing.T) {
	_, err := New(config.SourceConfig{Type: "carrier-pigeon"})
	assert.Error(t, err)
}

// TestNew_SelectorOverride verifies configured selectors reach the extractor
func TestNew_SelectorOverride(t *testing.T) {
	cfg := config.SourceConfig{Type: config.SourceGoogle, URL: "http://example.com"}
	cfg.Selectors.Headline = "h2 a"

	src, err := New(cfg)
	require.NoError(t, err)

	g := src.(*GoogleNews)
	assert.Equal(t, "h2 a", g.selectors.Headline)
	assert.Equal(t, DefaultSelectors.Article, g.selectors.Article)
}
