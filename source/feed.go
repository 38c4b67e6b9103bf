package source

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/pevans/newsingest/article"
	"github.com/pevans/newsingest/fetch"
)

// Feed reads articles from an RSS or Atom feed. gofeed detects the format.
type Feed struct {
	url    string
	parser *gofeed.Parser
}

// NewFeed creates a feed fetcher.
func NewFeed(feedURL string, timeout time.Duration) *Feed {
	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: timeout}
	parser.UserAgent = fetch.UserAgent

	return &Feed{url: feedURL, parser: parser}
}

// Fetch downloads and parses the feed.
func (f *Feed) Fetch(ctx context.Context) ([]article.RawArticle, error) {
	feed, err := f.parser.ParseURLWithContext(f.url, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	return FeedToRawArticles(feed), nil
}

// FeedToRawArticles converts every feed item, in feed order.
func FeedToRawArticles(feed *gofeed.Feed) []article.RawArticle {
	articles := make([]article.RawArticle, 0, len(feed.Items))
	for _, item := range feed.Items {
		articles = append(articles, FeedItemToRawArticle(item))
	}
	return articles
}

// FeedItemToRawArticle maps a feed item. The image comes from the item image,
// then the first image enclosure, then media:content or media:thumbnail.
func FeedItemToRawArticle(item *gofeed.Item) article.RawArticle {
	return article.RawArticle{
		Headline: strings.TrimSpace(item.Title),
		Link:     strings.TrimSpace(item.Link),
		ImageURL: itemImage(item),
	}
}

func itemImage(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}

	for _, enc := range item.Enclosures {
		if enc != nil && enc.URL != "" && strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}

	media := item.Extensions["media"]
	for _, name := range []string{"content", "thumbnail"} {
		for _, e := range media[name] {
			if u := e.Attrs["url"]; u != "" {
				return u
			}
		}
	}

	return ""
}
