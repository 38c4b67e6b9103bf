package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/pevans/newsingest/article"
	"github.com/pevans/newsingest/fetch"
)

// Selectors locate article data in a Google News page.
type Selectors struct {
	Article    string
	Headline   string
	Image      string
	TopStories string
}

// DefaultSelectors match the Google News markup: headline anchors carry the
// gPFEn class, and lead images sit inside a P22Vib figure so small logos are
// ignored.
var DefaultSelectors = Selectors{
	Article:    "article",
	Headline:   "a.gPFEn",
	Image:      "figure[class*='P22Vib'] img",
	TopStories: "a:contains('Top stories')",
}

// Errors that make a page fetch fail as a whole.
var (
	ErrNoArticles       = errors.New("no article elements found on page")
	ErrNoTopStoriesLink = errors.New("top stories link not found")
)

// GoogleNews fetches a Google News page and extracts its articles.
type GoogleNews struct {
	url        string
	topStories bool
	selectors  Selectors
	client     *http.Client
}

// NewGoogleNews creates a page-fetcher for pageURL. When topStories is set,
// the "Top stories" link on that page is followed first. Empty selector
// fields use DefaultSelectors. timeout bounds each page load.
func NewGoogleNews(pageURL string, topStories bool, selectors Selectors, timeout time.Duration) *GoogleNews {
	if selectors.Article == "" {
		selectors.Article = DefaultSelectors.Article
	}
	if selectors.Headline == "" {
		selectors.Headline = DefaultSelectors.Headline
	}
	if selectors.Image == "" {
		selectors.Image = DefaultSelectors.Image
	}
	if selectors.TopStories == "" {
		selectors.TopStories = DefaultSelectors.TopStories
	}

	return &GoogleNews{
		url:        pageURL,
		topStories: topStories,
		selectors:  selectors,
		client:     &http.Client{Timeout: timeout},
	}
}

// Fetch loads the page (and the top stories page, if configured) and returns
// one RawArticle per article element, in page order. Elements without a
// headline anchor produce a RawArticle with empty fields so the ingester can
// count them.
func (g *GoogleNews) Fetch(ctx context.Context) ([]article.RawArticle, error) {
	doc, base, err := g.load(ctx, g.url)
	if err != nil {
		return nil, err
	}

	if g.topStories {
		href, ok := doc.Find(g.selectors.TopStories).First().Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return nil, ErrNoTopStoriesLink
		}

		doc, base, err = g.load(ctx, resolve(base, href))
		if err != nil {
			return nil, err
		}
	}

	articles := Extract(doc, base, g.selectors)
	if len(articles) == 0 {
		return nil, ErrNoArticles
	}

	return articles, nil
}

// load fetches and parses pageURL. It returns the document and the final URL
// after redirects, used to resolve relative links.
func (g *GoogleNews) load(ctx context.Context, pageURL string) (*goquery.Document, *url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", fetch.UserAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	return doc, resp.Request.URL, nil
}

// Extract pulls raw articles out of a parsed page. Links and image sources
// are resolved against base.
func Extract(doc *goquery.Document, base *url.URL, selectors Selectors) []article.RawArticle {
	var articles []article.RawArticle

	doc.Find(selectors.Article).Each(func(_ int, s *goquery.Selection) {
		anchor := s.Find(selectors.Headline).First()
		href, _ := anchor.Attr("href")
		src, _ := s.Find(selectors.Image).First().Attr("src")

		articles = append(articles, article.RawArticle{
			Headline: strings.TrimSpace(anchor.Text()),
			Link:     resolve(base, href),
			ImageURL: resolve(base, src),
		})
	})

	return articles
}

// resolve makes ref absolute against base. Empty or unparsable references
// come back empty or unchanged.
func resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}

	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if base == nil {
		return u.String()
	}

	return base.ResolveReference(u).String()
}
