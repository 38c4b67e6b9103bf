// Package fetch downloads article images over HTTP.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pevans/newsingest/article"
	"github.com/pevans/newsingest/ingest"
)

// UserAgent identifies newsingest in outgoing requests.
const UserAgent = "newsingest/1.0 (news headline archiver)"

// Defaults for HTTPImageFetcher.
const (
	DefaultTimeout  = 10 * time.Second
	DefaultMaxBytes = 10 << 20
)

// ErrTooLarge is returned when an image body exceeds the size cap.
var ErrTooLarge = errors.New("image exceeds size limit")

// HTTPImageFetcher fetches images with a single bounded GET. Anything other
// than 200 OK is a failure.
type HTTPImageFetcher struct {
	client   *http.Client
	maxBytes int64
}

// NewHTTPImageFetcher creates a fetcher. Zero values select the defaults.
func NewHTTPImageFetcher(timeout time.Duration, maxBytes int64) *HTTPImageFetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	return &HTTPImageFetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
	}
}

// Fetch downloads the image at url. Failures are *ingest.ImageFetchError.
func (f *HTTPImageFetcher) Fetch(ctx context.Context, url string) (*article.ImageBlob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &ingest.ImageFetchError{URL: url, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "image/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &ingest.ImageFetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ingest.ImageFetchError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("HTTP error: %s", resp.Status),
		}
	}

	// Read one byte past the cap so an oversized body is detectable.
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, &ingest.ImageFetchError{URL: url, Err: fmt.Errorf("failed to read body: %w", err)}
	}
	if int64(len(data)) > f.maxBytes {
		return nil, &ingest.ImageFetchError{URL: url, Err: ErrTooLarge}
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	return &article.ImageBlob{
		SourceURL:   url,
		Data:        data,
		ContentType: contentType,
	}, nil
}
