package article

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// RawArticle is an unvalidated record as produced by a page-fetcher. An
// empty ImageURL means the source had no image for the article.
type RawArticle struct {
	Headline string `json:"headline" yaml:"headline"`
	Link     string `json:"link" yaml:"link"`
	ImageURL string `json:"image_url,omitempty" yaml:"image_url,omitempty"`
}

// Record is a stored article. Records are written once and never updated.
type Record struct {
	Headline  string    `json:"headline"`
	Link      string    `json:"link"`
	ScrapedAt time.Time `json:"scrape_timestamp"`
	ImageRef  *string   `json:"image_id,omitempty"`
	Hash      string    `json:"hash"`
}

// HasImage reports whether the record references a stored image.
func (r *Record) HasImage() bool {
	return r.ImageRef != nil && *r.ImageRef != ""
}

// ImageBlob holds the bytes of a downloaded article image.
type ImageBlob struct {
	ID          string `json:"id"`
	SourceURL   string `json:"image_url"`
	Data        []byte `json:"-"`
	ContentType string `json:"content_type,omitempty"`
}

// IdentityHash returns the hex SHA-256 digest of headline followed by link.
// Two articles with the same headline and link are the same article, no
// matter when they were scraped or what image they carry.
func IdentityHash(headline, link string) string {
	sum := sha256.Sum256([]byte(headline + link))
	return hex.EncodeToString(sum[:])
}
