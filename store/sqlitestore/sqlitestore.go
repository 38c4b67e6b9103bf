// Package sqlitestore keeps articles and images in two SQLite tables that
// mirror the news_articles and news_images document collections.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pevans/newsingest/article"
)

// Store is a SQLite-backed article store.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// OpenReadOnly opens an existing database without creating the file or the
// schema. Writes through the returned store fail.
func OpenReadOnly(dbPath string) (*Store, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+dbPath+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Store{db: db}, nil
}

// New wraps an open database handle and makes sure the schema exists.
func New(db *sql.DB) (*Store, error) {
	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// initSchema creates the tables if they don't exist. The hash index is not
// unique; duplicates are rejected by the ingester's lookup.
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS news_images (
		id TEXT PRIMARY KEY,
		image BLOB NOT NULL,
		image_url TEXT NOT NULL,
		content_type TEXT
	);
	CREATE TABLE IF NOT EXISTS news_articles (
		hash TEXT NOT NULL,
		headline TEXT NOT NULL,
		link TEXT NOT NULL,
		scrape_timestamp TEXT NOT NULL,
		image_id TEXT REFERENCES news_images(id)
	);
	CREATE INDEX IF NOT EXISTS idx_news_articles_hash ON news_articles(hash);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Find returns the first record with the given hash, or nil if none exists.
func (s *Store) Find(ctx context.Context, hash string) (*article.Record, error) {
	query := `
		SELECT hash, headline, link, scrape_timestamp, image_id
		FROM news_articles
		WHERE hash = ?
		ORDER BY rowid
		LIMIT 1
	`

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query article: %w", err)
	}

	return rec, nil
}

// SaveImage inserts the image and returns its generated id.
func (s *Store) SaveImage(ctx context.Context, _ string, blob *article.ImageBlob) (string, error) {
	id := uuid.New().String()

	query := "INSERT INTO news_images (id, image, image_url, content_type) VALUES (?, ?, ?, ?)"
	_, err := s.db.ExecContext(ctx, query, id, blob.Data, blob.SourceURL, nullString(blob.ContentType))
	if err != nil {
		return "", fmt.Errorf("failed to insert image: %w", err)
	}

	return id, nil
}

// SaveArticle inserts rec.
func (s *Store) SaveArticle(ctx context.Context, rec *article.Record) error {
	query := `
		INSERT INTO news_articles (hash, headline, link, scrape_timestamp, image_id)
		VALUES (?, ?, ?, ?, ?)
	`

	var imageID any
	if rec.ImageRef != nil {
		imageID = *rec.ImageRef
	}

	_, err := s.db.ExecContext(ctx, query,
		rec.Hash,
		rec.Headline,
		rec.Link,
		formatTime(rec.ScrapedAt),
		imageID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert article: %w", err)
	}

	return nil
}

// List returns every record ordered by scrape time.
func (s *Store) List(ctx context.Context) ([]article.Record, error) {
	query := `
		SELECT hash, headline, link, scrape_timestamp, image_id
		FROM news_articles
		ORDER BY scrape_timestamp, rowid
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query articles: %w", err)
	}
	defer rows.Close()

	var records []article.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan article: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate articles: %w", err)
	}

	return records, nil
}

// Image returns the image with the given id, or nil if it doesn't exist.
func (s *Store) Image(ctx context.Context, id string) (*article.ImageBlob, error) {
	query := "SELECT id, image, image_url, content_type FROM news_images WHERE id = ?"

	var blob article.ImageBlob
	var contentType sql.NullString
	err := s.db.QueryRowContext(ctx, query, id).Scan(&blob.ID, &blob.Data, &blob.SourceURL, &contentType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query image: %w", err)
	}
	blob.ContentType = contentType.String

	return &blob, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*article.Record, error) {
	var rec article.Record
	var scrapedAt string
	var imageID sql.NullString

	if err := row.Scan(&rec.Hash, &rec.Headline, &rec.Link, &scrapedAt, &imageID); err != nil {
		return nil, err
	}

	t, err := parseTime(scrapedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid scrape_timestamp for %s: %w", rec.Hash, err)
	}
	rec.ScrapedAt = t
	if imageID.Valid {
		rec.ImageRef = &imageID.String
	}

	return &rec, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// timeLayout has fixed-width fractions so timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime accepts any RFC 3339 timestamp, with or without fractions.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
