// Package csvstore keeps articles in a CSV file and images as files in a
// directory next to it.
package csvstore

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pevans/newsingest/article"
)

// Header is the first row of every CSV file written by the store.
var Header = []string{"Headline", "Link", "Image Filename"}

// maxNameRunes is how much of the headline goes into an image filename.
const maxNameRunes = 50

// Store errors.
var (
	ErrBadHeader = errors.New("csv file has an unexpected header")
	// ErrLineBreak is returned for CR-LF in a headline or link. The CSV
	// reader turns it into LF, so the row would hash differently on reopen.
	ErrLineBreak = errors.New("field contains a CR-LF line break")
	ErrReadOnly  = errors.New("store was opened read-only")
)

// Store is a file-backed article store. Existing rows are indexed on open so
// duplicates are detected across runs.
type Store struct {
	path     string
	imageDir string
	file     *os.File
	writer   *csv.Writer
	index    map[string]*article.Record
	records  []*article.Record
}

// OpenReadOnly indexes an existing CSV file without creating or writing
// anything. A missing file is an empty store.
func OpenReadOnly(path, imageDir string) (*Store, error) {
	s := &Store{
		path:     path,
		imageDir: imageDir,
		index:    make(map[string]*article.Record),
	}

	if _, err := s.load(); err != nil {
		return nil, err
	}

	return s, nil
}

// Open opens or creates the CSV file at path and the image directory.
func Open(path, imageDir string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create csv directory: %w", err)
		}
	}
	if err := os.MkdirAll(imageDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create image directory: %w", err)
	}

	s := &Store{
		path:     path,
		imageDir: imageDir,
		index:    make(map[string]*article.Record),
	}

	hasHeader, err := s.load()
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open csv file: %w", err)
	}
	s.file = file
	s.writer = csv.NewWriter(file)

	if !hasHeader {
		if err := s.writeRow(Header); err != nil {
			file.Close()
			return nil, err
		}
	}

	return s, nil
}

// load indexes rows from an existing file. It reports whether a header row
// was present.
func (s *Store) load() (bool, error) {
	file, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to open csv file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = len(Header)

	header, err := reader.Read()
	if err == io.EOF {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read csv header: %w", err)
	}
	if !slices.Equal(header, Header) {
		return false, fmt.Errorf("%w: %v", ErrBadHeader, header)
	}

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return false, fmt.Errorf("failed to read csv row: %w", err)
		}

		rec := &article.Record{
			Headline: row[0],
			Link:     row[1],
			Hash:     article.IdentityHash(row[0], row[1]),
		}
		if row[2] != "" {
			ref := row[2]
			rec.ImageRef = &ref
		}
		s.add(rec)
	}

	return true, nil
}

func (s *Store) add(rec *article.Record) {
	if _, ok := s.index[rec.Hash]; !ok {
		s.index[rec.Hash] = rec
	}
	s.records = append(s.records, rec)
}

func (s *Store) writeRow(row []string) error {
	if s.writer == nil {
		return ErrReadOnly
	}
	if err := s.writer.Write(row); err != nil {
		return fmt.Errorf("failed to write csv row: %w", err)
	}
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return fmt.Errorf("failed to flush csv row: %w", err)
	}
	return nil
}

// Find returns the record with the given hash, or nil if none exists.
func (s *Store) Find(_ context.Context, hash string) (*article.Record, error) {
	rec, ok := s.index[hash]
	if !ok {
		return nil, nil
	}
	return rec, nil
}

// SaveImage writes the image bytes to a file named after the headline and
// returns the file path.
func (s *Store) SaveImage(_ context.Context, headline string, blob *article.ImageBlob) (string, error) {
	if s.writer == nil {
		return "", ErrReadOnly
	}
	if strings.Contains(headline, "\r\n") {
		return "", ErrLineBreak
	}

	path, err := s.freePath(ImageFilename(headline))
	if err != nil {
		return "", err
	}

	// O_EXCL so an existing image is never overwritten
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("failed to create image file: %w", err)
	}
	if _, err := file.Write(blob.Data); err != nil {
		file.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to write image file: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("failed to close image file: %w", err)
	}

	return path, nil
}

// freePath returns a path in the image directory that does not exist yet,
// adding _2, _3, ... before the extension on collision.
func (s *Store) freePath(name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	candidate := filepath.Join(s.imageDir, name)
	for n := 2; ; n++ {
		_, err := os.Stat(candidate)
		if os.IsNotExist(err) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to stat image file: %w", err)
		}
		candidate = filepath.Join(s.imageDir, fmt.Sprintf("%s_%d%s", stem, n, ext))
	}
}

// SaveArticle appends a row for rec.
func (s *Store) SaveArticle(_ context.Context, rec *article.Record) error {
	if strings.Contains(rec.Headline, "\r\n") || strings.Contains(rec.Link, "\r\n") {
		return ErrLineBreak
	}

	imageFilename := ""
	if rec.ImageRef != nil {
		imageFilename = *rec.ImageRef
	}

	if err := s.writeRow([]string{rec.Headline, rec.Link, imageFilename}); err != nil {
		return err
	}

	stored := *rec
	s.add(&stored)
	return nil
}

// List returns all records in file order. The CSV layout has no timestamp
// column, so records loaded from disk have a zero ScrapedAt.
func (s *Store) List(_ context.Context) ([]article.Record, error) {
	out := make([]article.Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, *rec)
	}
	return out, nil
}

// Image reads a stored image. Only the base name of ref is used, so lookups
// never leave the image directory. Returns nil, nil if the file is missing.
func (s *Store) Image(_ context.Context, ref string) (*article.ImageBlob, error) {
	name := filepath.Base(ref)
	if name == "." || name == string(filepath.Separator) {
		return nil, nil
	}

	path := filepath.Join(s.imageDir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read image file: %w", err)
	}

	return &article.ImageBlob{
		ID:          path,
		Data:        data,
		ContentType: http.DetectContentType(data),
	}, nil
}

// Close flushes pending rows and closes the file.
func (s *Store) Close() error {
	if s.writer == nil {
		return nil
	}
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		s.file.Close()
		return fmt.Errorf("failed to flush csv file: %w", err)
	}
	return s.file.Close()
}

// ImageFilename builds an image filename from the first 50 characters of a
// headline, with spaces and path separators replaced by underscores.
func ImageFilename(headline string) string {
	runes := []rune(headline)
	if len(runes) > maxNameRunes {
		runes = runes[:maxNameRunes]
	}

	name := strings.NewReplacer(" ", "_", "/", "_", `\`, "_").Replace(string(runes))
	if name == "" || name == "." || name == ".." {
		name = "image"
	}

	return name + ".jpg"
}
