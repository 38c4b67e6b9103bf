package ingest

import (
	"errors"
	"fmt"
)

// Per-record skip reasons.
var (
	ErrInvalidRecord   = errors.New("record is missing a headline or link")
	ErrDuplicateRecord = errors.New("record already stored")
)

// ImageFetchError describes a failed image download. It never aborts a
// record; the article is stored without an image.
type ImageFetchError struct {
	URL        string
	StatusCode int // 0 when the request never got a response
	Err        error
}

func (e *ImageFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("image fetch %s: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("image fetch %s: %v", e.URL, e.Err)
}

func (e *ImageFetchError) Unwrap() error {
	return e.Err
}

// PersistError describes a store failure for a single record. Op is one of
// "lookup", "image" or "article".
type PersistError struct {
	Op   string
	Hash string
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %s %s: %v", e.Op, e.Hash, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// FetchPhaseError means the page-fetcher itself failed. It is the only error
// that aborts a run.
type FetchPhaseError struct {
	Err error
}

func (e *FetchPhaseError) Error() string {
	return fmt.Sprintf("fetch phase failed: %v", e.Err)
}

func (e *FetchPhaseError) Unwrap() error {
	return e.Err
}
