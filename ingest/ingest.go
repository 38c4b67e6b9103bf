// Package ingest turns raw article records into stored, deduplicated
// articles. Records are processed one at a time in the order supplied, and a
// failure on one record never stops the rest of the batch.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/pevans/newsingest/article"
	"github.com/pevans/newsingest/logger"
)

// Store is the persistence the ingester needs. Find returns nil, nil when no
// record has the given hash.
type Store interface {
	Find(ctx context.Context, hash string) (*article.Record, error)
	// SaveImage stores blob and returns an opaque reference to it. headline
	// is a naming hint for stores that keep images as files.
	SaveImage(ctx context.Context, headline string, blob *article.ImageBlob) (string, error)
	SaveArticle(ctx context.Context, rec *article.Record) error
}

// ImageFetcher downloads image bytes.
type ImageFetcher interface {
	Fetch(ctx context.Context, url string) (*article.ImageBlob, error)
}

// Source is a page-fetcher producing raw article records.
type Source interface {
	Fetch(ctx context.Context) ([]article.RawArticle, error)
}

// State is the terminal state of one record.
type State string

const (
	StatePersisted        State = "persisted"
	StateSkippedDuplicate State = "skipped-duplicate"
	StateSkippedInvalid   State = "skipped-invalid"
	StatePersistFailed    State = "persist-failed"
)

// Outcome is what happened to a single raw article.
type Outcome struct {
	Article article.RawArticle
	Hash    string
	State   State
	Record  *article.Record // set when State is StatePersisted
	Err     error           // skip reason or persist failure
	// ImageErr is a non-fatal image problem; the record may still be
	// persisted.
	ImageErr error
}

// Result summarizes a batch.
type Result struct {
	Outcomes    []Outcome
	Persisted   int
	Duplicates  int
	Invalid     int
	Failed      int
	ImagesSaved int
	Duration    time.Duration
}

func (r *Result) add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
	switch o.State {
	case StatePersisted:
		r.Persisted++
		if o.Record != nil && o.Record.HasImage() {
			r.ImagesSaved++
		}
	case StateSkippedDuplicate:
		r.Duplicates++
	case StateSkippedInvalid:
		r.Invalid++
	case StatePersistFailed:
		r.Failed++
	}
}

// Ingester runs the deduplicate-and-persist pipeline.
type Ingester struct {
	store       Store
	images      ImageFetcher
	log         logger.Logger
	now         func() time.Time
	fetchImages bool
}

// Option configures an Ingester.
type Option func(*Ingester)

// WithImages turns image downloads on or off. They are on by default when
// an ImageFetcher is given.
func WithImages(enabled bool) Option {
	return func(in *Ingester) {
		in.fetchImages = enabled
	}
}

// WithClock overrides the clock used for scrape timestamps.
func WithClock(now func() time.Time) Option {
	return func(in *Ingester) {
		in.now = now
	}
}

// New creates an ingester. images may be nil, in which case no images are
// downloaded.
func New(store Store, images ImageFetcher, log logger.Logger, opts ...Option) *Ingester {
	if log == nil {
		log = logger.NewNop()
	}

	in := &Ingester{
		store:       store,
		images:      images,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
		fetchImages: images != nil,
	}
	for _, opt := range opts {
		opt(in)
	}
	if in.images == nil {
		in.fetchImages = false
	}

	return in
}

// Run fetches articles from src and ingests them. A fetch failure aborts the
// run and is returned as a *FetchPhaseError; per-record failures are only
// reported in the result.
func (in *Ingester) Run(ctx context.Context, src Source) (*Result, error) {
	in.log.Info("Fetching articles")

	raws, err := src.Fetch(ctx)
	if err != nil {
		fetchErr := &FetchPhaseError{Err: err}
		in.log.Error("Fatal error in page fetch",
			logger.String("severity", "critical"),
			logger.Error(fetchErr),
		)
		return nil, fetchErr
	}

	in.log.Info("Fetched articles", logger.Int("count", len(raws)))

	return in.Ingest(ctx, slices.Values(raws))
}

// Ingest processes each article in order. The only error returned is the
// context's, in which case the result covers the records handled before
// cancellation.
func (in *Ingester) Ingest(ctx context.Context, articles iter.Seq[article.RawArticle]) (*Result, error) {
	in.log.Info("Starting ingestion run")

	start := time.Now()
	result := &Result{}

	var ctxErr error
	for raw := range articles {
		if ctxErr = ctx.Err(); ctxErr != nil {
			break
		}
		result.add(in.process(ctx, raw))
	}

	result.Duration = time.Since(start)

	in.log.Info("Ingestion run finished",
		logger.Int("persisted", result.Persisted),
		logger.Int("duplicates", result.Duplicates),
		logger.Int("invalid", result.Invalid),
		logger.Int("failed", result.Failed),
		logger.Int("images", result.ImagesSaved),
		logger.Duration("duration", result.Duration),
	)

	return result, ctxErr
}

func (in *Ingester) process(ctx context.Context, raw article.RawArticle) (outcome Outcome) {
	outcome.Article = raw

	defer func() {
		if r := recover(); r != nil {
			outcome.State = StatePersistFailed
			outcome.Record = nil
			outcome.Err = &PersistError{Op: "article", Hash: outcome.Hash, Err: fmt.Errorf("panic: %v", r)}
			in.log.Error("Error processing article",
				logger.String("headline", raw.Headline),
				logger.Error(outcome.Err),
			)
		}
	}()

	if strings.TrimSpace(raw.Headline) == "" || strings.TrimSpace(raw.Link) == "" {
		outcome.State = StateSkippedInvalid
		outcome.Err = ErrInvalidRecord
		in.log.Warn("Skipping invalid article",
			logger.String("headline", raw.Headline),
			logger.String("link", raw.Link),
		)
		return outcome
	}

	outcome.Hash = article.IdentityHash(raw.Headline, raw.Link)
	log := in.log.With(logger.String("hash", outcome.Hash), logger.String("headline", raw.Headline))

	existing, err := in.store.Find(ctx, outcome.Hash)
	if err != nil {
		outcome.State = StatePersistFailed
		outcome.Err = &PersistError{Op: "lookup", Hash: outcome.Hash, Err: err}
		log.Error("Error processing article", logger.Error(outcome.Err))
		return outcome
	}
	if existing != nil {
		outcome.State = StateSkippedDuplicate
		outcome.Err = ErrDuplicateRecord
		log.Info("Skipping duplicate article")
		return outcome
	}

	var imageRef *string
	if ref, imgErr := in.storeImage(ctx, raw); imgErr != nil {
		outcome.ImageErr = imgErr
		log.Warn("Continuing without image", logger.Error(imgErr))
	} else if ref != "" {
		imageRef = &ref
	}

	rec := &article.Record{
		Headline:  raw.Headline,
		Link:      raw.Link,
		ScrapedAt: in.now(),
		ImageRef:  imageRef,
		Hash:      outcome.Hash,
	}

	if err := in.store.SaveArticle(ctx, rec); err != nil {
		outcome.State = StatePersistFailed
		outcome.Err = &PersistError{Op: "article", Hash: outcome.Hash, Err: err}
		log.Error("Error processing article", logger.Error(outcome.Err))
		return outcome
	}

	outcome.State = StatePersisted
	outcome.Record = rec
	log.Info("Saved article", logger.Bool("image", imageRef != nil))

	return outcome
}

// storeImage downloads and persists the article's image. It returns an empty
// reference with a nil error when there is nothing to fetch.
func (in *Ingester) storeImage(ctx context.Context, raw article.RawArticle) (string, error) {
	if !in.fetchImages || strings.TrimSpace(raw.ImageURL) == "" {
		return "", nil
	}

	blob, err := in.images.Fetch(ctx, raw.ImageURL)
	if err != nil {
		var fetchErr *ImageFetchError
		if !errors.As(err, &fetchErr) {
			err = &ImageFetchError{URL: raw.ImageURL, Err: err}
		}
		return "", err
	}
	if blob == nil || len(blob.Data) == 0 {
		return "", &ImageFetchError{URL: raw.ImageURL, Err: errors.New("empty image body")}
	}

	ref, err := in.store.SaveImage(ctx, raw.Headline, blob)
	if err != nil {
		return "", &PersistError{Op: "image", Hash: article.IdentityHash(raw.Headline, raw.Link), Err: err}
	}

	return ref, nil
}
