package ingest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/pevans/newsingest/article"
	"github.com/pevans/newsingest/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// memStore is an in-memory Store with failure injection.
type memStore struct {
	records    []*article.Record
	images     map[string]*article.ImageBlob
	findErr    error
	imageErr   error
	failSaveOn map[string]error // headline -> error
	panicOn    string
}

func newMemStore() *memStore {
	return &memStore{
		images:     map[string]*article.ImageBlob{},
		failSaveOn: map[string]error{},
	}
}

func (s *memStore) Find(_ context.Context, hash string) (*article.Record, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	for _, rec := range s.records {
		if rec.Hash == hash {
			return rec, nil
		}
	}
	return nil, nil
}

func (s *memStore) SaveImage(_ context.Context, _ string, blob *article.ImageBlob) (string, error) {
	if s.imageErr != nil {
		return "", s.imageErr
	}
	id := fmt.Sprintf("img-%d", len(s.images)+1)
	s.images[id] = blob
	return id, nil
}

func (s *memStore) SaveArticle(_ context.Context, rec *article.Record) error {
	if rec.Headline == s.panicOn && s.panicOn != "" {
		panic("driver exploded")
	}
	if err := s.failSaveOn[rec.Headline]; err != nil {
		return err
	}
	s.records = append(s.records, rec)
	return nil
}

// fakeImages serves canned image bodies by URL.
type fakeImages struct {
	bodies map[string][]byte
	calls  []string
}

func (f *fakeImages) Fetch(_ context.Context, url string) (*article.ImageBlob, error) {
	f.calls = append(f.calls, url)
	data, ok := f.bodies[url]
	if !ok {
		return nil, &ImageFetchError{URL: url, StatusCode: 404}
	}
	return &article.ImageBlob{SourceURL: url, Data: data, ContentType: "image/jpeg"}, nil
}

type fakeSource struct {
	articles []article.RawArticle
	err      error
}

func (f fakeSource) Fetch(context.Context) ([]article.RawArticle, error) {
	return f.articles, f.err
}

var fixedNow = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func newTestIngester(store *memStore, images ImageFetcher) *Ingester {
	return New(store, images, logger.NewNop(), WithClock(func() time.Time { return fixedNow }))
}

func ingestAll(t *testing.T, in *Ingester, raws ...article.RawArticle) *Result {
	t.Helper()
	result, err := in.Ingest(context.Background(), slices.Values(raws))
	require.NoError(t, err)
	return result
}

// TestIngest_DuplicateKeepsFirstImage covers the two-record example: same
// headline and link, different images
func TestIngest_DuplicateKeepsFirstImage(t *testing.T) {
	store := newMemStore()
	images := &fakeImages{bodies: map[string][]byte{
		"http://img/1": []byte("first"),
		"http://img/2": []byte("second"),
	}}
	in := newTestIngester(store, images)

	result := ingestAll(t, in,
		article.RawArticle{Headline: "Headline A", Link: "http://x/1", ImageURL: "http://img/1"},
		article.RawArticle{Headline: "Headline A", Link: "http://x/1", ImageURL: "http://img/2"},
	)

	require.Len(t, store.records, 1)
	rec := store.records[0]
	require.NotNil(t, rec.ImageRef)
	assert.Equal(t, []byte("first"), store.images[*rec.ImageRef].Data)
	assert.Equal(t, []string{"http://img/1"}, images.calls, "duplicate should not fetch its image")

	assert.Equal(t, 1, result.Persisted)
	assert.Equal(t, 1, result.Duplicates)
	assert.Equal(t, StateSkippedDuplicate, result.Outcomes[1].State)
	assert.ErrorIs(t, result.Outcomes[1].Err, ErrDuplicateRecord)
}

// TestIngest_DuplicateAcrossRuns verifies records stored by an earlier run
// are skipped
func TestIngest_DuplicateAcrossRuns(t *testing.T) {
	store := newMemStore()
	raw := article.RawArticle{Headline: "Headline A", Link: "http://x/1"}

	ingestAll(t, newTestIngester(store, nil), raw)
	result := ingestAll(t, newTestIngester(store, nil), raw)

	assert.Len(t, store.records, 1)
	assert.Equal(t, 0, result.Persisted)
	assert.Equal(t, 1, result.Duplicates)
}

func TestIngest_InvalidRecordsNeverPersisted(t *testing.T) {
	store := newMemStore()
	in := newTestIngester(store, nil)

	result := ingestAll(t, in,
		article.RawArticle{Headline: "", Link: "http://x/1"},
		article.RawArticle{Headline: "Headline", Link: ""},
		article.RawArticle{Headline: "   ", Link: "http://x/2"},
		article.RawArticle{Headline: "Valid", Link: "http://x/3"},
	)

	require.Len(t, store.records, 1)
	assert.Equal(t, "Valid", store.records[0].Headline)
	assert.Equal(t, 3, result.Invalid)
	for _, o := range result.Outcomes[:3] {
		assert.Equal(t, StateSkippedInvalid, o.State)
		assert.ErrorIs(t, o.Err, ErrInvalidRecord)
		assert.Empty(t, o.Hash)
	}
}

// TestIngest_ImageFailureStillPersists verifies a non-200 image leaves the
// record stored without an image
func TestIngest_ImageFailureStillPersists(t *testing.T) {
	store := newMemStore()
	in := newTestIngester(store, &fakeImages{bodies: map[string][]byte{}})

	result := ingestAll(t, in,
		article.RawArticle{Headline: "Headline A", Link: "http://x/1", ImageURL: "http://img/missing"},
	)

	require.Len(t, store.records, 1)
	assert.Nil(t, store.records[0].ImageRef)
	assert.Empty(t, store.images)

	outcome := result.Outcomes[0]
	assert.Equal(t, StatePersisted, outcome.State)
	var fetchErr *ImageFetchError
	require.ErrorAs(t, outcome.ImageErr, &fetchErr)
	assert.Equal(t, 404, fetchErr.StatusCode)
}

func TestIngest_PlainErrorFromFetcherIsClassified(t *testing.T) {
	store := newMemStore()
	in := newTestIngester(store, imageFetcherFunc(func(context.Context, string) (*article.ImageBlob, error) {
		return nil, errors.New("connection reset")
	}))

	result := ingestAll(t, in, article.RawArticle{Headline: "H", Link: "http://x/1", ImageURL: "http://img/1"})

	var fetchErr *ImageFetchError
	require.ErrorAs(t, result.Outcomes[0].ImageErr, &fetchErr)
	assert.Equal(t, "http://img/1", fetchErr.URL)
	assert.Equal(t, 1, result.Persisted)
}

func TestIngest_EmptyImageBodyIsFailure(t *testing.T) {
	store := newMemStore()
	in := newTestIngester(store, &fakeImages{bodies: map[string][]byte{"http://img/1": {}}})

	result := ingestAll(t, in, article.RawArticle{Headline: "H", Link: "http://x/1", ImageURL: "http://img/1"})

	assert.Nil(t, store.records[0].ImageRef)
	var fetchErr *ImageFetchError
	assert.ErrorAs(t, result.Outcomes[0].ImageErr, &fetchErr)
}

// TestIngest_ImagePersistFailure verifies a failed image write still stores
// the article
func TestIngest_ImagePersistFailure(t *testing.T) {
	store := newMemStore()
	store.imageErr = errors.New("gridfs down")
	in := newTestIngester(store, &fakeImages{bodies: map[string][]byte{"http://img/1": []byte("x")}})

	result := ingestAll(t, in, article.RawArticle{Headline: "H", Link: "http://x/1", ImageURL: "http://img/1"})

	require.Len(t, store.records, 1)
	assert.Nil(t, store.records[0].ImageRef)
	var persistErr *PersistError
	require.ErrorAs(t, result.Outcomes[0].ImageErr, &persistErr)
	assert.Equal(t, "image", persistErr.Op)
}

// TestIngest_FaultIsolation verifies one failing record leaves N-1 persisted
func TestIngest_FaultIsolation(t *testing.T) {
	store := newMemStore()
	store.failSaveOn["Story 3"] = errors.New("write conflict")
	in := newTestIngester(store, nil)

	var raws []article.RawArticle
	for i := 1; i <= 5; i++ {
		raws = append(raws, article.RawArticle{
			Headline: fmt.Sprintf("Story %d", i),
			Link:     fmt.Sprintf("http://x/%d", i),
		})
	}

	result := ingestAll(t, in, raws...)

	assert.Len(t, store.records, 4)
	assert.Equal(t, 4, result.Persisted)
	assert.Equal(t, 1, result.Failed)

	failed := result.Outcomes[2]
	assert.Equal(t, StatePersistFailed, failed.State)
	var persistErr *PersistError
	require.ErrorAs(t, failed.Err, &persistErr)
	assert.Equal(t, "article", persistErr.Op)
	assert.Equal(t, article.IdentityHash("Story 3", "http://x/3"), persistErr.Hash)
}

func TestIngest_PanicIsIsolated(t *testing.T) {
	store := newMemStore()
	store.panicOn = "Story 1"
	in := newTestIngester(store, nil)

	result := ingestAll(t, in,
		article.RawArticle{Headline: "Story 1", Link: "http://x/1"},
		article.RawArticle{Headline: "Story 2", Link: "http://x/2"},
	)

	assert.Equal(t, StatePersistFailed, result.Outcomes[0].State)
	assert.Equal(t, StatePersisted, result.Outcomes[1].State)
	assert.Len(t, store.records, 1)
}

func TestIngest_LookupFailure(t *testing.T) {
	store := newMemStore()
	store.findErr = errors.New("no reachable servers")
	in := newTestIngester(store, nil)

	result := ingestAll(t, in, article.RawArticle{Headline: "H", Link: "http://x/1"})

	var persistErr *PersistError
	require.ErrorAs(t, result.Outcomes[0].Err, &persistErr)
	assert.Equal(t, "lookup", persistErr.Op)
	assert.Equal(t, 1, result.Failed)
	assert.Empty(t, store.records)
}

func TestIngest_RecordFields(t *testing.T) {
	store := newMemStore()
	in := newTestIngester(store, &fakeImages{bodies: map[string][]byte{"http://img/1": []byte("x")}})

	result := ingestAll(t, in, article.RawArticle{Headline: "H", Link: "http://x/1", ImageURL: "http://img/1"})

	rec := result.Outcomes[0].Record
	require.NotNil(t, rec)
	assert.Equal(t, "H", rec.Headline)
	assert.Equal(t, "http://x/1", rec.Link)
	assert.Equal(t, fixedNow, rec.ScrapedAt)
	assert.Equal(t, article.IdentityHash("H", "http://x/1"), rec.Hash)
	require.NotNil(t, rec.ImageRef)
	assert.Equal(t, 1, result.ImagesSaved)
}

func TestIngest_ImagesDisabled(t *testing.T) {
	store := newMemStore()
	images := &fakeImages{bodies: map[string][]byte{"http://img/1": []byte("x")}}
	in := New(store, images, logger.NewNop(), WithImages(false))

	ingestAll(t, in, article.RawArticle{Headline: "H", Link: "http://x/1", ImageURL: "http://img/1"})

	assert.Empty(t, images.calls)
	assert.Nil(t, store.records[0].ImageRef)
}

func TestIngest_NilFetcherIgnoresWithImages(t *testing.T) {
	store := newMemStore()
	in := New(store, nil, nil, WithImages(true))

	ingestAll(t, in, article.RawArticle{Headline: "H", Link: "http://x/1", ImageURL: "http://img/1"})

	require.Len(t, store.records, 1)
	assert.Nil(t, store.records[0].ImageRef)
}

func TestIngest_PreservesOrder(t *testing.T) {
	store := newMemStore()
	in := newTestIngester(store, nil)

	ingestAll(t, in,
		article.RawArticle{Headline: "C", Link: "http://x/c"},
		article.RawArticle{Headline: "A", Link: "http://x/a"},
		article.RawArticle{Headline: "B", Link: "http://x/b"},
	)

	var got []string
	for _, rec := range store.records {
		got = append(got, rec.Headline)
	}
	assert.Equal(t, []string{"C", "A", "B"}, got)
}

func TestIngest_ContextCancelled(t *testing.T) {
	store := newMemStore()
	in := newTestIngester(store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := in.Ingest(ctx, slices.Values([]article.RawArticle{{Headline: "H", Link: "http://x/1"}}))

	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	assert.Empty(t, store.records)
}

func TestRun_FetchPhaseFailure(t *testing.T) {
	store := newMemStore()
	in := newTestIngester(store, nil)

	result, err := in.Run(context.Background(), fakeSource{err: errors.New("timeout waiting for articles")})

	assert.Nil(t, result)
	var fetchErr *FetchPhaseError
	require.ErrorAs(t, err, &fetchErr)
	assert.Contains(t, err.Error(), "timeout waiting for articles")
}

func TestRun_Success(t *testing.T) {
	store := newMemStore()
	in := newTestIngester(store, nil)

	result, err := in.Run(context.Background(), fakeSource{articles: []article.RawArticle{
		{Headline: "A", Link: "http://x/a"},
		{Headline: "A", Link: "http://x/a"},
		{Headline: "", Link: "http://x/b"},
	}})

	require.NoError(t, err)
	assert.Equal(t, 1, result.Persisted)
	assert.Equal(t, 1, result.Duplicates)
	assert.Equal(t, 1, result.Invalid)
	assert.Len(t, result.Outcomes, 3)
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "image fetch http://img: HTTP 500", (&ImageFetchError{URL: "http://img", StatusCode: 500}).Error())
	assert.Equal(t, "image fetch http://img: boom", (&ImageFetchError{URL: "http://img", Err: errors.New("boom")}).Error())
	assert.Equal(t, "persist article abc: boom", (&PersistError{Op: "article", Hash: "abc", Err: errors.New("boom")}).Error())
	assert.Equal(t, "fetch phase failed: boom", (&FetchPhaseError{Err: errors.New("boom")}).Error())
}

type imageFetcherFunc func(ctx context.Context, url string) (*article.ImageBlob, error)

func (f imageFetcherFunc) Fetch(ctx context.Context, url string) (*article.ImageBlob, error) {
	return f(ctx, url)
}

// TestIngest_LogsEveryRecord verifies the run boundaries and one line per
// record are logged when Ingest is called directly
func TestIngest_LogsEveryRecord(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	store := newMemStore()
	in := New(store, nil, logger.FromZap(zap.New(core)))

	raws := make([]article.RawArticle, 0, 300)
	for i := range 300 {
		raws = append(raws, article.RawArticle{Headline: fmt.Sprintf("Headline %d", i), Link: "http://x/"})
	}

	_, err := in.Ingest(context.Background(), slices.Values(raws))
	require.NoError(t, err)
	_, err = in.Ingest(context.Background(), slices.Values(raws))
	require.NoError(t, err)

	assert.Equal(t, 2, logs.FilterMessage("Starting ingestion run").Len())
	assert.Equal(t, 300, logs.FilterMessage("Saved article").Len())
	assert.Equal(t, 300, logs.FilterMessage("Skipping duplicate article").Len())
	assert.Equal(t, 2, logs.FilterMessage("Ingestion run finished").Len())
	assert.Equal(t, "Starting ingestion run", logs.All()[0].Message)
}
