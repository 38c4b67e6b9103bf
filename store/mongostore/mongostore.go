// Package mongostore keeps articles and images in two MongoDB collections.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/pevans/newsingest/article"
)

// Collection and database defaults.
const (
	DefaultDatabase    = "google_news_database"
	ArticlesCollection = "news_articles"
	ImagesCollection   = "news_images"
)

// articleDoc is the stored shape of an article.
type articleDoc struct {
	ID              bson.ObjectID  `bson:"_id,omitempty"`
	Headline        string         `bson:"headline"`
	Link            string         `bson:"link"`
	ScrapeTimestamp time.Time      `bson:"scrape_timestamp"`
	ImageID         *bson.ObjectID `bson:"image_id"`
	Hash            string         `bson:"hash"`
}

// imageDoc is the stored shape of an image.
type imageDoc struct {
	ID          bson.ObjectID `bson:"_id,omitempty"`
	Image       []byte        `bson:"image"`
	ImageURL    string        `bson:"image_url"`
	ContentType string        `bson:"content_type,omitempty"`
}

// Store is a MongoDB-backed article store.
type Store struct {
	client   *mongo.Client
	articles *mongo.Collection
	images   *mongo.Collection
}

// Open connects to uri, verifies the connection and prepares the hash index.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	store, err := connect(ctx, uri, database)
	if err != nil {
		return nil, err
	}

	// Plain index for lookups; uniqueness is the ingester's job.
	_, err = store.articles.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "hash", Value: 1}},
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create hash index: %w", err)
	}

	return store, nil
}

// OpenReadOnly connects without creating indexes.
func OpenReadOnly(ctx context.Context, uri, database string) (*Store, error) {
	return connect(ctx, uri, database)
}

func connect(ctx context.Context, uri, database string) (*Store, error) {
	if database == "" {
		database = DefaultDatabase
	}

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	db := client.Database(database)
	return &Store{
		client:   client,
		articles: db.Collection(ArticlesCollection),
		images:   db.Collection(ImagesCollection),
	}, nil
}

// Close disconnects the client.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Find returns the record with the given hash, or nil if none exists.
func (s *Store) Find(ctx context.Context, hash string) (*article.Record, error) {
	var doc articleDoc
	err := s.articles.FindOne(ctx, bson.D{{Key: "hash", Value: hash}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find article: %w", err)
	}

	rec := doc.toRecord()
	return &rec, nil
}

// SaveImage inserts the image and returns its ObjectID in hex.
func (s *Store) SaveImage(ctx context.Context, _ string, blob *article.ImageBlob) (string, error) {
	res, err := s.images.InsertOne(ctx, imageDoc{
		Image:       blob.Data,
		ImageURL:    blob.SourceURL,
		ContentType: blob.ContentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to insert image: %w", err)
	}

	id, ok := res.InsertedID.(bson.ObjectID)
	if !ok {
		return "", fmt.Errorf("unexpected image id type %T", res.InsertedID)
	}

	return id.Hex(), nil
}

// SaveArticle inserts rec.
func (s *Store) SaveArticle(ctx context.Context, rec *article.Record) error {
	doc, err := fromRecord(rec)
	if err != nil {
		return err
	}

	if _, err := s.articles.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to insert article: %w", err)
	}

	return nil
}

// List returns every record ordered by scrape time.
func (s *Store) List(ctx context.Context) ([]article.Record, error) {
	opts := options.Find().SetSort(bson.D{{Key: "scrape_timestamp", Value: 1}})

	cursor, err := s.articles.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list articles: %w", err)
	}

	var docs []articleDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode articles: %w", err)
	}

	records := make([]article.Record, 0, len(docs))
	for _, doc := range docs {
		records = append(records, doc.toRecord())
	}

	return records, nil
}

// Image returns the image with the given hex id, or nil if it doesn't exist
// or the id is malformed.
func (s *Store) Image(ctx context.Context, id string) (*article.ImageBlob, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, nil
	}

	var doc imageDoc
	err = s.images.FindOne(ctx, bson.D{{Key: "_id", Value: oid}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find image: %w", err)
	}

	return &article.ImageBlob{
		ID:          doc.ID.Hex(),
		SourceURL:   doc.ImageURL,
		Data:        doc.Image,
		ContentType: doc.ContentType,
	}, nil
}

func (d articleDoc) toRecord() article.Record {
	rec := article.Record{
		Headline:  d.Headline,
		Link:      d.Link,
		ScrapedAt: d.ScrapeTimestamp,
		Hash:      d.Hash,
	}
	if d.ImageID != nil {
		ref := d.ImageID.Hex()
		rec.ImageRef = &ref
	}
	return rec
}

func fromRecord(rec *article.Record) (articleDoc, error) {
	doc := articleDoc{
		Headline:        rec.Headline,
		Link:            rec.Link,
		ScrapeTimestamp: rec.ScrapedAt,
		Hash:            rec.Hash,
	}
	if rec.ImageRef != nil {
		oid, err := bson.ObjectIDFromHex(*rec.ImageRef)
		if err != nil {
			return articleDoc{}, fmt.Errorf("invalid image id %q: %w", *rec.ImageRef, err)
		}
		doc.ImageID = &oid
	}
	return doc, nil
}
