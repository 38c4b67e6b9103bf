// Package store opens the configured article store.
package store

import (
	"context"
	"fmt"

	"github.com/pevans/newsingest/article"
	"github.com/pevans/newsingest/config"
	"github.com/pevans/newsingest/store/csvstore"
	"github.com/pevans/newsingest/store/mongostore"
	"github.com/pevans/newsingest/store/sqlitestore"
)

// Store is everything the CLI and API need from a backend.
type Store interface {
	Find(ctx context.Context, hash string) (*article.Record, error)
	SaveImage(ctx context.Context, headline string, blob *article.ImageBlob) (string, error)
	SaveArticle(ctx context.Context, rec *article.Record) error
	List(ctx context.Context) ([]article.Record, error)
	Image(ctx context.Context, ref string) (*article.ImageBlob, error)
	Close() error
}

// Open opens the store described by cfg.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var (
		s   Store
		err error
	)

	switch cfg.Type {
	case config.StoreCSV:
		s, err = asStore(csvstore.Open(cfg.DSN, cfg.ImageDir))
	case config.StoreSQLite:
		s, err = asStore(sqlitestore.Open(cfg.DSN))
	case config.StoreMongo:
		s, err = asStore(mongostore.Open(ctx, cfg.DSN, cfg.Database))
	default:
		return nil, fmt.Errorf("unsupported store type: %s", cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Type, err)
	}

	return s, nil
}

// OpenReadOnly opens the store described by cfg for reading. Nothing is
// created on disk or in the database, and writes fail.
func OpenReadOnly(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var (
		s   Store
		err error
	)

	switch cfg.Type {
	case config.StoreCSV:
		s, err = asStore(csvstore.OpenReadOnly(cfg.DSN, cfg.ImageDir))
	case config.StoreSQLite:
		s, err = asStore(sqlitestore.OpenReadOnly(cfg.DSN))
	case config.StoreMongo:
		s, err = asStore(mongostore.OpenReadOnly(ctx, cfg.DSN, cfg.Database))
	default:
		return nil, fmt.Errorf("unsupported store type: %s", cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Type, err)
	}

	return s, nil
}

// asStore converts a concrete constructor result without leaking a typed nil
// into the interface.
func asStore[T Store](s T, err error) (Store, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}
