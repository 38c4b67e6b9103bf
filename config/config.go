// Package config loads newsingest settings from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pevans/newsingest/logger"
)

// Source types.
const (
	SourceGoogle = "google"
	SourceRSS    = "rss"
	SourceFile   = "file"
)

// Store types.
const (
	StoreCSV    = "csv"
	StoreSQLite = "sqlite"
	StoreMongo  = "mongo"
)

// Default locations.
const (
	DefaultGoogleNewsURL = "https://news.google.com/home?hl=en-IN&gl=IN&ceid=IN:en"
	DefaultRSSURL        = "https://news.google.com/rss?hl=en-IN&gl=IN&ceid=IN:en"
	DefaultCSVPath       = "news_data.csv"
	DefaultImageDir      = "news_images"
	DefaultSQLitePath    = "news.db"
	DefaultMongoURI      = "mongodb://localhost:27017/"
	DefaultMongoDatabase = "google_news_database"
	DefaultAPIAddr       = ":8080"
)

// Config is the full newsingest configuration.
type Config struct {
	Source  SourceConfig  `yaml:"source"`
	Store   StoreConfig   `yaml:"store"`
	Images  ImageConfig   `yaml:"images"`
	Logging logger.Config `yaml:"logging"`
	API     APIConfig     `yaml:"api"`
}

// SourceConfig selects and tunes the page-fetcher.
type SourceConfig struct {
	Type string `yaml:"type"`
	// URL is the page, feed or fixture file to read.
	URL        string         `yaml:"url"`
	TopStories bool           `yaml:"top_stories"`
	Timeout    time.Duration  `yaml:"timeout"`
	Selectors  SelectorConfig `yaml:"selectors"`
}

// SelectorConfig holds the CSS selectors used on Google News pages. Empty
// fields fall back to the built-in defaults.
type SelectorConfig struct {
	Article    string `yaml:"article"`
	Headline   string `yaml:"headline"`
	Image      string `yaml:"image"`
	TopStories string `yaml:"top_stories"`
}

// StoreConfig selects the persistence backend. DSN is the CSV path, SQLite
// path or MongoDB URI depending on Type.
type StoreConfig struct {
	Type     string `yaml:"type"`
	DSN      string `yaml:"dsn"`
	ImageDir string `yaml:"image_dir"`
	Database string `yaml:"database"`
}

// ImageConfig controls image downloads.
type ImageConfig struct {
	Enabled  *bool         `yaml:"enabled"`
	Timeout  time.Duration `yaml:"timeout"`
	MaxBytes int64         `yaml:"max_bytes"`
}

// IsEnabled reports whether images should be downloaded (default true).
func (c ImageConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// APIConfig configures the read API.
type APIConfig struct {
	Addr string `yaml:"addr"`
}

// Load builds the configuration with precedence:
// 1. Environment variables (highest priority)
// 2. Configuration file
// 3. Default values (lowest priority)
//
// An empty path means the default file location, which may be absent. An
// explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	explicit := path != ""
	if !explicit {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return nil, err
		}
		path = defaultPath
	}

	found, err := LoadConfigFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if explicit && !found {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SetDefaults fills every field left empty by the file and environment.
func (c *Config) SetDefaults() {
	if c.Source.Type == "" {
		c.Source.Type = SourceGoogle
	}
	if c.Source.URL == "" {
		switch c.Source.Type {
		case SourceGoogle:
			c.Source.URL = DefaultGoogleNewsURL
		case SourceRSS:
			c.Source.URL = DefaultRSSURL
		}
	}
	if c.Source.Timeout <= 0 {
		c.Source.Timeout = 15 * time.Second
	}

	if c.Store.Type == "" {
		c.Store.Type = StoreCSV
	}
	if c.Store.DSN == "" {
		switch c.Store.Type {
		case StoreCSV:
			c.Store.DSN = DefaultCSVPath
		case StoreSQLite:
			c.Store.DSN = DefaultSQLitePath
		case StoreMongo:
			c.Store.DSN = DefaultMongoURI
		}
	}
	if c.Store.ImageDir == "" {
		c.Store.ImageDir = DefaultImageDir
	}
	if c.Store.Database == "" {
		c.Store.Database = DefaultMongoDatabase
	}

	if c.Images.Timeout <= 0 {
		c.Images.Timeout = 10 * time.Second
	}
	if c.Images.MaxBytes <= 0 {
		c.Images.MaxBytes = 10 << 20
	}

	c.Logging.SetDefaults()

	if c.API.Addr == "" {
		c.API.Addr = DefaultAPIAddr
	}
}

// Validate checks the types and required fields.
func (c *Config) Validate() error {
	switch c.Source.Type {
	case SourceGoogle, SourceRSS, SourceFile:
	default:
		return fmt.Errorf("invalid source type %q: must be google, rss, or file", c.Source.Type)
	}
	if c.Source.URL == "" {
		return errors.New("source url is required")
	}

	switch c.Store.Type {
	case StoreCSV, StoreSQLite, StoreMongo:
	default:
		return fmt.Errorf("invalid store type %q: must be csv, sqlite, or mongo", c.Store.Type)
	}

	return nil
}

func (c *Config) applyEnv() error {
	strVars := map[string]*string{
		"NEWSINGEST_SOURCE_TYPE":    &c.Source.Type,
		"NEWSINGEST_SOURCE_URL":     &c.Source.URL,
		"NEWSINGEST_STORE_TYPE":     &c.Store.Type,
		"NEWSINGEST_STORE_DSN":      &c.Store.DSN,
		"NEWSINGEST_IMAGE_DIR":      &c.Store.ImageDir,
		"NEWSINGEST_MONGO_DATABASE": &c.Store.Database,
		"NEWSINGEST_LOG_LEVEL":      &c.Logging.Level,
		"NEWSINGEST_API_ADDR":       &c.API.Addr,
	}
	for key, dst := range strVars {
		if val := os.Getenv(key); val != "" {
			*dst = val
		}
	}

	if val := os.Getenv("NEWSINGEST_TOP_STORIES"); val != "" {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("invalid NEWSINGEST_TOP_STORIES: %w", err)
		}
		c.Source.TopStories = b
	}
	if val := os.Getenv("NEWSINGEST_IMAGES_ENABLED"); val != "" {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("invalid NEWSINGEST_IMAGES_ENABLED: %w", err)
		}
		c.Images.Enabled = &b
	}
	if val := os.Getenv("NEWSINGEST_SOURCE_TIMEOUT"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid NEWSINGEST_SOURCE_TIMEOUT: %w", err)
		}
		c.Source.Timeout = d
	}

	return nil
}
