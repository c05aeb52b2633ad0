// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"fmt"
	"path/filepath"
	"time"
)

// Default values shared by the CLI, the runner, and the query service.
const (
	DefaultXMLGzURL      = "https://dblp.org/xml/dblp.xml.gz"
	DefaultDTDURL        = "https://dblp.org/xml/dblp.dtd"
	DefaultBatchSize     = 1000
	DefaultProgressEvery = 10000
	DefaultMaxLogLines   = 1000

	DefaultBusyTimeout       = 30 * time.Second
	DefaultMaxLimit          = 200
	DefaultMaxEntriesPerSide = 50
	DefaultMaxAuthorResolve  = 800

	MinBatchSize     = 100
	MinProgressEvery = 1000
)

// HTTPConfig holds shared HTTP settings used by the download stages.
type HTTPConfig struct {
	// Timeout bounds connection setup, response headers, and each idle read.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "dblp-coauthors/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent"`

	// AllowedHosts lists the hostnames downloads may come from. Empty means
	// the built-in DBLP mirrors.
	AllowedHosts []string `json:"allowed_hosts,omitempty" yaml:"allowed_hosts,omitempty"`

	// MaxRetries is the number of retries on HTTP 429/503 (default 3).
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
}

// PipelineConfig is the bundle handed to the runner at start time.
type PipelineConfig struct {
	// XMLGzURL is the source of the gzip-compressed corpus.
	XMLGzURL string `json:"xml_gz_url" yaml:"xml_gz_url"`

	// DTDURL is the source of the DTD that declares the character entities.
	DTDURL string `json:"dtd_url" yaml:"dtd_url"`

	// DataDir receives every downloaded and generated file.
	DataDir string `json:"data_dir" yaml:"data_dir"`

	XMLGzName string `json:"xml_gz_name,omitempty" yaml:"xml_gz_name,omitempty"`
	XMLName   string `json:"xml_name,omitempty" yaml:"xml_name,omitempty"`
	DTDName   string `json:"dtd_name,omitempty" yaml:"dtd_name,omitempty"`
	DBName    string `json:"db_name,omitempty" yaml:"db_name,omitempty"`

	// BatchSize is the number of records committed per transaction.
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// ProgressEvery is the record interval between build progress reports.
	ProgressEvery int `json:"progress_every" yaml:"progress_every"`

	// Rebuild removes the existing database files before building.
	Rebuild bool `json:"rebuild" yaml:"rebuild"`
}

// DefaultPipelineConfig returns the configuration used when nothing is overridden.
func DefaultPipelineConfig(dataDir string) PipelineConfig {
	return PipelineConfig{
		XMLGzURL:      DefaultXMLGzURL,
		DTDURL:        DefaultDTDURL,
		DataDir:       dataDir,
		BatchSize:     DefaultBatchSize,
		ProgressEvery: DefaultProgressEvery,
		Rebuild:       true,
	}
}

// WithDefaults fills empty file names.
func (c PipelineConfig) WithDefaults() PipelineConfig {
	if c.XMLGzName == "" {
		c.XMLGzName = "dblp.xml.gz"
	}
	if c.XMLName == "" {
		c.XMLName = "dblp.xml"
	}
	if c.DTDName == "" {
		c.DTDName = "dblp.dtd"
	}
	if c.DBName == "" {
		c.DBName = "dblp.sqlite"
	}
	return c
}

// Validate checks the bounds accepted by Runner.Start.
func (c PipelineConfig) Validate() error {
	if c.XMLGzURL == "" || c.DTDURL == "" {
		return fmt.Errorf("xml_gz_url and dtd_url are required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.BatchSize < MinBatchSize {
		return fmt.Errorf("batch_size must be >= %d, got %d", MinBatchSize, c.BatchSize)
	}
	if c.ProgressEvery < MinProgressEvery {
		return fmt.Errorf("progress_every must be >= %d, got %d", MinProgressEvery, c.ProgressEvery)
	}
	return nil
}

func (c PipelineConfig) XMLGzPath() string { return filepath.Join(c.DataDir, c.WithDefaults().XMLGzName) }
func (c PipelineConfig) XMLPath() string   { return filepath.Join(c.DataDir, c.WithDefaults().XMLName) }
func (c PipelineConfig) DTDPath() string   { return filepath.Join(c.DataDir, c.WithDefaults().DTDName) }
func (c PipelineConfig) DBPath() string    { return filepath.Join(c.DataDir, c.WithDefaults().DBName) }

// ServiceConfig holds settings for the read path.
type ServiceConfig struct {
	// DBPath is the SQLite database queried by every read operation.
	DBPath string `json:"db_path" yaml:"db_path"`

	// DataDir is reported by the file listing.
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// BusyTimeout is how long a reader waits on a locked database.
	BusyTimeout time.Duration `json:"busy_timeout" yaml:"busy_timeout"`

	// MaxLimit caps limit_per_pair (default 200).
	MaxLimit int `json:"max_limit" yaml:"max_limit"`

	// MaxEntriesPerSide caps each side of a pairs request (default and maximum 50).
	MaxEntriesPerSide int `json:"max_entries_per_side" yaml:"max_entries_per_side"`

	// MaxAuthorResolve caps identifiers returned per name query (default 800).
	MaxAuthorResolve int `json:"max_author_resolve" yaml:"max_author_resolve"`

	// DataDate overrides the date reported by Stats.
	DataDate string `json:"data_date,omitempty" yaml:"data_date,omitempty"`
}

// WithDefaults replaces zero values with defaults and clamps MaxEntriesPerSide.
func (c ServiceConfig) WithDefaults() ServiceConfig {
	if c.BusyTimeout <= 0 {
		c.BusyTimeout = DefaultBusyTimeout
	}
	if c.MaxLimit <= 0 {
		c.MaxLimit = DefaultMaxLimit
	}
	if c.MaxEntriesPerSide <= 0 || c.MaxEntriesPerSide > DefaultMaxEntriesPerSide {
		c.MaxEntriesPerSide = DefaultMaxEntriesPerSide
	}
	if c.MaxAuthorResolve <= 0 {
		c.MaxAuthorResolve = DefaultMaxAuthorResolve
	}
	return c
}
