// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline runs the ingestion stages in order (DTD download, corpus
// download, decompression, index build) and tracks one run at a time in a
// state machine that status queries read.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/dblp-coauthors/internal/apperr"
	"github.com/pdiddy/dblp-coauthors/internal/decompress"
	"github.com/pdiddy/dblp-coauthors/internal/fetch"
	"github.com/pdiddy/dblp-coauthors/internal/store"
	"github.com/pdiddy/dblp-coauthors/internal/xmlindex"
	"github.com/pdiddy/dblp-coauthors/pkg/types"
)

// Phase names reported in PipelineState.Step.
const (
	PhaseDownloadDTD = "download_dtd"
	PhaseDownloadXML = "download_xml_gz"
	PhaseDecompress  = decompress.Phase
	PhaseBuild       = xmlindex.Phase
)

// Fetcher downloads one URL to a local file.
type Fetcher interface {
	Fetch(ctx context.Context, url, dest, phase string, report types.ProgressFunc) (int64, error)
}

// Decompressor expands the corpus archive.
type Decompressor interface {
	Decompress(ctx context.Context, src, dest string, report types.ProgressFunc) (int64, error)
}

// Indexer loads the decompressed corpus into the store.
type Indexer interface {
	Build(ctx context.Context, xmlPath string, st *store.Store, report types.ProgressFunc) (xmlindex.Stats, error)
}

// Emitter receives the log lines and progress reports of a run.
type Emitter interface {
	Log(msg string)
	Progress(phase string, payload types.Progress)
}

// Pipeline wires the stages of one ingestion run.
type Pipeline struct {
	Fetcher      Fetcher
	Decompressor Decompressor

	// NewIndexer builds the indexer for a run's configuration.
	NewIndexer func(cfg types.PipelineConfig) Indexer
}

// New returns a Pipeline backed by the real stages.
func New(httpCfg types.HTTPConfig, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		Fetcher:      fetch.New(httpCfg),
		Decompressor: &decompress.Decompressor{},
		NewIndexer: func(cfg types.PipelineConfig) Indexer {
			return &xmlindex.Indexer{
				BatchSize:     cfg.BatchSize,
				ProgressEvery: cfg.ProgressEvery,
				DTDPath:       cfg.DTDPath(),
				Logger:        logger.Named("xmlindex"),
			}
		},
	}
}

func checkpoint(ctx context.Context) error {
	if ctx.Err() != nil {
		return apperr.ErrCancelled
	}
	return nil
}

// Run executes every stage in order. Each stage is gated by a cancellation
// check; a stop surfaces as apperr.ErrCancelled.
func (p *Pipeline) Run(ctx context.Context, cfg types.PipelineConfig, emit Emitter) (*types.RunResult, error) {
	cfg = cfg.WithDefaults()
	started := time.Now()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	emit.Log(fmt.Sprintf("Pipeline start (data_dir=%s)", cfg.DataDir))

	if cfg.Rebuild {
		removed, err := store.RemoveFiles(cfg.DBPath())
		for _, path := range removed {
			emit.Log("Removed existing file: " + path)
		}
		if err != nil {
			return nil, err
		}
	}

	if err := checkpoint(ctx); err != nil {
		return nil, err
	}
	if err := p.download(ctx, cfg.DTDURL, cfg.DTDPath(), PhaseDownloadDTD, emit); err != nil {
		return nil, err
	}

	if err := checkpoint(ctx); err != nil {
		return nil, err
	}
	if err := p.download(ctx, cfg.XMLGzURL, cfg.XMLGzPath(), PhaseDownloadXML, emit); err != nil {
		return nil, err
	}

	if err := checkpoint(ctx); err != nil {
		return nil, err
	}
	emit.Log(fmt.Sprintf("Decompressing %s -> %s", cfg.XMLGzPath(), cfg.XMLPath()))
	written, err := p.Decompressor.Decompress(ctx, cfg.XMLGzPath(), cfg.XMLPath(), emit.Progress)
	if err != nil {
		return nil, fmt.Errorf("decompressing corpus: %w", err)
	}
	emit.Log(fmt.Sprintf("Decompression complete: %s (%d bytes)", cfg.XMLPath(), written))

	if err := checkpoint(ctx); err != nil {
		return nil, err
	}
	stats, err := p.build(ctx, cfg, emit)
	if err != nil {
		return nil, err
	}

	elapsed := time.Since(started).Seconds()
	result := &types.RunResult{
		ProcessedRecords: int(stats.ProcessedRecords),
		ElapsedSeconds:   round2(elapsed),
		BuildSeconds:     round2(stats.Elapsed.Seconds()),
		RecordsPerSec:    stats.RecordsPerSec,
		XMLGzPath:        cfg.XMLGzPath(),
		XMLPath:          cfg.XMLPath(),
		DTDPath:          cfg.DTDPath(),
		DBPath:           cfg.DBPath(),
	}
	emit.Log(fmt.Sprintf("Pipeline finished in %.2fs", result.ElapsedSeconds))
	return result, nil
}

func (p *Pipeline) download(ctx context.Context, url, dest, phase string, emit Emitter) error {
	emit.Log(fmt.Sprintf("Downloading %s -> %s", url, dest))
	n, err := p.Fetcher.Fetch(ctx, url, dest, phase, emit.Progress)
	if err != nil {
		return fmt.Errorf("%s: %w", phase, err)
	}
	emit.Log(fmt.Sprintf("Download complete: %s (%d bytes)", dest, n))
	return nil
}

func (p *Pipeline) build(ctx context.Context, cfg types.PipelineConfig, emit Emitter) (xmlindex.Stats, error) {
	emit.Log(fmt.Sprintf("Building sqlite db from %s -> %s", cfg.XMLPath(), cfg.DBPath()))
	st, err := store.OpenWriter(ctx, cfg.DBPath())
	if err != nil {
		return xmlindex.Stats{}, fmt.Errorf("%w: %v", apperr.ErrIndexBuild, err)
	}

	stats, err := p.NewIndexer(cfg).Build(ctx, cfg.XMLPath(), st, emit.Progress)
	if cerr := st.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("%w: closing database: %v", apperr.ErrIndexBuild, cerr)
	}
	if err != nil {
		return stats, err
	}
	emit.Log(fmt.Sprintf("Build complete: %d records, %.2f rec/s", stats.ProcessedRecords, stats.RecordsPerSec))
	return stats, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
