// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package query is the read contract over the index store. Every call opens
// its own reader connection, checks the schema and closes it, so reads run
// alongside an ingestion run without sharing its writer.
package query

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pdiddy/dblp-coauthors/internal/coauthor"
	"github.com/pdiddy/dblp-coauthors/internal/resolve"
	"github.com/pdiddy/dblp-coauthors/internal/store"
	"github.com/pdiddy/dblp-coauthors/pkg/types"
)

// DataSource is reported by Stats.
const DataSource = "DBLP"

// Stats summarizes the database.
type Stats struct {
	Publications int64  `json:"publications" yaml:"publications"`
	Authors      int64  `json:"authors" yaml:"authors"`
	DataSource   string `json:"data_source" yaml:"data_source"`
	DataDate     string `json:"data_date" yaml:"data_date"`
}

// Health reports whether the database is usable.
type Health struct {
	OK     bool   `json:"ok" yaml:"ok"`
	DBPath string `json:"db_path" yaml:"db_path"`
	Error  string `json:"error,omitempty" yaml:"error,omitempty"`
}

// FileInfo describes one pipeline file.
type FileInfo struct {
	Exists bool   `json:"exists" yaml:"exists"`
	Size   int64  `json:"size" yaml:"size"`
	Path   string `json:"path" yaml:"path"`
}

// Files maps file keys (xml_gz, xml, dtd, db, db_wal, db_shm) to their info.
type Files map[string]FileInfo

// Service implements the read operations.
type Service struct {
	cfg types.ServiceConfig
}

// New returns a service reading cfg.DBPath.
func New(cfg types.ServiceConfig) *Service {
	return &Service{cfg: cfg.WithDefaults()}
}

func (s *Service) open(ctx context.Context) (*store.Store, error) {
	return store.OpenReader(ctx, s.cfg.DBPath, s.cfg.BusyTimeout)
}

// ResolveAuthors resolves name and returns the matching authors.
func (s *Service) ResolveAuthors(ctx context.Context, name string, opts resolve.Options) ([]types.Author, error) {
	st, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	ids, err := resolve.New(st.DB(), s.cfg.MaxAuthorResolve).Resolve(ctx, name, opts)
	if err != nil {
		return nil, err
	}

	matches := make([]types.Author, 0, len(ids))
	for _, id := range ids {
		m := types.Author{ID: id}
		if err := st.DB().QueryRowContext(ctx, `SELECT name FROM authors WHERE id = ?`, id).Scan(&m.Name); err != nil {
			return nil, fmt.Errorf("reading author %d: %w", id, err)
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// CoauthorPairs runs a pairs query.
func (s *Service) CoauthorPairs(ctx context.Context, req coauthor.Request) (*coauthor.Result, error) {
	st, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	defer st.Close()
	return coauthor.New(st.DB(), s.cfg).Pairs(ctx, req)
}

// Health opens the database and checks its schema. A failed check is
// reported in the result, not as an error.
func (s *Service) Health(ctx context.Context) Health {
	h := Health{DBPath: s.cfg.DBPath}
	st, err := s.open(ctx)
	if err != nil {
		h.Error = err.Error()
		return h
	}
	st.Close()
	h.OK = true
	return h
}

// Stats returns record counts and the data date.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	st, err := s.open(ctx)
	if err != nil {
		return Stats{}, err
	}
	defer st.Close()

	pubs, authors, err := st.Counts(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Publications: pubs,
		Authors:      authors,
		DataSource:   DataSource,
		DataDate:     store.DataDate(s.cfg.DBPath, s.cfg.DataDate),
	}, nil
}

// ListFiles reports the pipeline files of cfg. Unreadable files are
// reported as missing.
func ListFiles(cfg types.PipelineConfig) Files {
	db := cfg.DBPath()
	return Files{
		"xml_gz": fileInfo(cfg.XMLGzPath()),
		"xml":    fileInfo(cfg.XMLPath()),
		"dtd":    fileInfo(cfg.DTDPath()),
		"db":     fileInfo(db),
		"db_wal": fileInfo(db + "-wal"),
		"db_shm": fileInfo(db + "-shm"),
	}
}

// Files lists the downloads in the data directory and the service database
// with its WAL sidecars.
func (s *Service) Files() Files {
	dir := s.cfg.DataDir
	if dir == "" {
		dir = filepath.Dir(s.cfg.DBPath)
	}
	files := ListFiles(types.PipelineConfig{DataDir: dir})
	db := s.cfg.DBPath
	files["db"], files["db_wal"], files["db_shm"] = fileInfo(db), fileInfo(db+"-wal"), fileInfo(db+"-shm")
	return files
}

func fileInfo(path string) FileInfo {
	fi := FileInfo{Path: path}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return fi
	}
	fi.Exists = true
	fi.Size = info.Size()
	return fi
}
