// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package xmlindex streams the DBLP corpus and loads its publication records
// into the store. The decoder never builds a tree: records are captured one
// at a time and everything else is skipped as soon as it is read.
//
// Entity handling is closed: the table holds the HTML character entities,
// the declarations of the local DTD and the document's internal subset.
// External entities resolve to the empty string and are never fetched.
package xmlindex

import (
	"bufio"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"

	"github.com/pdiddy/dblp-coauthors/internal/apperr"
	"github.com/pdiddy/dblp-coauthors/internal/store"
	"github.com/pdiddy/dblp-coauthors/pkg/types"
)

// Phase names this stage in progress reports.
const Phase = "build_db"

const (
	defaultBatchSize = 1000

	// reportInterval is the minimum spacing of periodic progress reports.
	reportInterval = 500 * time.Millisecond
)

// Stats summarizes one Build.
type Stats struct {
	ProcessedRecords int64
	Elapsed          time.Duration
	RecordsPerSec    float64
}

// Indexer loads a DBLP XML file into a store.
type Indexer struct {
	// BatchSize is the number of records per committed transaction.
	BatchSize int

	// ProgressEvery is the record interval at which progress may be
	// reported. Zero disables periodic reports.
	ProgressEvery int

	// DTDPath is the local DTD whose entities are declared up front.
	DTDPath string

	Logger *zap.Logger
}

func (ix *Indexer) logger() *zap.Logger {
	if ix.Logger == nil {
		return zap.NewNop()
	}
	return ix.Logger
}

// Build parses xmlPath and writes every titled publication record to st.
// Records are committed every BatchSize; on cancellation the open batch is
// rolled back and apperr.ErrCancelled returned.
func (ix *Indexer) Build(ctx context.Context, xmlPath string, st *store.Store, report types.ProgressFunc) (Stats, error) {
	log := ix.logger()
	batchSize := ix.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	progressEvery := ix.ProgressEvery
	if report == nil {
		report = func(string, types.Progress) {}
	}

	f, err := os.Open(xmlPath)
	if err != nil {
		return Stats{}, fmt.Errorf("opening %s: %w", xmlPath, err)
	}
	defer f.Close()

	entities := baseEntities()
	if ix.DTDPath != "" {
		n, err := loadDTD(ix.DTDPath, entities)
		switch {
		case errors.Is(err, apperr.ErrMalformedInput):
			return Stats{}, fmt.Errorf("loading DTD %s: %w", ix.DTDPath, err)
		case err != nil:
			log.Warn("DTD not loaded; using built-in character entities", zap.Error(err))
		default:
			log.Debug("loaded DTD entities", zap.String("path", ix.DTDPath), zap.Int("declared", n))
		}
	}

	dec := xml.NewDecoder(bufio.NewReaderSize(f, 1<<20))
	dec.CharsetReader = charset.NewReaderLabel
	dec.Entity = entities

	w, err := st.NewBatchWriter(ctx)
	if err != nil {
		return Stats{}, ix.storeErr(ctx, err)
	}
	defer w.Close()

	start := time.Now()
	var (
		count    int64
		authors  = make(map[string]int64)
		depth    int
		xmlDir   = filepath.Dir(xmlPath)
		sometime = rate.Sometimes{Interval: reportInterval}
	)
	progress := func() types.Progress {
		return types.Progress{
			"processed_records": float64(count),
			"records_per_sec":   recordsPerSec(count, time.Since(start)),
		}
	}

	for {
		if ctx.Err() != nil {
			return Stats{ProcessedRecords: count}, fmt.Errorf("building index: %w", apperr.ErrCancelled)
		}

		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Stats{ProcessedRecords: count}, fmt.Errorf("%w: %s: %v", apperr.ErrMalformedInput, xmlPath, err)
		}

		switch t := tok.(type) {
		case xml.Directive:
			if depth == 0 {
				if err := ix.applyDoctype(string(t), xmlDir, entities); err != nil {
					return Stats{ProcessedRecords: count}, fmt.Errorf("%s: %w", xmlPath, err)
				}
			}
		case xml.EndElement:
			depth--
		case xml.StartElement:
			depth++
			if depth != 2 {
				continue
			}
			if !types.PublicationTags[t.Name.Local] {
				if err := dec.Skip(); err != nil {
					return Stats{ProcessedRecords: count}, fmt.Errorf("%w: %s: %v", apperr.ErrMalformedInput, xmlPath, err)
				}
				depth--
				continue
			}

			pub, err := readRecord(dec, t)
			depth--
			if err != nil {
				return Stats{ProcessedRecords: count}, fmt.Errorf("%w: %s: %v", apperr.ErrMalformedInput, xmlPath, err)
			}
			if pub == nil {
				continue
			}

			if err := ix.write(ctx, w, pub, authors); err != nil {
				return Stats{ProcessedRecords: count}, ix.storeErr(ctx, err)
			}
			count++

			if count%int64(batchSize) == 0 {
				if err := w.Flush(ctx); err != nil {
					return Stats{ProcessedRecords: count}, ix.storeErr(ctx, err)
				}
			}
			if progressEvery > 0 && count%int64(progressEvery) == 0 {
				sometime.Do(func() { report(Phase, progress()) })
			}
		}
	}

	if err := w.Commit(ctx); err != nil {
		return Stats{ProcessedRecords: count}, ix.storeErr(ctx, err)
	}

	elapsed := max(time.Since(start), time.Millisecond)
	stats := Stats{
		ProcessedRecords: count,
		Elapsed:          elapsed,
		RecordsPerSec:    recordsPerSec(count, elapsed),
	}
	report(Phase, types.Progress{
		"processed_records": float64(count),
		"records_per_sec":   stats.RecordsPerSec,
	})
	log.Info("index build complete",
		zap.Int64("records", count),
		zap.Float64("records_per_sec", stats.RecordsPerSec),
		zap.Duration("elapsed", elapsed))
	return stats, nil
}

func (ix *Indexer) write(ctx context.Context, w *store.BatchWriter, pub *types.Publication, cache map[string]int64) error {
	pubID, err := w.InsertPublication(ctx, pub)
	if err != nil {
		return err
	}
	for _, name := range pub.Authors {
		authorID, ok := cache[name]
		if !ok {
			authorID, err = w.EnsureAuthor(ctx, name)
			if err != nil {
				return err
			}
			cache[name] = authorID
		}
		w.QueueLink(pubID, authorID)
	}
	return nil
}

// storeErr reports a store failure as an index build error unless the
// context was cancelled underneath it.
func (ix *Indexer) storeErr(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return fmt.Errorf("building index: %w", apperr.ErrCancelled)
	}
	return fmt.Errorf("%w: %v", apperr.ErrIndexBuild, err)
}

// applyDoctype extends the entity table from a DOCTYPE directive: a local
// DTD named by the system id, then the internal subset. Only an entity
// table that grows past its bounds is an error.
func (ix *Indexer) applyDoctype(directive, xmlDir string, entities map[string]string) error {
	dt, ok := parseDoctype(directive)
	if !ok {
		return nil
	}
	log := ix.logger()
	if path, ok := localDTDPath(dt.systemID, xmlDir); ok && !samePath(path, ix.DTDPath) {
		n, err := loadDTD(path, entities)
		switch {
		case errors.Is(err, apperr.ErrMalformedInput):
			return err
		case err != nil:
			log.Debug("DOCTYPE DTD not loaded", zap.String("path", path), zap.Error(err))
		default:
			log.Debug("loaded DOCTYPE DTD entities", zap.String("path", path), zap.Int("declared", n))
		}
	}
	if dt.internalSubset != "" {
		if _, err := parseEntities(dt.internalSubset, entities); err != nil {
			return err
		}
	}
	return nil
}

func samePath(a, b string) bool {
	if b == "" {
		return false
	}
	aa, err1 := filepath.Abs(a)
	bb, err2 := filepath.Abs(b)
	return err1 == nil && err2 == nil && aa == bb
}

// readRecord consumes a record element through its end tag. It returns nil
// when the record has no usable title.
func readRecord(dec *xml.Decoder, start xml.StartElement) (*types.Publication, error) {
	var raw bytes.Buffer
	enc := xml.NewEncoder(&raw)
	if err := enc.EncodeToken(start); err != nil {
		return nil, err
	}

	var (
		depth = 1
		child string
		text  strings.Builder
		first = make(map[string]string, 4)
		pub   = &types.Publication{PubType: start.Name.Local}
	)
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if depth == 2 {
				child = t.Name.Local
				text.Reset()
			}
		case xml.CharData:
			if depth >= 2 {
				text.Write(t)
			}
		case xml.EndElement:
			if depth == 2 {
				value := types.Normalize(text.String())
				switch child {
				case "author":
					if value != "" {
						pub.Authors = append(pub.Authors, value)
					}
				case "title", "year", "journal", "booktitle":
					if _, seen := first[child]; !seen {
						first[child] = value
					}
				}
			}
			depth--
		case xml.ProcInst:
			// A processing instruction cannot be re-encoded mid-document.
			continue
		}
		if err := enc.EncodeToken(tok); err != nil {
			return nil, err
		}
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}

	if first["title"] == "" {
		return nil, nil
	}
	pub.Title = first["title"]
	pub.RawXML = raw.String()
	if y, err := strconv.Atoi(first["year"]); err == nil {
		pub.Year = &y
	}
	if v := first["journal"]; v != "" {
		pub.Venue = &v
	} else if v := first["booktitle"]; v != "" {
		pub.Venue = &v
	}
	return pub, nil
}

func recordsPerSec(count int64, elapsed time.Duration) float64 {
	secs := max(elapsed.Seconds(), 0.001)
	return math.Round(float64(count)/secs*100) / 100
}
