// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/dblp-coauthors/internal/apperr"
	"github.com/pdiddy/dblp-coauthors/internal/fetch"
	"github.com/pdiddy/dblp-coauthors/internal/store"
	"github.com/pdiddy/dblp-coauthors/internal/xmlindex"
	"github.com/pdiddy/dblp-coauthors/pkg/types"
)

type fakeFetcher struct {
	mu     sync.Mutex
	phases []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url, dest, phase string, report types.ProgressFunc) (int64, error) {
	f.mu.Lock()
	f.phases = append(f.phases, phase)
	f.mu.Unlock()
	if err := os.WriteFile(dest, []byte(url), 0o644); err != nil {
		return 0, err
	}
	report(phase, types.Progress{"downloaded_bytes": float64(len(url))})
	return int64(len(url)), nil
}

type blockingDecompressor struct {
	entered chan struct{}
}

func (d *blockingDecompressor) Decompress(ctx context.Context, _, _ string, _ types.ProgressFunc) (int64, error) {
	close(d.entered)
	<-ctx.Done()
	return 0, fmt.Errorf("decompressing: %w", apperr.ErrCancelled)
}

type copyDecompressor struct{}

func (copyDecompressor) Decompress(_ context.Context, src, dest string, report types.ProgressFunc) (int64, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return 0, err
	}
	report(PhaseDecompress, types.Progress{"written_bytes": float64(len(data))})
	return int64(len(data)), os.WriteFile(dest, data, 0o644)
}

type recordingIndexer struct {
	calls atomic.Int32
}

func (ix *recordingIndexer) Build(_ context.Context, _ string, _ *store.Store, report types.ProgressFunc) (xmlindex.Stats, error) {
	ix.calls.Add(1)
	report(PhaseBuild, types.Progress{"processed_records": 3, "records_per_sec": 3})
	return xmlindex.Stats{ProcessedRecords: 3, Elapsed: time.Second, RecordsPerSec: 3}, nil
}

// recorder is an Emitter that keeps everything in memory.
type recorder struct {
	logs   []string
	phases []string
}

func (r *recorder) Log(msg string) { r.logs = append(r.logs, msg) }

func (r *recorder) Progress(phase string, _ types.Progress) {
	if len(r.phases) == 0 || r.phases[len(r.phases)-1] != phase {
		r.phases = append(r.phases, phase)
	}
}

func TestPipeline_StageOrder(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.DBPath(), []byte("stale"), 0o644))
	require.NoError(t, os.WriteFile(cfg.DBPath()+"-shm", []byte("stale"), 0o644))

	fetcher := &fakeFetcher{}
	idx := &recordingIndexer{}
	p := &Pipeline{
		Fetcher:      fetcher,
		Decompressor: copyDecompressor{},
		NewIndexer:   func(types.PipelineConfig) Indexer { return idx },
	}

	rec := &recorder{}
	result, err := p.Run(context.Background(), cfg, rec)
	require.NoError(t, err)

	assert.Equal(t, []string{PhaseDownloadDTD, PhaseDownloadXML, PhaseDecompress, PhaseBuild}, rec.phases)
	assert.Equal(t, []string{PhaseDownloadDTD, PhaseDownloadXML}, fetcher.phases)
	assert.Equal(t, int32(1), idx.calls.Load())

	assert.Contains(t, rec.logs, "Removed existing file: "+cfg.DBPath())
	assert.Contains(t, rec.logs, "Removed existing file: "+cfg.DBPath()+"-shm")
	assert.True(t, strings.HasPrefix(rec.logs[len(rec.logs)-1], "Pipeline finished in "))

	assert.Equal(t, 3, result.ProcessedRecords)
	assert.Equal(t, cfg.DBPath(), result.DBPath)
	assert.Equal(t, cfg.XMLPath(), result.XMLPath)
	assert.FileExists(t, cfg.DBPath(), "store schema is created")
}

func TestPipeline_CancelledBeforeFirstStage(t *testing.T) {
	fetcher := &fakeFetcher{}
	p := &Pipeline{Fetcher: fetcher, Decompressor: copyDecompressor{}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Run(ctx, testConfig(t), &recorder{})
	assert.ErrorIs(t, err, apperr.ErrCancelled)
	assert.Empty(t, fetcher.phases)
}

func TestPipeline_UntrustedURLFailsRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.DTDURL = "https://evil.example.com/dblp.dtd"
	p := New(types.HTTPConfig{}, nil)

	_, err := p.Run(context.Background(), cfg, &recorder{})
	assert.ErrorIs(t, err, apperr.ErrUntrustedSource)
	assert.NoFileExists(t, cfg.DTDPath())
}

const corpusDTD = `<!ENTITY ouml "&#246;">`

func corpusXML(n int) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	sb.WriteString(`<!DOCTYPE dblp SYSTEM "dblp.dtd">` + "\n<dblp>\n")
	for i := range n {
		fmt.Fprintf(&sb, `<article key="k%d"><author>Kurt G&ouml;del</author><author>Coauthor %d</author><title>Paper %d</title><year>%d</year><journal>J</journal></article>`+"\n",
			i, i%5, i, 1930+i%20)
	}
	sb.WriteString("</dblp>\n")
	return sb.String()
}

func corpusServer(t *testing.T, records int) *httptest.Server {
	t.Helper()
	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	_, err := zw.Write([]byte(corpusXML(records)))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	mux := http.NewServeMux()
	mux.HandleFunc("/xml/dblp.dtd", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(corpusDTD))
	})
	mux.HandleFunc("/xml/dblp.xml.gz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write(gz.Bytes())
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func TestRunner_FullRunIsRebuildIdempotent(t *testing.T) {
	const records = 250
	ts := corpusServer(t, records)

	p := New(types.HTTPConfig{}, nil)
	p.Fetcher = &fetch.Fetcher{Client: ts.Client(), AllowedHosts: []string{"127.0.0.1"}}
	r := NewRunner(p)

	cfg := types.DefaultPipelineConfig(t.TempDir())
	cfg.XMLGzURL = ts.URL + "/xml/dblp.xml.gz"
	cfg.DTDURL = ts.URL + "/xml/dblp.dtd"
	cfg.BatchSize = types.MinBatchSize

	counts := func() (int64, int64) {
		rd, err := store.OpenReader(context.Background(), cfg.DBPath(), time.Second)
		require.NoError(t, err)
		defer rd.Close()
		pubs, authors, err := rd.Counts(context.Background())
		require.NoError(t, err)
		return pubs, authors
	}

	for run := range 2 {
		_, err := r.Start(cfg)
		require.NoError(t, err)
		final := wait(t, r)
		require.Equal(t, types.StatusCompleted, final.Status, "run %d: %s", run, final.Message)
		require.NotNil(t, final.Result)
		assert.Equal(t, records, final.Result.ProcessedRecords)
		assert.Equal(t, float64(records), final.Progress["processed_records"])

		pubs, authors := counts()
		assert.Equal(t, int64(records), pubs, "run %d", run)
		assert.Equal(t, int64(6), authors, "run %d", run)
	}

	rd, err := store.OpenReader(context.Background(), cfg.DBPath(), time.Second)
	require.NoError(t, err)
	defer rd.Close()
	var name string
	require.NoError(t, rd.DB().QueryRow(`SELECT name FROM authors WHERE name LIKE 'Kurt%'`).Scan(&name))
	assert.Equal(t, "Kurt Gödel", name)
	_, err = os.Stat(filepath.Join(cfg.DataDir, "dblp.xml"))
	assert.NoError(t, err)
}
