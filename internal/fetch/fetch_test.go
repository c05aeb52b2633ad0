// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package fetch

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/dblp-coauthors/internal/apperr"
	"github.com/pdiddy/dblp-coauthors/pkg/types"
)

// countingTransport records whether any request left the process.
type countingTransport struct{ calls int32 }

func (c *countingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	atomic.AddInt32(&c.calls, 1)
	return nil, errors.New("network disabled in test")
}

func testFetcher(ts *httptest.Server) *Fetcher {
	return &Fetcher{
		Client:       ts.Client(),
		AllowedHosts: []string{"127.0.0.1"},
		ReportEvery:  1 << 20,
		IdleTimeout:  5 * time.Second,
	}
}

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('a' + i%26)
	}
	return b
}

func TestValidateURL(t *testing.T) {
	f := &Fetcher{}
	tests := []struct {
		name string
		url  string
		ok   bool
	}{
		{"dblp https", "https://dblp.org/xml/dblp.xml.gz", true},
		{"mirror http", "http://dblp.uni-trier.de/xml/dblp.dtd", true},
		{"host is case-insensitive", "https://DBLP.org/xml/dblp.dtd", true},
		{"foreign host", "https://evil.example.com/dblp.xml.gz", false},
		{"suffix trick", "https://dblp.org.evil.example.com/x", false},
		{"file scheme", "file:///etc/passwd", false},
		{"ftp scheme", "ftp://dblp.org/xml/dblp.xml.gz", false},
		{"unparseable", "http://[::1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.ValidateURL(tt.url)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, apperr.ErrUntrustedSource)
		})
	}
}

func TestFetch_UntrustedHostNoNetwork(t *testing.T) {
	rt := &countingTransport{}
	f := &Fetcher{Client: &http.Client{Transport: rt}}
	dest := filepath.Join(t.TempDir(), "dblp.xml.gz")

	n, err := f.Fetch(context.Background(), "https://example.com/dblp.xml.gz", dest, "download_xml_gz", nil)
	assert.ErrorIs(t, err, apperr.ErrUntrustedSource)
	assert.Zero(t, n)
	assert.Zero(t, atomic.LoadInt32(&rt.calls))
	assert.NoFileExists(t, dest)
}

func TestFetch_StreamsToDisk(t *testing.T) {
	body := payload(3<<20 + 17)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "dblp.xml.gz", time.Time{}, bytes.NewReader(body))
	}))
	defer ts.Close()

	var reports []types.Progress
	dest := filepath.Join(t.TempDir(), "nested", "dir", "dblp.xml.gz")
	n, err := testFetcher(ts).Fetch(context.Background(), ts.URL+"/xml/dblp.xml.gz", dest, "download_xml_gz",
		func(phase string, p types.Progress) {
			assert.Equal(t, "download_xml_gz", phase)
			reports = append(reports, p)
		})
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), n)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, body, got)

	// Three threshold reports and one final report.
	require.Len(t, reports, 4)
	last := reports[len(reports)-1]
	assert.Equal(t, float64(len(body)), last["downloaded_bytes"])
	assert.Equal(t, float64(len(body)), last["total_bytes"])
	for i := 1; i < len(reports); i++ {
		assert.GreaterOrEqual(t, reports[i]["downloaded_bytes"], reports[i-1]["downloaded_bytes"])
	}
}

func TestFetch_UnknownLengthOmitsTotal(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		w.Write([]byte("<dblp></dblp>"))
	}))
	defer ts.Close()

	var last types.Progress
	dest := filepath.Join(t.TempDir(), "dblp.dtd")
	_, err := testFetcher(ts).Fetch(context.Background(), ts.URL, dest, "download_dtd",
		func(_ string, p types.Progress) { last = p })
	require.NoError(t, err)

	require.NotNil(t, last)
	assert.Equal(t, float64(len("<dblp></dblp>")), last["downloaded_bytes"])
	_, ok := last["total_bytes"]
	assert.False(t, ok)
}

func TestFetch_HTTPError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer ts.Close()

	_, err := testFetcher(ts).Fetch(context.Background(), ts.URL, filepath.Join(t.TempDir(), "x"), "download_dtd", nil)
	var te *apperr.TransferError
	require.ErrorAs(t, err, &te)
	assert.Contains(t, te.Error(), "HTTP 404")
	assert.NotErrorIs(t, err, apperr.ErrCancelled)
}

func TestFetch_RedirectToUntrustedHost(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "http://evil.example.com/payload", http.StatusFound)
	}))
	defer ts.Close()

	_, err := testFetcher(ts).Fetch(context.Background(), ts.URL, filepath.Join(t.TempDir(), "x"), "download_dtd", nil)
	assert.ErrorIs(t, err, apperr.ErrUntrustedSource)
}

func TestFetch_CancelledMidTransfer(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write(payload(1 << 20))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dest := filepath.Join(t.TempDir(), "dblp.xml.gz")
	n, err := testFetcher(ts).Fetch(ctx, ts.URL, dest, "download_xml_gz",
		func(string, types.Progress) { cancel() })
	assert.ErrorIs(t, err, apperr.ErrCancelled)
	assert.Equal(t, int64(1<<20), n)

	info, statErr := os.Stat(dest)
	require.NoError(t, statErr, "partial file is kept")
	assert.Equal(t, int64(1<<20), info.Size())
}

func TestFetch_AlreadyCancelled(t *testing.T) {
	rt := &countingTransport{}
	f := &Fetcher{Client: &http.Client{Transport: rt}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Fetch(ctx, "https://dblp.org/xml/dblp.dtd", filepath.Join(t.TempDir(), "dblp.dtd"), "download_dtd", nil)
	assert.ErrorIs(t, err, apperr.ErrCancelled)
	assert.Zero(t, atomic.LoadInt32(&rt.calls))
}

func TestFetch_IdleTimeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer ts.Close()

	f := testFetcher(ts)
	f.IdleTimeout = 50 * time.Millisecond

	_, err := f.Fetch(context.Background(), ts.URL, filepath.Join(t.TempDir(), "x"), "download_dtd", nil)
	var te *apperr.TransferError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, errIdleTimeout)
	assert.NotErrorIs(t, err, apperr.ErrCancelled)
}
