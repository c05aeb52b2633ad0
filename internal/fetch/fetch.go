// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package fetch downloads corpus files from trusted hosts. URLs are checked
// against an allow-list before any socket is opened, bodies are streamed to
// disk in fixed-size chunks, and cancellation is polled between chunks.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/pdiddy/dblp-coauthors/internal/apperr"
	"github.com/pdiddy/dblp-coauthors/internal/httputil"
	"github.com/pdiddy/dblp-coauthors/pkg/types"
)

// DefaultAllowedHosts are the DBLP mirrors downloads may come from.
var DefaultAllowedHosts = []string{"dblp.org", "dblp.uni-trier.de"}

const (
	chunkSize = 1 << 20

	// DefaultReportEvery is the byte interval between progress reports.
	DefaultReportEvery = 5 << 20

	defaultTimeout   = 120 * time.Second
	dialTimeout      = 20 * time.Second
	defaultUserAgent = "dblp-coauthors/0.1"
)

var errIdleTimeout = errors.New("idle read timeout")

// Fetcher streams allow-listed URLs to disk.
type Fetcher struct {
	// Client performs the requests. Its CheckRedirect is replaced so that
	// redirects are held to the same allow-list.
	Client *http.Client

	// AllowedHosts overrides DefaultAllowedHosts when non-empty.
	AllowedHosts []string

	// ReportEvery is the byte interval between progress reports.
	ReportEvery int64

	// IdleTimeout aborts a transfer when no chunk arrives in time.
	IdleTimeout time.Duration

	UserAgent  string
	MaxRetries int
}

// New returns a Fetcher with bounded connect, handshake, header and idle
// read timeouts.
func New(cfg types.HTTPConfig) *Fetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   dialTimeout,
		ResponseHeaderTimeout: timeout,
	}
	return &Fetcher{
		Client:       &http.Client{Transport: transport},
		AllowedHosts: cfg.AllowedHosts,
		ReportEvery:  DefaultReportEvery,
		IdleTimeout:  timeout,
		UserAgent:    cfg.UserAgent,
		MaxRetries:   cfg.MaxRetries,
	}
}

func (f *Fetcher) allowed() []string {
	if len(f.AllowedHosts) > 0 {
		return f.AllowedHosts
	}
	return DefaultAllowedHosts
}

// ValidateURL rejects URLs whose scheme is not http/https or whose host is
// not allow-listed.
func (f *Fetcher) ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: invalid URL %q: %v", apperr.ErrUntrustedSource, raw, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("%w: unsupported URL scheme %q", apperr.ErrUntrustedSource, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if !slices.Contains(f.allowed(), host) {
		return fmt.Errorf("%w: download host %q not allowed; only %s are permitted",
			apperr.ErrUntrustedSource, host, strings.Join(f.allowed(), ", "))
	}
	return nil
}

func (f *Fetcher) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return errors.New("stopped after 10 redirects")
	}
	return f.ValidateURL(req.URL.String())
}

func (f *Fetcher) idleTimeout() time.Duration {
	if f.IdleTimeout > 0 {
		return f.IdleTimeout
	}
	return defaultTimeout
}

// Fetch downloads rawURL to dest and returns the number of bytes written.
// Progress is reported under phase every ReportEvery bytes and once at the
// end. A cancelled ctx yields apperr.ErrCancelled and leaves the partial
// file in place.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, dest, phase string, report types.ProgressFunc) (int64, error) {
	if err := f.ValidateURL(rawURL); err != nil {
		return 0, err
	}
	if ctx.Err() != nil {
		return 0, fmt.Errorf("downloading %s: %w", rawURL, apperr.ErrCancelled)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("creating directory for %s: %w", dest, err)
	}

	reqCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	idle := time.AfterFunc(f.idleTimeout(), func() { cancel(errIdleTimeout) })
	defer idle.Stop()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, &apperr.TransferError{URL: rawURL, Err: err}
	}
	ua := f.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	req.Header.Set("User-Agent", ua)

	client := http.DefaultClient
	if f.Client != nil {
		client = f.Client
	}
	guarded := *client
	guarded.CheckRedirect = f.checkRedirect

	resp, err := httputil.DoWithRetry(reqCtx, &guarded, req, f.MaxRetries)
	if err != nil {
		return 0, classify(ctx, reqCtx, rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, &apperr.TransferError{URL: rawURL, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}

	out, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", dest, err)
	}
	defer out.Close()

	every := f.ReportEvery
	if every <= 0 {
		every = DefaultReportEvery
	}
	total := resp.ContentLength
	var written, lastReport int64
	emit := func() {
		if report == nil {
			return
		}
		payload := types.Progress{"downloaded_bytes": float64(written)}
		if total >= 0 {
			payload["total_bytes"] = float64(total)
		}
		report(phase, payload)
	}

	buf := make([]byte, chunkSize)
	for {
		if ctx.Err() != nil {
			return written, fmt.Errorf("downloading %s: %w", rawURL, apperr.ErrCancelled)
		}
		n, rerr := io.ReadFull(resp.Body, buf)
		if n > 0 {
			idle.Reset(f.idleTimeout())
			if _, werr := out.Write(buf[:n]); werr != nil {
				return written, fmt.Errorf("writing %s: %w", dest, werr)
			}
			written += int64(n)
			if written-lastReport >= every {
				emit()
				lastReport = written
			}
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return written, classify(ctx, reqCtx, rawURL, rerr)
		}
	}

	if total >= 0 && written != total {
		return written, &apperr.TransferError{
			URL: rawURL,
			Err: fmt.Errorf("short body: got %d of %d bytes", written, total),
		}
	}
	if err := out.Close(); err != nil {
		return written, fmt.Errorf("closing %s: %w", dest, err)
	}
	emit()
	return written, nil
}

// classify separates a user stop from an idle timeout and other transfer
// failures.
func classify(parent, reqCtx context.Context, rawURL string, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("downloading %s: %w", rawURL, apperr.ErrCancelled)
	}
	if errors.Is(context.Cause(reqCtx), errIdleTimeout) {
		return &apperr.TransferError{URL: rawURL, Err: fmt.Errorf("%w: %v", errIdleTimeout, err)}
	}
	return &apperr.TransferError{URL: rawURL, Err: err}
}
