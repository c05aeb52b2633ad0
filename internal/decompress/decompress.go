// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package decompress expands the gzip corpus archive into a plain XML file.
package decompress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"

	"github.com/pdiddy/dblp-coauthors/internal/apperr"
	"github.com/pdiddy/dblp-coauthors/pkg/types"
)

// Phase names this stage in progress reports.
const Phase = "decompress_xml"

const (
	chunkSize = 1 << 20

	// DefaultReportEvery is the byte interval between progress reports.
	DefaultReportEvery = 20 << 20
)

// Decompressor streams a gzip file to disk.
type Decompressor struct {
	ReportEvery int64
}

// Decompress expands src into dest and returns the number of bytes written.
// A malformed archive yields apperr.ErrCorruptArchive.
func (d *Decompressor) Decompress(ctx context.Context, src, dest string, report types.ProgressFunc) (int64, error) {
	if ctx.Err() != nil {
		return 0, fmt.Errorf("decompressing %s: %w", src, apperr.ErrCancelled)
	}

	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	zr, err := gzip.NewReader(in)
	if err != nil {
		return 0, corrupt(src, err)
	}
	defer zr.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("creating directory for %s: %w", dest, err)
	}
	out, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", dest, err)
	}
	defer out.Close()

	every := d.ReportEvery
	if every <= 0 {
		every = DefaultReportEvery
	}
	emit := func(written int64) {
		if report != nil {
			report(Phase, types.Progress{"written_bytes": float64(written)})
		}
	}

	buf := make([]byte, chunkSize)
	var written, lastReport int64
	for {
		if ctx.Err() != nil {
			return written, fmt.Errorf("decompressing %s: %w", src, apperr.ErrCancelled)
		}
		n, rerr := zr.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return written, fmt.Errorf("writing %s: %w", dest, werr)
			}
			written += int64(n)
			if written-lastReport >= every {
				emit(written)
				lastReport = written
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return written, corrupt(src, rerr)
		}
	}

	if err := out.Close(); err != nil {
		return written, fmt.Errorf("closing %s: %w", dest, err)
	}
	emit(written)
	return written, nil
}

func corrupt(src string, err error) error {
	var ce flate.CorruptInputError
	switch {
	case errors.Is(err, gzip.ErrHeader),
		errors.Is(err, gzip.ErrChecksum),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF),
		errors.As(err, &ce):
		return fmt.Errorf("%w: %s: %v", apperr.ErrCorruptArchive, src, err)
	}
	return fmt.Errorf("reading %s: %w", src, err)
}
