// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package storetest builds small populated databases for tests of the read
// path.
package storetest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pdiddy/dblp-coauthors/internal/store"
	"github.com/pdiddy/dblp-coauthors/pkg/types"
)

// Pub is a compact publication literal. A zero Year is stored as NULL.
type Pub struct {
	Title   string
	Year    int
	Venue   string
	Type    string
	Authors []string
}

// Build writes pubs into a fresh database under t.TempDir, the same way the
// indexer does, and returns its path. The writer is closed before return so
// readers can open the file.
func Build(t *testing.T, pubs ...Pub) string {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "dblp.sqlite")

	st, err := store.OpenWriter(ctx, path)
	require.NoError(t, err)
	defer st.Close()

	w, err := st.NewBatchWriter(ctx)
	require.NoError(t, err)
	defer w.Close()

	ids := make(map[string]int64)
	for _, p := range pubs {
		pub := &types.Publication{Title: p.Title, PubType: p.Type}
		if pub.PubType == "" {
			pub.PubType = "article"
		}
		if p.Year != 0 {
			y := p.Year
			pub.Year = &y
		}
		if p.Venue != "" {
			v := p.Venue
			pub.Venue = &v
		}
		pubID, err := w.InsertPublication(ctx, pub)
		require.NoError(t, err)

		for _, name := range p.Authors {
			id, ok := ids[name]
			if !ok {
				id, err = w.EnsureAuthor(ctx, name)
				require.NoError(t, err)
				ids[name] = id
			}
			w.QueueLink(pubID, id)
		}
	}
	require.NoError(t, w.Commit(ctx))
	return path
}

// Open builds a database from pubs and opens a reader on it.
func Open(t *testing.T, pubs ...Pub) *store.Store {
	t.Helper()
	path := Build(t, pubs...)
	rd, err := store.OpenReader(context.Background(), path, types.DefaultBusyTimeout)
	require.NoError(t, err)
	t.Cleanup(func() { rd.Close() })
	return rd
}
