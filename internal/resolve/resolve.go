// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package resolve maps a free-text author name to author ids. Strategies are
// tried in order and the first that yields ids wins: exact normalized name,
// full-text match, then case-insensitive substring.
package resolve

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"unicode"

	"github.com/pdiddy/dblp-coauthors/pkg/types"
)

// maxFTSTerms bounds the number of tokens in a full-text query.
const maxFTSTerms = 6

// Querier is the subset of *sql.DB the resolver needs.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Options tune one resolution.
type Options struct {
	// Limit caps the ids returned by the fuzzy tiers. Nil means MaxResolve.
	Limit *int

	// ExactOnly stops after the exact tier.
	ExactOnly bool
}

// Resolver resolves author names against the store.
type Resolver struct {
	db         Querier
	maxResolve int
}

// New returns a resolver that caps fuzzy results at maxResolve.
func New(db Querier, maxResolve int) *Resolver {
	if maxResolve <= 0 {
		maxResolve = types.DefaultMaxAuthorResolve
	}
	return &Resolver{db: db, maxResolve: maxResolve}
}

// tier is one resolution strategy. An error from a tier marked fallible
// is treated as no match.
type tier struct {
	name     string
	fallible bool
	run      func(r *Resolver, ctx context.Context, name string, limit int) ([]int64, error)
}

var tiers = []tier{
	{name: "fts", fallible: true, run: (*Resolver).fullText},
	{name: "substring", run: (*Resolver).substring},
}

// Resolve returns the author ids for name. An exact match returns one id.
func (r *Resolver) Resolve(ctx context.Context, name string, opts Options) ([]int64, error) {
	normalized := types.Normalize(name)
	if normalized == "" {
		return nil, nil
	}

	ids, err := r.ids(ctx, `SELECT id FROM authors WHERE name = ? LIMIT 1`, normalized)
	if err != nil {
		return nil, fmt.Errorf("resolving %q exactly: %w", normalized, err)
	}
	if len(ids) > 0 || opts.ExactOnly {
		return ids, nil
	}

	limit := r.clamp(opts.Limit)
	for _, t := range tiers {
		ids, err := t.run(r, ctx, normalized, limit)
		if err != nil {
			if t.fallible {
				continue
			}
			return nil, fmt.Errorf("resolving %q by %s: %w", normalized, t.name, err)
		}
		if len(ids) > 0 {
			return ids, nil
		}
	}
	return nil, nil
}

func (r *Resolver) clamp(limit *int) int {
	if limit == nil {
		return r.maxResolve
	}
	return max(1, min(*limit, r.maxResolve))
}

func (r *Resolver) fullText(ctx context.Context, name string, limit int) ([]int64, error) {
	q := FTSQuery(name)
	if q == "" {
		return nil, nil
	}
	return r.ids(ctx, `SELECT rowid FROM author_fts WHERE author_fts MATCH ? ORDER BY rank LIMIT ?`, q, limit)
}

func (r *Resolver) substring(ctx context.Context, name string, limit int) ([]int64, error) {
	pattern := "%" + escapeLike(name) + "%"
	return r.ids(ctx, `SELECT id FROM authors WHERE name LIKE ? ESCAPE '\' LIMIT ?`, pattern, limit)
}

func (r *Resolver) ids(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FTSQuery turns free text into a full-text query: lowercase alphanumeric
// tokens of at least two characters, deduplicated in order of first
// appearance, at most six. It returns "" when no token qualifies.
func FTSQuery(text string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, text)

	seen := make(map[string]bool)
	var terms []string
	for _, tok := range strings.Fields(cleaned) {
		if len([]rune(tok)) < 2 || seen[tok] {
			continue
		}
		seen[tok] = true
		terms = append(terms, tok)
		if len(terms) == maxFTSTerms {
			break
		}
	}
	return strings.Join(terms, " ")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
