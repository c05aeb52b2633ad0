// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package coauthor answers co-authorship queries between two lists of
// author names. Every left entry is paired with every right entry; a pair
// lists the distinct publications written by at least one author resolved
// from each side.
package coauthor

import (
	"context"
	"database/sql"
	"fmt"
	"slices"

	sq "github.com/Masterminds/squirrel"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/dblp-coauthors/internal/apperr"
	"github.com/pdiddy/dblp-coauthors/internal/resolve"
	"github.com/pdiddy/dblp-coauthors/pkg/types"
)

// defaultWorkers bounds concurrent name resolutions and pair queries.
const defaultWorkers = 4

// Request is one pairs query.
type Request struct {
	Left  []string `json:"left" yaml:"left"`
	Right []string `json:"right" yaml:"right"`

	// LimitPerPair caps the publications listed per pair. Nil means unlimited.
	LimitPerPair *int `json:"limit_per_pair,omitempty" yaml:"limit_per_pair,omitempty"`

	// AuthorLimit caps the ids resolved per name by the fuzzy tiers.
	AuthorLimit *int `json:"author_limit,omitempty" yaml:"author_limit,omitempty"`

	// ExactBaseMatch restricts resolution to exact names.
	ExactBaseMatch bool `json:"exact_base_match" yaml:"exact_base_match"`

	// YearMin drops publications older than this year, and those without one.
	YearMin *int `json:"year_min,omitempty" yaml:"year_min,omitempty"`
}

// Item is one co-authored publication.
type Item struct {
	Title   string  `json:"title" yaml:"title"`
	Year    *int    `json:"year" yaml:"year"`
	Venue   *string `json:"venue" yaml:"venue"`
	PubType string  `json:"pub_type" yaml:"pub_type"`
}

// Pair is the detail of one left/right cell.
type Pair struct {
	Left  string `json:"left" yaml:"left"`
	Right string `json:"right" yaml:"right"`
	Count int    `json:"count" yaml:"count"`
	Items []Item `json:"items" yaml:"items"`
}

// Result is the answer to a Request.
type Result struct {
	LimitPerPair   *int                      `json:"limit_per_pair" yaml:"limit_per_pair"`
	ExactBaseMatch bool                      `json:"exact_base_match" yaml:"exact_base_match"`
	LeftAuthors    []string                  `json:"left_authors" yaml:"left_authors"`
	RightAuthors   []string                  `json:"right_authors" yaml:"right_authors"`
	Matrix         map[string]map[string]int `json:"matrix" yaml:"matrix"`
	Pairs          []Pair                    `json:"pair_pubs" yaml:"pair_pubs"`
	PairCount      int                       `json:"pair_count" yaml:"pair_count"`
}

// Engine runs pairs queries against one database handle.
type Engine struct {
	db       resolve.Querier
	resolver *resolve.Resolver
	cfg      types.ServiceConfig
	workers  int
}

// New returns an engine reading db with the limits in cfg.
func New(db resolve.Querier, cfg types.ServiceConfig) *Engine {
	cfg = cfg.WithDefaults()
	return &Engine{
		db:       db,
		resolver: resolve.New(db, cfg.MaxAuthorResolve),
		cfg:      cfg,
		workers:  defaultWorkers,
	}
}

// SanitizeEntries normalizes whitespace, drops empty entries and removes
// duplicates, keeping the first occurrence.
func SanitizeEntries(entries []string) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		e = types.Normalize(e)
		if e == "" || slices.Contains(out, e) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Pairs runs req. Invalid side lists fail with apperr.ErrInvalidRequest.
func (e *Engine) Pairs(ctx context.Context, req Request) (*Result, error) {
	left := SanitizeEntries(req.Left)
	right := SanitizeEntries(req.Right)
	if len(left) == 0 || len(right) == 0 {
		return nil, fmt.Errorf("%w: both left and right author lists are required", apperr.ErrInvalidRequest)
	}
	if len(left) > e.cfg.MaxEntriesPerSide || len(right) > e.cfg.MaxEntriesPerSide {
		return nil, fmt.Errorf("%w: too many authors, max %d per side is allowed",
			apperr.ErrInvalidRequest, e.cfg.MaxEntriesPerSide)
	}

	var limit *int
	if req.LimitPerPair != nil {
		l := max(1, min(*req.LimitPerPair, e.cfg.MaxLimit))
		limit = &l
	}

	ids, err := e.resolveAll(ctx, append(slices.Clone(left), right...), req)
	if err != nil {
		return nil, err
	}

	pairs := make([]Pair, len(left)*len(right))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, l := range left {
		for j, r := range right {
			idx := i*len(right) + j
			g.Go(func() error {
				items, err := e.pairItems(gctx, ids[l], ids[r], req.YearMin, limit)
				if err != nil {
					return fmt.Errorf("querying pair %q / %q: %w", l, r, err)
				}
				pairs[idx] = Pair{Left: l, Right: r, Count: len(items), Items: items}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	matrix := make(map[string]map[string]int, len(left))
	for _, l := range left {
		matrix[l] = make(map[string]int, len(right))
	}
	for _, p := range pairs {
		matrix[p.Left][p.Right] = p.Count
	}

	return &Result{
		LimitPerPair:   limit,
		ExactBaseMatch: req.ExactBaseMatch,
		LeftAuthors:    left,
		RightAuthors:   right,
		Matrix:         matrix,
		Pairs:          pairs,
		PairCount:      len(pairs),
	}, nil
}

// resolveAll resolves each distinct name once.
func (e *Engine) resolveAll(ctx context.Context, names []string, req Request) (map[string][]int64, error) {
	names = slices.Compact(slices.Sorted(slices.Values(names)))
	found := make([][]int64, len(names))
	opts := resolve.Options{Limit: req.AuthorLimit, ExactOnly: req.ExactBaseMatch}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, name := range names {
		g.Go(func() error {
			ids, err := e.resolver.Resolve(gctx, name, opts)
			found[i] = ids
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string][]int64, len(names))
	for i, name := range names {
		out[name] = found[i]
	}
	return out, nil
}

// pairQuery builds the co-authorship query. Both sides are matched on
// separate link rows, so a publication whose single author was resolved on
// both sides counts for the pair.
func pairQuery(left, right []int64, yearMin, limit *int) sq.SelectBuilder {
	q := sq.Select("p.title", "p.year", "p.venue", "p.pub_type").Distinct().
		From("pub_authors pa1").
		Join("pub_authors pa2 ON pa1.pub_id = pa2.pub_id").
		Join("publications p ON p.id = pa1.pub_id").
		Where(sq.Eq{"pa1.author_id": left}).
		Where(sq.Eq{"pa2.author_id": right}).
		OrderBy("(p.year IS NULL) ASC", "p.year DESC", "p.title ASC")
	if yearMin != nil {
		q = q.Where(sq.GtOrEq{"p.year": *yearMin})
	}
	if limit != nil {
		q = q.Limit(uint64(*limit))
	}
	return q
}

func (e *Engine) pairItems(ctx context.Context, left, right []int64, yearMin, limit *int) ([]Item, error) {
	items := []Item{}
	if len(left) == 0 || len(right) == 0 {
		return items, nil
	}

	stmt, args, err := pairQuery(left, right, yearMin, limit).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building pair query: %w", err)
	}
	rows, err := e.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			it      Item
			year    sql.NullInt64
			venue   sql.NullString
			pubType sql.NullString
		)
		if err := rows.Scan(&it.Title, &year, &venue, &pubType); err != nil {
			return nil, err
		}
		if year.Valid {
			y := int(year.Int64)
			it.Year = &y
		}
		if venue.Valid {
			v := venue.String
			it.Venue = &v
		}
		it.PubType = pubType.String
		items = append(items, it)
	}
	return items, rows.Err()
}
