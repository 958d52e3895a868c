package service

import (
	"context"
	"fmt"
	"io"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/sakif/snippet-vault/internal/apperror"
	"github.com/sakif/snippet-vault/internal/cache"
	"github.com/sakif/snippet-vault/internal/model"
	"github.com/sakif/snippet-vault/internal/query"
	"github.com/sakif/snippet-vault/internal/repository"
)

// ExportFileName is the suggested name for an export download.
const ExportFileName = "snippets-export.json"

var exportJSON = jsoniter.Config{
	EscapeHTML:             false,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
}.Froze()

// View is a filtered read of an owner's collection.
type View struct {
	Snippets  []model.Snippet `json:"snippets"`
	Count     int             `json:"count"` // len(Snippets)
	Total     int             `json:"total"` // size of the unfiltered collection
	Stale     bool            `json:"stale"`
	Loading   bool            `json:"loading"`
	FetchedAt time.Time       `json:"fetchedAt"`
	// Err is the last refresh failure, if the collection could not be
	// brought up to date. The snippets are then the last good copy.
	Err error `json:"-"`
}

// load returns owner's snapshot.
//
// FIRST LOAD vs LATER LOADS:
// Before the first successful fetch there is nothing to show, so load
// waits for it. After that it never waits: a stale snapshot is served as-is
// (flagged Stale) while a refresh runs in the background.
func (s *SnippetService) load(ctx context.Context, owner string) (cache.Snapshot, error) {
	if err := repository.RequireOwner(owner); err != nil {
		return cache.Snapshot{}, err
	}

	snap := s.cache.Snapshot(owner)
	if !snap.Loaded {
		if err := s.cache.EnsureFresh(owner).Wait(ctx); err != nil {
			return cache.Snapshot{}, fmt.Errorf("service: loading snippets: %w", err)
		}
		return s.cache.Snapshot(owner), nil
	}

	if snap.Stale && !snap.Loading {
		s.cache.EnsureFresh(owner)
	}
	return snap, nil
}

// View returns owner's snippets matching p, newest first.
func (s *SnippetService) View(ctx context.Context, owner string, p query.Predicate) (*View, error) {
	snap, err := s.load(ctx, owner)
	if err != nil {
		return nil, err
	}

	matched := query.Filter(snap.Snippets, p)
	return &View{
		Snippets:  matched,
		Count:     len(matched),
		Total:     len(snap.Snippets),
		Stale:     snap.Stale,
		Loading:   snap.Loading,
		FetchedAt: snap.FetchedAt,
		Err:       snap.Err,
	}, nil
}

// Facets summarises owner's whole collection: totals, favorites and
// per-language counts.
func (s *SnippetService) Facets(ctx context.Context, owner string) (*query.Facets, error) {
	snap, err := s.load(ctx, owner)
	if err != nil {
		return nil, err
	}
	f := query.Summarize(snap.Snippets)
	return &f, nil
}

// Get returns one snippet from owner's collection.
func (s *SnippetService) Get(ctx context.Context, owner, id string) (*model.Snippet, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	snap, err := s.load(ctx, owner)
	if err != nil {
		return nil, err
	}
	for _, sn := range snap.Snippets {
		if sn.ID == id {
			return &sn, nil
		}
	}
	return nil, apperror.NotFound("snippet", id)
}

// Export writes owner's full collection to w as an indented JSON array.
// Unlike View it waits for an up-to-date collection; an export of stale
// data is not useful.
func (s *SnippetService) Export(ctx context.Context, owner string, w io.Writer) error {
	if err := repository.RequireOwner(owner); err != nil {
		return err
	}
	if err := s.cache.EnsureFresh(owner).Wait(ctx); err != nil {
		return fmt.Errorf("service: refreshing before export: %w", err)
	}

	snippets := s.cache.Snapshot(owner).Snippets
	enc := exportJSON.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snippets); err != nil {
		return fmt.Errorf("service: encoding export: %w", err)
	}
	return nil
}
