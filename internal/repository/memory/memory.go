// Package memory is an in-process SnippetStore. It backs the "memory" store
// driver for local development and is the store most service and cache tests
// run against. Nothing survives a restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/snippet-vault/internal/apperror"
	"github.com/sakif/snippet-vault/internal/model"
	"github.com/sakif/snippet-vault/internal/repository"
)

var _ repository.SnippetStore = (*Store)(nil)

// Store keeps snippets in a map keyed by ID. Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	snippets map[string]model.Snippet
	now      func() time.Time
	lastTick time.Time
}

// New returns an empty Store. A nil clock means time.Now.
func New(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		snippets: make(map[string]model.Snippet),
		now:      now,
	}
}

// tick returns a timestamp strictly after every timestamp handed out so far,
// so creation order is also UpdatedAt order even with a coarse clock.
// Caller holds s.mu.
func (s *Store) tick() time.Time {
	s.lastTick = model.NextUpdatedAt(s.lastTick, s.now())
	return s.lastTick
}

func (s *Store) ListByOwner(ctx context.Context, owner string) ([]model.Snippet, error) {
	if err := repository.RequireOwner(owner); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, apperror.Unavailable("memory: listing snippets", err)
	}

	s.mu.RLock()
	out := make([]model.Snippet, 0, len(s.snippets))
	for _, sn := range s.snippets {
		if sn.Owner == owner {
			out = append(out, sn.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *Store) Insert(ctx context.Context, owner string, draft model.Draft) (*model.Snippet, error) {
	if err := repository.RequireOwner(owner); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, apperror.Unavailable("memory: inserting snippet", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.tick()
	sn := model.Snippet{
		ID:          xid.New().String(),
		Owner:       owner,
		Title:       draft.Title,
		Description: draft.Description,
		Code:        draft.Code,
		Language:    draft.Language,
		Tags:        draft.Tags,
		CreatedAt:   now,
		UpdatedAt:   now,
	}.Clone()
	s.snippets[sn.ID] = sn

	out := sn.Clone()
	return &out, nil
}

func (s *Store) UpdateByID(ctx context.Context, owner, id string, patch model.Patch) (*model.Snippet, error) {
	if err := repository.RequireOwner(owner); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, apperror.Unavailable("memory: updating snippet", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sn, ok := s.snippets[id]
	if !ok || sn.Owner != owner {
		return nil, apperror.NotFound("snippet", id)
	}
	sn = sn.Clone()
	patch.Apply(&sn)
	sn.UpdatedAt = model.NextUpdatedAt(sn.UpdatedAt, s.tick())
	s.snippets[id] = sn

	out := sn.Clone()
	return &out, nil
}

func (s *Store) DeleteByID(ctx context.Context, owner, id string) error {
	if err := repository.RequireOwner(owner); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return apperror.Unavailable("memory: deleting snippet", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sn, ok := s.snippets[id]
	if !ok || sn.Owner != owner {
		return apperror.NotFound("snippet", id)
	}
	delete(s.snippets, id)
	return nil
}
