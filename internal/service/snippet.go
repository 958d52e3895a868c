// Package service contains the business logic layer of the application.
//
// THE LAYERS:
//
//	Handler (HTTP / CLI)  → parses input, renders output
//	Service (this package) → validates, dispatches mutations, serves views
//	Cache                  → per-owner snapshot of the store, with staleness
//	Repository             → the remote store (sqlite, postgres, memory)
//
// READS AND WRITES TAKE DIFFERENT PATHS:
// Reads never go to the store directly. They read the owner's cache entry
// (see View) and ask the cache to refresh it when stale. Writes go to the
// store first and only then touch the cache: after the store confirms a
// mutation, the owner's entry is invalidated and refetched, so the next view
// reflects the store's own answer (including the timestamps it assigned)
// instead of an optimistic guess.
//
// EXPLICIT OWNER:
// Every method takes the owner as an argument. There is no ambient session
// here; the HTTP layer pulls the owner out of the JWT and passes it down.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sakif/snippet-vault/internal/apperror"
	"github.com/sakif/snippet-vault/internal/cache"
	"github.com/sakif/snippet-vault/internal/metrics"
	"github.com/sakif/snippet-vault/internal/model"
	"github.com/sakif/snippet-vault/internal/repository"
)

// Validation constants.
const (
	MaxTitleLength       = 200
	MaxDescriptionLength = 2000
	MaxCodeLength        = 100000 // ~100KB of code
	MaxTagLength         = 50
	MaxTags              = 20
)

// maxRefreshAttempts bounds how often a mutation re-reads the store when
// other invalidations keep landing while its refetch is in flight.
const maxRefreshAttempts = 3

// errStillStale is returned by refresh when every attempt was overtaken by
// another invalidation.
var errStillStale = errors.New("service: snapshot still stale after refetching")

// SnippetService is the mutation dispatcher and read surface for snippets.
//
// STRUCT FIELDS:
//   - store: the remote store (injected as an interface)
//   - cache: per-owner snapshots, shared with every reader
//   - observers: receive each mutation's state transitions
type SnippetService struct {
	store     repository.SnippetStore
	cache     *cache.Cache
	logger    *slog.Logger
	metrics   *metrics.Metrics
	observers []Observer
}

// Option configures a SnippetService.
type Option func(*SnippetService)

// WithMetrics records mutation counts and durations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *SnippetService) { s.metrics = m }
}

// WithObserver adds an Observer for mutation transitions.
func WithObserver(o Observer) Option {
	return func(s *SnippetService) { s.observers = append(s.observers, o) }
}

// NewSnippetService creates a SnippetService. The cache must read through
// the same store that is passed here.
func NewSnippetService(store repository.SnippetStore, c *cache.Cache, logger *slog.Logger, options ...Option) *SnippetService {
	s := &SnippetService{
		store:  store,
		cache:  c,
		logger: logger,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Create validates draft and stores it as a new snippet for owner.
//
// VALIDATION HAPPENS BEFORE THE STORE:
// A draft with an empty title or empty code is rejected here with a
// validation error, and the store is never called. Tags are normalised
// (trimmed, lowercased, deduplicated) and an empty language becomes
// "other" before the draft leaves this package.
func (s *SnippetService) Create(ctx context.Context, owner string, draft model.Draft) (*model.Snippet, error) {
	if err := repository.RequireOwner(owner); err != nil {
		return nil, err
	}

	draft.Title = strings.TrimSpace(draft.Title)
	draft.Description = strings.TrimSpace(draft.Description)
	draft.Language = model.ParseLanguage(string(draft.Language))
	draft.Tags = model.NormalizeTags(draft.Tags)

	if err := validateTitle(draft.Title); err != nil {
		return nil, err
	}
	if err := validateDescription(draft.Description); err != nil {
		return nil, err
	}
	if err := validateCode(draft.Code); err != nil {
		return nil, err
	}
	if err := validateTags(draft.Tags); err != nil {
		return nil, err
	}

	return s.dispatch(ctx, OpCreate, owner, "", func(ctx context.Context) (*model.Snippet, error) {
		return s.store.Insert(ctx, owner, draft)
	})
}

// Update applies patch to the snippet id of owner. Only the fields set in
// the patch are validated and changed.
//
// A snippet that doesn't exist, or that belongs to another owner, fails
// with apperror.ErrNotFound. In that case the owner's cache entry is still
// refreshed: the id came from somewhere, most likely a stale snapshot.
func (s *SnippetService) Update(ctx context.Context, owner, id string, patch model.Patch) (*model.Snippet, error) {
	if err := repository.RequireOwner(owner); err != nil {
		return nil, err
	}
	if err := validateID(id); err != nil {
		return nil, err
	}

	patch, err := normalizePatch(patch)
	if err != nil {
		return nil, err
	}
	if patch.IsEmpty() {
		return nil, apperror.ValidationFailed("patch", "at least one field must be set")
	}

	return s.dispatch(ctx, OpUpdate, owner, id, func(ctx context.Context) (*model.Snippet, error) {
		return s.store.UpdateByID(ctx, owner, id, patch)
	})
}

// ToggleFavorite sets the favorite flag of a snippet to next. It is an
// Update that touches nothing else, so it also moves UpdatedAt forward.
func (s *SnippetService) ToggleFavorite(ctx context.Context, owner, id string, next bool) (*model.Snippet, error) {
	if err := repository.RequireOwner(owner); err != nil {
		return nil, err
	}
	if err := validateID(id); err != nil {
		return nil, err
	}

	patch := model.Patch{IsFavorite: &next}
	return s.dispatch(ctx, OpToggleFavorite, owner, id, func(ctx context.Context) (*model.Snippet, error) {
		return s.store.UpdateByID(ctx, owner, id, patch)
	})
}

// Remove deletes a snippet.
//
// LOST RESPONSES:
// If a previous delete reached the store but its response never made it
// back, retrying it yields NotFound. Remove treats NotFound as success for
// that reason. This is a convention, not something the store guarantees:
// an id that never existed is "removed" just the same.
func (s *SnippetService) Remove(ctx context.Context, owner, id string) error {
	if err := repository.RequireOwner(owner); err != nil {
		return err
	}
	if err := validateID(id); err != nil {
		return err
	}

	_, err := s.dispatch(ctx, OpRemove, owner, id, func(ctx context.Context) (*model.Snippet, error) {
		err := s.store.DeleteByID(ctx, owner, id)
		if errors.Is(err, apperror.ErrNotFound) {
			s.logger.Info("snippet already removed",
				slog.String("owner", owner),
				slog.String("id", id),
			)
			return nil, nil
		}
		return nil, err
	})
	return err
}

// AddTag adds a tag to a snippet. When the normalised tag is already there
// the snippet is returned from the cache and the store is not called.
func (s *SnippetService) AddTag(ctx context.Context, owner, id, rawTag string) (*model.Snippet, error) {
	if err := repository.RequireOwner(owner); err != nil {
		return nil, err
	}
	if err := validateID(id); err != nil {
		return nil, err
	}
	tag, err := model.NormalizeTag(rawTag)
	if err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(tag) > MaxTagLength {
		return nil, apperror.ValidationFailed("tags",
			fmt.Sprintf("tags must be %d characters or less", MaxTagLength))
	}

	current, err := s.lookup(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	tags := model.NormalizeTagSet(current.Tags, tag)
	if len(tags) == len(current.Tags) {
		return current, nil
	}
	if err := validateTags(tags); err != nil {
		return nil, err
	}

	patch := model.Patch{Tags: &tags}
	return s.dispatch(ctx, OpAddTag, owner, id, func(ctx context.Context) (*model.Snippet, error) {
		return s.store.UpdateByID(ctx, owner, id, patch)
	})
}

// RemoveTag removes a tag from a snippet. Removing a tag the snippet
// doesn't carry is a no-op without a store call.
func (s *SnippetService) RemoveTag(ctx context.Context, owner, id, rawTag string) (*model.Snippet, error) {
	if err := repository.RequireOwner(owner); err != nil {
		return nil, err
	}
	if err := validateID(id); err != nil {
		return nil, err
	}
	if _, err := model.NormalizeTag(rawTag); err != nil {
		return nil, err
	}

	current, err := s.lookup(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	tags := model.RemoveTag(current.Tags, rawTag)
	if len(tags) == len(current.Tags) {
		return current, nil
	}

	patch := model.Patch{Tags: &tags}
	return s.dispatch(ctx, OpRemoveTag, owner, id, func(ctx context.Context) (*model.Snippet, error) {
		return s.store.UpdateByID(ctx, owner, id, patch)
	})
}

// dispatch runs one store call through the mutation state machine and
// reconciles the cache afterwards.
//
// LIVENESS:
// The cache generation is captured before the store call. If the entry was
// evicted (sign-out) or ctx was cancelled by the time the store answers,
// the cache is left untouched: whoever is still around will refetch.
func (s *SnippetService) dispatch(
	ctx context.Context,
	op Op,
	owner, id string,
	submit func(context.Context) (*model.Snippet, error),
) (*model.Snippet, error) {
	start := time.Now()
	gen := s.cache.Generation(owner)
	m := &machine{observers: s.observers, op: op, owner: owner, snippetID: id, state: StateIdle}

	m.move(StateSubmitting, nil)
	result, err := submit(ctx)
	if err != nil {
		m.move(StateFailed, err)
		if errors.Is(err, apperror.ErrNotFound) && s.live(ctx, owner, gen) {
			s.cache.Invalidate(owner)
			if rerr := s.refresh(ctx, owner); rerr != nil {
				s.logger.Warn("reconciling cache after not found",
					slog.String("owner", owner),
					slog.String("error", rerr.Error()),
				)
			}
		}
		m.move(StateIdle, err)
		s.finish(op, owner, id, start, err)
		return nil, fmt.Errorf("service: %s snippet: %w", op, err)
	}

	if result != nil {
		m.snippetID = result.ID
		id = result.ID
	}
	m.move(StateSucceeded, nil)

	if !s.live(ctx, owner, gen) {
		s.logger.Debug("skipping cache update for departed caller",
			slog.String("op", string(op)),
			slog.String("owner", owner),
		)
		m.move(StateIdle, nil)
		s.finish(op, owner, id, start, nil)
		return result, nil
	}

	s.cache.Invalidate(owner)
	m.move(StateCacheInvalidated, nil)

	m.move(StateRefetching, nil)
	if err := s.refresh(ctx, owner); err != nil {
		// The mutation is committed; the read failure is on the snapshot.
		s.logger.Debug("snapshot not fresh after mutation",
			slog.String("op", string(op)),
			slog.String("owner", owner),
			slog.String("error", err.Error()),
		)
		m.move(StateIdle, err)
		s.finish(op, owner, id, start, nil)
		return result, nil
	}
	m.move(StateFresh, nil)

	s.finish(op, owner, id, start, nil)
	return result, nil
}

// lookup finds id in owner's snapshot for the tag operations. A miss can
// mean the snapshot lags the store (the snippet was created elsewhere), so
// the entry is invalidated and refetched and the lookup tried once more.
func (s *SnippetService) lookup(ctx context.Context, owner, id string) (*model.Snippet, error) {
	current, err := s.Get(ctx, owner, id)
	if !errors.Is(err, apperror.ErrNotFound) {
		return current, err
	}

	s.cache.Invalidate(owner)
	if rerr := s.refresh(ctx, owner); rerr != nil && !errors.Is(rerr, errStillStale) {
		return nil, fmt.Errorf("service: reconciling cache: %w", rerr)
	}
	return s.Get(ctx, owner, id)
}

// refresh fetches until the owner's entry is no longer stale. It gives up
// with errStillStale after maxRefreshAttempts.
func (s *SnippetService) refresh(ctx context.Context, owner string) error {
	for range maxRefreshAttempts {
		if err := s.cache.EnsureFresh(owner).Wait(ctx); err != nil {
			return err
		}
		if !s.cache.Snapshot(owner).Stale {
			return nil
		}
	}
	return errStillStale
}

func (s *SnippetService) live(ctx context.Context, owner string, gen uint64) bool {
	return ctx.Err() == nil && s.cache.Alive(owner, gen)
}

func (s *SnippetService) finish(op Op, owner, id string, start time.Time, err error) {
	outcome := outcomeOf(err)
	s.metrics.RecordMutation(string(op), outcome, time.Since(start))

	if err != nil {
		// Only log server-side failures as errors; rejected input is normal.
		level := slog.LevelInfo
		if errors.Is(err, apperror.ErrUnavailable) {
			level = slog.LevelError
		}
		s.logger.Log(context.Background(), level, "mutation failed",
			slog.String("op", string(op)),
			slog.String("owner", owner),
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		return
	}

	s.logger.Info("mutation committed",
		slog.String("op", string(op)),
		slog.String("owner", owner),
		slog.String("id", id),
	)
}

func outcomeOf(err error) string {
	if err == nil {
		return "success"
	}
	switch apperror.Kind(err) {
	case apperror.ErrValidation:
		return "validation"
	case apperror.ErrUnauthorized:
		return "unauthorized"
	case apperror.ErrNotFound:
		return "not_found"
	case apperror.ErrUnavailable:
		return "unavailable"
	case apperror.ErrConflict:
		return "conflict"
	default:
		return "error"
	}
}

// normalizePatch canonicalises and validates the fields set in p.
func normalizePatch(p model.Patch) (model.Patch, error) {
	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		if err := validateTitle(title); err != nil {
			return p, err
		}
		p.Title = &title
	}
	if p.Description != nil {
		desc := strings.TrimSpace(*p.Description)
		if err := validateDescription(desc); err != nil {
			return p, err
		}
		p.Description = &desc
	}
	if p.Code != nil {
		if err := validateCode(*p.Code); err != nil {
			return p, err
		}
	}
	if p.Language != nil {
		lang := model.ParseLanguage(string(*p.Language))
		p.Language = &lang
	}
	if p.Tags != nil {
		tags := model.NormalizeTags(*p.Tags)
		if err := validateTags(tags); err != nil {
			return p, err
		}
		p.Tags = &tags
	}
	return p, nil
}

func validateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return apperror.ValidationFailed("id", "snippet ID is required")
	}
	return nil
}

func validateTitle(title string) error {
	if title == "" {
		return apperror.ValidationFailed("title", "title is required")
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return apperror.ValidationFailed("title",
			fmt.Sprintf("title must be %d characters or less", MaxTitleLength))
	}
	return nil
}

func validateDescription(desc string) error {
	if utf8.RuneCountInString(desc) > MaxDescriptionLength {
		return apperror.ValidationFailed("description",
			fmt.Sprintf("description must be %d characters or less", MaxDescriptionLength))
	}
	return nil
}

// validateCode rejects whitespace-only code but stores code untrimmed:
// leading indentation is part of a snippet.
func validateCode(code string) error {
	if strings.TrimSpace(code) == "" {
		return apperror.ValidationFailed("code", "code is required")
	}
	if len(code) > MaxCodeLength {
		return apperror.ValidationFailed("code",
			fmt.Sprintf("code must be %d characters or less", MaxCodeLength))
	}
	return nil
}

func validateTags(tags []string) error {
	if len(tags) > MaxTags {
		return apperror.ValidationFailed("tags",
			fmt.Sprintf("a snippet can have at most %d tags", MaxTags))
	}
	for _, tag := range tags {
		if utf8.RuneCountInString(tag) > MaxTagLength {
			return apperror.ValidationFailed("tags",
				fmt.Sprintf("tags must be %d characters or less", MaxTagLength))
		}
	}
	return nil
}
