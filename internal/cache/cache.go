// Package cache keeps one snippet collection per owner in memory and keeps it
// in step with the remote store.
//
// HOW AN ENTRY MOVES:
//
//	absent ──Snapshot/EnsureFresh──▶ stale, not loaded
//	stale  ──EnsureFresh──▶ loading ──ok──▶ fresh
//	                                 └─err─▶ stale, previous snapshot kept, Err set
//	fresh  ──Invalidate──▶ stale
//	any    ──Evict──▶ absent (in-flight fetch cancelled, its result dropped)
//
// READS NEVER BLOCK:
// Snapshot returns whatever the entry holds right now, flagged Stale when it
// may lag the store. Callers that want fresh data call EnsureFresh and wait
// on the returned *Fetch. At most one fetch per owner is ever in flight;
// later callers get the same handle.
//
// Invalidate only marks an entry stale. It never fetches. That keeps the
// decision of when to hit the store with the caller (normally the mutation
// dispatcher in the service package).
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/sakif/snippet-vault/internal/metrics"
	"github.com/sakif/snippet-vault/internal/model"
)

// ErrEvicted is returned from a Fetch whose entry was evicted before the
// store answered.
var ErrEvicted = errors.New("cache: entry evicted")

// Fetcher is the part of repository.SnippetStore the cache reads through.
type Fetcher interface {
	ListByOwner(ctx context.Context, owner string) ([]model.Snippet, error)
}

// Snapshot is a point-in-time copy of an owner's entry. Modifying it does not
// affect the cache.
type Snapshot struct {
	Owner     string
	Snippets  []model.Snippet
	Stale     bool // may lag the store; always true before the first load
	Loading   bool // a fetch is in flight
	Loaded    bool // at least one fetch has succeeded
	Err       error
	FetchedAt time.Time
}

// Listener receives a new Snapshot after every change to an entry.
type Listener func(Snapshot)

// Fetch is a handle on one fetch of an owner's collection.
type Fetch struct {
	done chan struct{}
	err  error
}

func newFetch() *Fetch {
	return &Fetch{done: make(chan struct{})}
}

func completedFetch(err error) *Fetch {
	f := newFetch()
	f.finish(err)
	return f
}

func (f *Fetch) finish(err error) {
	f.err = err
	close(f.done)
}

// Done is closed once the fetch has finished.
func (f *Fetch) Done() <-chan struct{} { return f.done }

// Err returns the fetch error. It is nil until Done is closed.
func (f *Fetch) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Wait blocks until the fetch finishes or ctx is done. Giving up on ctx
// does not cancel the fetch.
func (f *Fetch) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type entry struct {
	gen    uint64
	ctx    context.Context
	cancel context.CancelFunc

	snippets  []model.Snippet
	loaded    bool
	stale     bool
	version   uint64 // bumped by Invalidate
	err       error
	fetchedAt time.Time
	flight    *Fetch

	listeners map[uint64]Listener
}

// Cache is safe for concurrent use.
type Cache struct {
	store   Fetcher
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu           sync.Mutex
	entries      map[string]*entry
	nextGen      uint64
	nextListener uint64
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger. The default discards output.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// WithMetrics enables instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithClock replaces time.Now for FetchedAt.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates an empty cache reading through store.
func New(store Fetcher, options ...Option) *Cache {
	c := &Cache{
		store:   store,
		logger:  slog.New(slog.DiscardHandler),
		now:     time.Now,
		entries: make(map[string]*entry),
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// entryLocked returns the entry for owner, creating it if needed.
// Caller holds c.mu.
func (c *Cache) entryLocked(owner string) *entry {
	if e, ok := c.entries[owner]; ok {
		return e
	}
	c.nextGen++
	ctx, cancel := context.WithCancel(context.Background())
	e := &entry{
		gen:       c.nextGen,
		ctx:       ctx,
		cancel:    cancel,
		snippets:  []model.Snippet{},
		stale:     true,
		listeners: make(map[uint64]Listener),
	}
	c.entries[owner] = e
	c.metrics.SetCacheEntries(len(c.entries))
	return e
}

// snapshotLocked copies e. Caller holds c.mu.
func snapshotLocked(owner string, e *entry) Snapshot {
	snippets := make([]model.Snippet, len(e.snippets))
	for i, s := range e.snippets {
		snippets[i] = s.Clone()
	}
	return Snapshot{
		Owner:     owner,
		Snippets:  snippets,
		Stale:     e.stale || !e.loaded,
		Loading:   e.flight != nil,
		Loaded:    e.loaded,
		Err:       e.err,
		FetchedAt: e.fetchedAt,
	}
}

// listenersLocked copies the listener set so it can be called without c.mu.
func listenersLocked(e *entry) []Listener {
	if len(e.listeners) == 0 {
		return nil
	}
	out := make([]Listener, 0, len(e.listeners))
	for _, l := range e.listeners {
		out = append(out, l)
	}
	return out
}

func notify(listeners []Listener, snap Snapshot) {
	for _, l := range listeners {
		l(snap)
	}
}

// Snapshot returns the current state of owner's entry without doing I/O.
func (c *Cache) Snapshot(owner string) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return snapshotLocked(owner, c.entryLocked(owner))
}

// EnsureFresh makes sure owner's entry is fresh or being refreshed, and
// returns a handle on the fetch that will make it so:
//   - a fetch is already in flight: its handle
//   - the entry is loaded and not stale: an already-completed handle
//   - otherwise: a new fetch, started in the background
func (c *Cache) EnsureFresh(owner string) *Fetch {
	c.mu.Lock()
	e := c.entryLocked(owner)

	if e.flight != nil {
		f := e.flight
		c.mu.Unlock()
		c.metrics.RecordPiggyback()
		return f
	}
	if e.loaded && !e.stale {
		c.mu.Unlock()
		return completedFetch(nil)
	}

	f := newFetch()
	e.flight = f
	version := e.version
	snap, listeners := snapshotLocked(owner, e), listenersLocked(e)
	c.mu.Unlock()

	notify(listeners, snap)
	go c.fetch(owner, e, f, version)
	return f
}

func (c *Cache) fetch(owner string, e *entry, f *Fetch, version uint64) {
	start := time.Now()
	snippets, err := c.store.ListByOwner(e.ctx, owner)
	elapsed := time.Since(start)

	c.mu.Lock()
	if c.entries[owner] != e {
		c.mu.Unlock()
		c.metrics.RecordFetch(metrics.OutcomeDiscarded, elapsed)
		c.logger.Debug("discarding fetch for evicted entry",
			slog.String("owner", owner),
		)
		f.finish(ErrEvicted)
		return
	}

	e.flight = nil
	if err != nil {
		err = fmt.Errorf("cache: fetching snippets: %w", err)
		e.err = err
	} else {
		e.snippets = normalize(snippets)
		e.loaded = true
		e.err = nil
		e.fetchedAt = c.now()
		// An Invalidate that landed mid-flight means this result may already
		// be behind the store.
		if e.version == version {
			e.stale = false
		}
	}
	snap, listeners := snapshotLocked(owner, e), listenersLocked(e)
	c.mu.Unlock()

	if err != nil {
		c.metrics.RecordFetch(metrics.OutcomeError, elapsed)
		c.logger.Warn("snippet fetch failed",
			slog.String("owner", owner),
			slog.String("error", err.Error()),
		)
	} else {
		c.metrics.RecordFetch(metrics.OutcomeSuccess, elapsed)
		c.logger.Debug("snippet fetch completed",
			slog.String("owner", owner),
			slog.Int("count", len(snap.Snippets)),
			slog.Bool("stale", snap.Stale),
			slog.Duration("duration", elapsed),
		)
	}

	notify(listeners, snap)
	f.finish(err)
}

// normalize dedupes by ID, keeping the most recently updated copy, and orders
// by UpdatedAt descending. Ties keep store order.
func normalize(in []model.Snippet) []model.Snippet {
	out := make([]model.Snippet, 0, len(in))
	index := make(map[string]int, len(in))
	for _, s := range in {
		if i, ok := index[s.ID]; ok {
			if s.UpdatedAt.After(out[i].UpdatedAt) {
				out[i] = s.Clone()
			}
			continue
		}
		index[s.ID] = len(out)
		out = append(out, s.Clone())
	}
	slices.SortStableFunc(out, func(a, b model.Snippet) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return out
}

// Invalidate marks owner's entry stale. It does not fetch, and does nothing
// when owner has no entry.
func (c *Cache) Invalidate(owner string) {
	c.mu.Lock()
	e, ok := c.entries[owner]
	if !ok {
		c.mu.Unlock()
		return
	}
	e.stale = true
	e.version++
	snap, listeners := snapshotLocked(owner, e), listenersLocked(e)
	c.mu.Unlock()

	c.metrics.RecordInvalidation()
	notify(listeners, snap)
}

// Evict drops owner's entry and cancels its in-flight fetch, if any. The
// next access starts from an empty, stale entry with a new generation.
func (c *Cache) Evict(owner string) {
	c.mu.Lock()
	e, ok := c.entries[owner]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.entries, owner)
	n := len(c.entries)
	c.mu.Unlock()

	e.cancel()
	c.metrics.RecordEviction()
	c.metrics.SetCacheEntries(n)
	c.logger.Info("cache entry evicted", slog.String("owner", owner))
}

// Generation returns the liveness token of owner's entry, creating the entry
// if needed. The token changes only when the entry is evicted and recreated.
func (c *Cache) Generation(owner string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entryLocked(owner).gen
}

// Alive reports whether owner's entry is still the one gen was taken from.
func (c *Cache) Alive(owner string, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[owner]
	return ok && e.gen == gen
}

// Subscribe registers l for changes to owner's entry and returns a function
// that removes it. It is the hook for a presentation layer that re-renders
// on every snapshot; the HTTP server and snippetctl read on demand and do
// not subscribe.
//
// Listeners run on the goroutine that made the change, outside the cache
// lock, so they may call back into the cache. Listeners are dropped when the
// entry is evicted.
func (c *Cache) Subscribe(owner string, l Listener) (unsubscribe func()) {
	c.mu.Lock()
	e := c.entryLocked(owner)
	c.nextListener++
	id := c.nextListener
	e.listeners[id] = l
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(e.listeners, id)
			c.mu.Unlock()
		})
	}
}

// Len returns the number of owners with an entry.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
