package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/snippet-vault/internal/apperror"
	"github.com/sakif/snippet-vault/internal/metrics"
	"github.com/sakif/snippet-vault/internal/model"
)

// fakeStore returns a canned collection. When gated, every ListByOwner call
// announces itself on started and blocks until release is closed or its
// context is cancelled.
type fakeStore struct {
	mu       sync.Mutex
	calls    int
	snippets []model.Snippet
	err      error

	gated   bool
	started chan struct{}
	release chan struct{}
}

func newFakeStore(snippets ...model.Snippet) *fakeStore {
	return &fakeStore{snippets: snippets}
}

func (f *fakeStore) gate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gated = true
	f.started = make(chan struct{}, 8)
	f.release = make(chan struct{})
}

func (f *fakeStore) set(err error, snippets ...model.Snippet) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
	if snippets != nil {
		f.snippets = snippets
	}
}

func (f *fakeStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeStore) ListByOwner(ctx context.Context, owner string) ([]model.Snippet, error) {
	f.mu.Lock()
	f.calls++
	gated, started, release := f.gated, f.started, f.release
	f.mu.Unlock()

	if gated {
		started <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
			return nil, apperror.Unavailable("fake: listing", ctx.Err())
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]model.Snippet(nil), f.snippets...), nil
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func snippet(id string, minutes int) model.Snippet {
	at := t0.Add(time.Duration(minutes) * time.Minute)
	return model.Snippet{ID: id, Owner: "u1", Title: id, Code: "x", Tags: []string{}, CreatedAt: at, UpdatedAt: at}
}

func waitStarted(t *testing.T, f *fakeStore) {
	t.Helper()
	select {
	case <-f.started:
	case <-time.After(2 * time.Second):
		t.Fatal("fetch never reached the store")
	}
}

func wait(t *testing.T, f *Fetch) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := f.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "fetch did not finish")
	return err
}

func TestSnapshot_AbsentEntryIsStaleAndEmpty(t *testing.T) {
	c := New(newFakeStore())

	snap := c.Snapshot("u1")
	assert.True(t, snap.Stale)
	assert.False(t, snap.Loaded)
	assert.False(t, snap.Loading)
	assert.NotNil(t, snap.Snippets)
	assert.Empty(t, snap.Snippets)
}

func TestEnsureFresh_LoadsDedupedAndOrdered(t *testing.T) {
	older := snippet("a", 1)
	newer := snippet("a", 5)
	store := newFakeStore(older, snippet("b", 3), newer, snippet("c", 4))
	c := New(store, WithClock(func() time.Time { return t0 }))

	require.NoError(t, wait(t, c.EnsureFresh("u1")))

	snap := c.Snapshot("u1")
	assert.False(t, snap.Stale)
	assert.True(t, snap.Loaded)
	assert.Nil(t, snap.Err)
	assert.Equal(t, t0, snap.FetchedAt)

	ids := make([]string, 0, len(snap.Snippets))
	for _, s := range snap.Snippets {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"a", "c", "b"}, ids)
	assert.Equal(t, newer.UpdatedAt, snap.Snippets[0].UpdatedAt)
}

func TestEnsureFresh_FreshEntryDoesNotFetch(t *testing.T) {
	store := newFakeStore(snippet("a", 1))
	c := New(store)

	require.NoError(t, wait(t, c.EnsureFresh("u1")))
	require.NoError(t, wait(t, c.EnsureFresh("u1")))

	assert.Equal(t, 1, store.callCount())
}

func TestEnsureFresh_PiggybacksOnInFlightFetch(t *testing.T) {
	store := newFakeStore(snippet("a", 1))
	store.gate()
	m := metrics.New(prometheus.NewRegistry())
	c := New(store, WithMetrics(m))

	first := c.EnsureFresh("u1")
	waitStarted(t, store)
	second := c.EnsureFresh("u1")
	c.Invalidate("u1")
	third := c.EnsureFresh("u1")

	assert.Same(t, first, second)
	assert.Same(t, first, third)
	assert.True(t, c.Snapshot("u1").Loading)

	close(store.release)
	require.NoError(t, wait(t, first))

	assert.Equal(t, 1, store.callCount())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CachePiggybacksTotal))
}

func TestInvalidate_DuringFetchKeepsEntryStale(t *testing.T) {
	store := newFakeStore(snippet("a", 1))
	store.gate()
	c := New(store)

	f := c.EnsureFresh("u1")
	waitStarted(t, store)
	c.Invalidate("u1")
	close(store.release)
	require.NoError(t, wait(t, f))

	snap := c.Snapshot("u1")
	assert.True(t, snap.Loaded)
	assert.True(t, snap.Stale, "an invalidation during the fetch must survive it")

	// The next EnsureFresh goes back to the store and clears staleness.
	require.NoError(t, wait(t, c.EnsureFresh("u1")))
	assert.False(t, c.Snapshot("u1").Stale)
	assert.Equal(t, 2, store.callCount())
}

func TestEnsureFresh_FailureKeepsPreviousSnapshot(t *testing.T) {
	store := newFakeStore(snippet("a", 1))
	c := New(store)
	require.NoError(t, wait(t, c.EnsureFresh("u1")))

	storeErr := apperror.Unavailable("fake: listing", errors.New("connection reset"))
	store.set(storeErr)
	c.Invalidate("u1")

	err := wait(t, c.EnsureFresh("u1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrUnavailable)

	snap := c.Snapshot("u1")
	assert.True(t, snap.Stale)
	assert.True(t, snap.Loaded)
	assert.ErrorIs(t, snap.Err, apperror.ErrUnavailable)
	require.Len(t, snap.Snippets, 1)
	assert.Equal(t, "a", snap.Snippets[0].ID)

	// Recovery clears the error.
	store.set(nil, snippet("a", 1), snippet("b", 2))
	require.NoError(t, wait(t, c.EnsureFresh("u1")))
	snap = c.Snapshot("u1")
	assert.Nil(t, snap.Err)
	assert.Len(t, snap.Snippets, 2)
}

func TestInvalidate_AbsentEntryIsNoop(t *testing.T) {
	c := New(newFakeStore())
	c.Invalidate("nobody")
	assert.Equal(t, 0, c.Len())
}

func TestEvict_DiscardsInFlightResult(t *testing.T) {
	store := newFakeStore(snippet("a", 1))
	store.gate()
	c := New(store)

	gen := c.Generation("u1")
	f := c.EnsureFresh("u1")
	waitStarted(t, store)

	c.Evict("u1")
	assert.False(t, c.Alive("u1", gen))

	err := wait(t, f)
	assert.ErrorIs(t, err, ErrEvicted)

	snap := c.Snapshot("u1")
	assert.False(t, snap.Loaded, "a late result must not land in the new entry")
	assert.Empty(t, snap.Snippets)
	assert.NotEqual(t, gen, c.Generation("u1"))
}

func TestAlive(t *testing.T) {
	c := New(newFakeStore())

	gen := c.Generation("u1")
	assert.True(t, c.Alive("u1", gen))
	assert.False(t, c.Alive("u1", gen+1))
	assert.False(t, c.Alive("u2", gen))
}

func TestSubscribe_ReceivesEveryChange(t *testing.T) {
	store := newFakeStore(snippet("a", 1))
	c := New(store)

	var (
		mu   sync.Mutex
		seen []Snapshot
	)
	unsubscribe := c.Subscribe("u1", func(s Snapshot) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	require.NoError(t, wait(t, c.EnsureFresh("u1")))
	c.Invalidate("u1")

	mu.Lock()
	require.Len(t, seen, 3)
	assert.True(t, seen[0].Loading, "fetch start")
	assert.False(t, seen[1].Loading, "fetch end")
	assert.False(t, seen[1].Stale)
	assert.True(t, seen[2].Stale, "invalidation")
	mu.Unlock()

	unsubscribe()
	unsubscribe()
	c.Invalidate("u1")

	mu.Lock()
	assert.Len(t, seen, 3)
	mu.Unlock()
}

func TestSnapshot_IsACopy(t *testing.T) {
	store := newFakeStore(model.Snippet{ID: "a", Tags: []string{"go"}, UpdatedAt: t0})
	c := New(store)
	require.NoError(t, wait(t, c.EnsureFresh("u1")))

	snap := c.Snapshot("u1")
	snap.Snippets[0].Tags[0] = "mutated"
	snap.Snippets[0].Title = "mutated"

	again := c.Snapshot("u1")
	assert.Equal(t, []string{"go"}, again.Snippets[0].Tags)
	assert.Empty(t, again.Snippets[0].Title)
}

func TestFetch_WaitHonoursContext(t *testing.T) {
	store := newFakeStore()
	store.gate()
	c := New(store)

	f := c.EnsureFresh("u1")
	waitStarted(t, store)
	assert.Nil(t, f.Err())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, f.Wait(ctx), context.Canceled)

	close(store.release)
	require.NoError(t, wait(t, f))
}
