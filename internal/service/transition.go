package service

import "log/slog"

// Op names a dispatched mutation.
type Op string

const (
	OpCreate         Op = "create"
	OpUpdate         Op = "update"
	OpRemove         Op = "remove"
	OpToggleFavorite Op = "toggle_favorite"
	OpAddTag         Op = "add_tag"
	OpRemoveTag      Op = "remove_tag"
)

// State is a step of the mutation lifecycle.
//
// THE HAPPY PATH:
//
//	Idle → Submitting → Succeeded → CacheInvalidated → Refetching → Fresh
//
// THE OTHER EXITS:
//
//	Submitting → Failed → Idle       the store rejected the mutation
//	Refetching → Idle (Err set)      committed, but the follow-up read failed
//	Succeeded  → Idle                committed, but the caller went away or
//	                                 signed out, so the cache was left alone
type State string

const (
	StateIdle             State = "idle"
	StateSubmitting       State = "submitting"
	StateSucceeded        State = "succeeded"
	StateCacheInvalidated State = "cache_invalidated"
	StateRefetching       State = "refetching"
	StateFresh            State = "fresh"
	StateFailed           State = "failed"
)

// Transition is one state change of one mutation.
type Transition struct {
	Op        Op
	Owner     string
	SnippetID string // empty for a Create until it succeeds
	From      State
	To        State
	Err       error
}

// Observer receives every Transition. Implementations must be safe for
// concurrent use; mutations for different owners run in parallel.
type Observer interface {
	OnTransition(Transition)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Transition)

func (f ObserverFunc) OnTransition(t Transition) { f(t) }

// LogObserver writes each transition at debug level, and failures at warn.
type LogObserver struct {
	Logger *slog.Logger
}

func (o LogObserver) OnTransition(t Transition) {
	attrs := []any{
		slog.String("op", string(t.Op)),
		slog.String("owner", t.Owner),
		slog.String("from", string(t.From)),
		slog.String("to", string(t.To)),
	}
	if t.SnippetID != "" {
		attrs = append(attrs, slog.String("snippetID", t.SnippetID))
	}
	if t.Err != nil {
		attrs = append(attrs, slog.String("error", t.Err.Error()))
		o.Logger.Warn("mutation transition", attrs...)
		return
	}
	o.Logger.Debug("mutation transition", attrs...)
}

// machine drives one mutation through its states.
type machine struct {
	observers []Observer
	op        Op
	owner     string
	snippetID string
	state     State
}

func (m *machine) move(to State, err error) {
	t := Transition{
		Op:        m.op,
		Owner:     m.owner,
		SnippetID: m.snippetID,
		From:      m.state,
		To:        to,
		Err:       err,
	}
	m.state = to
	for _, o := range m.observers {
		o.OnTransition(t)
	}
}
