// Package repository declares the storage contracts the rest of the app
// depends on. Concrete backends live in sub-packages (sqlite, postgres,
// memory); services only ever see these interfaces.
package repository

import (
	"context"

	"github.com/sakif/snippet-vault/internal/apperror"
	"github.com/sakif/snippet-vault/internal/model"
)

// SnippetStore is the remote store contract consumed by the cache and the
// mutation dispatcher. Every call is scoped to an explicit owner; a row that
// exists but belongs to someone else is indistinguishable from a missing one.
//
// FAILURES:
//   - apperror.ErrUnauthorized when owner is empty (no session)
//   - apperror.ErrNotFound when no (id, owner) row matches
//   - apperror.ErrUnavailable on transport/driver failure
type SnippetStore interface {
	// ListByOwner returns every snippet of owner, most recently updated first.
	ListByOwner(ctx context.Context, owner string) ([]model.Snippet, error)
	// Insert stores a new snippet; the store assigns ID, CreatedAt and
	// UpdatedAt (equal on creation).
	Insert(ctx context.Context, owner string, draft model.Draft) (*model.Snippet, error)
	// UpdateByID applies patch and moves UpdatedAt strictly forward.
	UpdateByID(ctx context.Context, owner, id string, patch model.Patch) (*model.Snippet, error)
	// DeleteByID removes the row; it is all-or-nothing.
	DeleteByID(ctx context.Context, owner, id string) error
}

// UserRepository persists the accounts created by the GitHub login flow.
type UserRepository interface {
	Upsert(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}

// RequireOwner is the session check every SnippetStore performs first.
func RequireOwner(owner string) error {
	if owner == "" {
		return apperror.Unauthorized("an authenticated owner is required")
	}
	return nil
}
