package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sakif/snippet-vault/internal/apperror"
	"github.com/sakif/snippet-vault/internal/model"
	"github.com/sakif/snippet-vault/internal/repository"
)

var _ repository.UserRepository = (*Store)(nil)

const (
	colGitHubID  = "github_id"
	colLogin     = "login"
	colEmail     = "email"
	colAvatarURL = "avatar_url"
)

// Upsert inserts the user or, when their GitHub ID is already known,
// refreshes the profile fields. It is a single INSERT .. ON CONFLICT, so two
// concurrent first logins of the same account end up with one row.
func (s *Store) Upsert(ctx context.Context, user *model.User) error {
	now := s.timestamp()

	query, args, err := s.builder().
		Insert(s.usersTable).
		Rows(goqu.Record{
			colID:        uuid.NewString(),
			colGitHubID:  user.GitHubID,
			colLogin:     user.Login,
			colEmail:     user.Email,
			colAvatarURL: user.AvatarURL,
			colCreatedAt: now,
			colUpdatedAt: now,
		}).
		OnConflict(goqu.DoUpdate(colGitHubID, goqu.Record{
			colLogin:     goqu.L("EXCLUDED." + colLogin),
			colEmail:     goqu.L("EXCLUDED." + colEmail),
			colAvatarURL: goqu.L("EXCLUDED." + colAvatarURL),
			colUpdatedAt: goqu.L("EXCLUDED." + colUpdatedAt),
		})).
		Returning(goqu.C(colID), goqu.C(colCreatedAt), goqu.C(colUpdatedAt)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("postgres: building user upsert: %w", err)
	}

	if err := s.pool.QueryRow(ctx, query, args...).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return apperror.Unavailable("postgres: upserting user", err)
	}
	return nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	query, args, err := s.builder().
		From(s.usersTable).
		Select(colID, colGitHubID, colLogin, colEmail, colAvatarURL, colCreatedAt, colUpdatedAt).
		Where(goqu.C(colID).Eq(id)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("postgres: building user query: %w", err)
	}

	var u model.User
	err = s.pool.QueryRow(ctx, query, args...).
		Scan(&u.ID, &u.GitHubID, &u.Login, &u.Email, &u.AvatarURL, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("user", id)
	}
	if err != nil {
		return nil, apperror.Unavailable("postgres: getting user", err)
	}
	return &u, nil
}
