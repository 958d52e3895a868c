package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	jsoniter "github.com/json-iterator/go"

	"github.com/sakif/snippet-vault/internal/apperror"
	"github.com/sakif/snippet-vault/internal/model"
	"github.com/sakif/snippet-vault/internal/repository"
)

var _ repository.SnippetStore = (*Store)(nil)

var snippetColumns = []any{
	colID, colUserID, colTitle, colDescription, colCode,
	colLanguage, colTags, colIsFavorite, colCreatedAt, colUpdatedAt,
}

func scanSnippet(row pgx.Row) (model.Snippet, error) {
	var (
		s        model.Snippet
		language string
	)
	if err := row.Scan(
		&s.ID, &s.Owner, &s.Title, &s.Description, &s.Code,
		&language, &s.Tags, &s.IsFavorite, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return model.Snippet{}, err
	}
	s.Language = model.Language(language)
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	if s.Tags == nil {
		s.Tags = []string{}
	}
	return s, nil
}

func tagsLiteral(tags []string) (exp.LiteralExpression, error) {
	if tags == nil {
		tags = []string{}
	}
	encoded, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalToString(tags)
	if err != nil {
		return nil, fmt.Errorf("postgres: encoding tags: %w", err)
	}
	return goqu.L(castJsonb, encoded), nil
}

func (s *Store) buildListQuery(owner string) (string, []any, error) {
	return s.builder().
		From(s.tableName).
		Select(snippetColumns...).
		Where(goqu.C(colUserID).Eq(owner)).
		Order(goqu.C(colUpdatedAt).Desc(), goqu.C(colID).Desc()).
		Prepared(true).
		ToSQL()
}

func (s *Store) ListByOwner(ctx context.Context, owner string) ([]model.Snippet, error) {
	if err := repository.RequireOwner(owner); err != nil {
		return nil, err
	}

	query, args, err := s.buildListQuery(owner)
	if err != nil {
		return nil, fmt.Errorf("postgres: building list query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperror.Unavailable("postgres: listing snippets", err)
	}
	defer rows.Close()

	snippets := make([]model.Snippet, 0)
	for rows.Next() {
		sn, err := scanSnippet(rows)
		if err != nil {
			return nil, apperror.Unavailable("postgres: scanning snippet row", err)
		}
		snippets = append(snippets, sn)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.Unavailable("postgres: iterating snippets", err)
	}

	return snippets, nil
}

func (s *Store) Insert(ctx context.Context, owner string, draft model.Draft) (*model.Snippet, error) {
	if err := repository.RequireOwner(owner); err != nil {
		return nil, err
	}

	now := s.timestamp()
	sn := model.Snippet{
		ID:          uuid.NewString(),
		Owner:       owner,
		Title:       draft.Title,
		Description: draft.Description,
		Code:        draft.Code,
		Language:    draft.Language,
		Tags:        draft.Tags,
		CreatedAt:   now,
		UpdatedAt:   now,
	}.Clone()

	tags, err := tagsLiteral(sn.Tags)
	if err != nil {
		return nil, err
	}

	query, args, err := s.builder().
		Insert(s.tableName).
		Rows(goqu.Record{
			colID:          sn.ID,
			colUserID:      sn.Owner,
			colTitle:       sn.Title,
			colDescription: sn.Description,
			colCode:        sn.Code,
			colLanguage:    string(sn.Language),
			colTags:        tags,
			colIsFavorite:  sn.IsFavorite,
			colCreatedAt:   sn.CreatedAt,
			colUpdatedAt:   sn.UpdatedAt,
		}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("postgres: building insert query: %w", err)
	}

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return nil, apperror.Unavailable("postgres: inserting snippet", err)
	}

	return &sn, nil
}

// UpdateByID locks the (id, owner) row, applies the patch and writes it back
// in one transaction, so the new updated_at is computed from the row actually
// being replaced.
func (s *Store) UpdateByID(ctx context.Context, owner, id string, patch model.Patch) (*model.Snippet, error) {
	if err := repository.RequireOwner(owner); err != nil {
		return nil, err
	}

	selectQuery, selectArgs, err := s.builder().
		From(s.tableName).
		Select(snippetColumns...).
		Where(goqu.Ex{colID: id, colUserID: owner}).
		ForUpdate(exp.Wait).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("postgres: building select query: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, apperror.Unavailable("postgres: beginning update", err)
	}
	defer func() { _ = tx.Rollback(ctx) }() // no-op after Commit

	sn, err := scanSnippet(tx.QueryRow(ctx, selectQuery, selectArgs...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("snippet", id)
		}
		return nil, apperror.Unavailable("postgres: reading snippet "+id, err)
	}

	patch.Apply(&sn)
	sn.UpdatedAt = model.NextUpdatedAt(sn.UpdatedAt, s.timestamp())

	tags, err := tagsLiteral(sn.Tags)
	if err != nil {
		return nil, err
	}

	updateQuery, updateArgs, err := s.builder().
		Update(s.tableName).
		Set(goqu.Record{
			colTitle:       sn.Title,
			colDescription: sn.Description,
			colCode:        sn.Code,
			colLanguage:    string(sn.Language),
			colTags:        tags,
			colIsFavorite:  sn.IsFavorite,
			colUpdatedAt:   sn.UpdatedAt,
		}).
		Where(goqu.Ex{colID: id, colUserID: owner}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("postgres: building update query: %w", err)
	}

	if _, err := tx.Exec(ctx, updateQuery, updateArgs...); err != nil {
		return nil, apperror.Unavailable("postgres: updating snippet "+id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperror.Unavailable("postgres: committing update of "+id, err)
	}

	return &sn, nil
}

func (s *Store) DeleteByID(ctx context.Context, owner, id string) error {
	if err := repository.RequireOwner(owner); err != nil {
		return err
	}

	query, args, err := s.builder().
		Delete(s.tableName).
		Where(goqu.Ex{colID: id, colUserID: owner}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("postgres: building delete query: %w", err)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return apperror.Unavailable("postgres: deleting snippet "+id, err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("snippet", id)
	}
	return nil
}
