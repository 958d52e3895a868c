package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/xid"

	"github.com/sakif/snippet-vault/internal/apperror"
	"github.com/sakif/snippet-vault/internal/model"
	"github.com/sakif/snippet-vault/internal/repository"
)

// COMPILE-TIME INTERFACE CHECK:
// If *DB stops satisfying repository.SnippetStore, this line fails to compile.
var _ repository.SnippetStore = (*DB)(nil)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const snippetColumns = `id, user_id, title, description, code, language, tags, is_favorite, created_at, updated_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows, so one scan
// function serves single-row and multi-row queries.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnippet(row rowScanner) (model.Snippet, error) {
	var (
		s        model.Snippet
		language string
		tagsJSON string
	)
	if err := row.Scan(
		&s.ID, &s.Owner, &s.Title, &s.Description, &s.Code,
		&language, &tagsJSON, &s.IsFavorite, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return model.Snippet{}, err
	}
	s.Language = model.Language(language)
	if err := json.UnmarshalFromString(tagsJSON, &s.Tags); err != nil {
		return model.Snippet{}, fmt.Errorf("decoding tags of %s: %w", s.ID, err)
	}
	if s.Tags == nil {
		s.Tags = []string{}
	}
	return s, nil
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	return json.MarshalToString(tags)
}

// ListByOwner returns every snippet owned by owner, newest update first.
//
// rows.Close() is deferred immediately: *sql.Rows pins a pooled connection
// until it is closed. rows.Err() after the loop catches failures that happen
// mid-iteration.
func (db *DB) ListByOwner(ctx context.Context, owner string) ([]model.Snippet, error) {
	if err := repository.RequireOwner(owner); err != nil {
		return nil, err
	}

	// id breaks ties so two snippets with the same updated_at come back in a
	// stable order.
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+snippetColumns+`
		 FROM snippets
		 WHERE user_id = ?
		 ORDER BY updated_at DESC, id DESC`,
		owner,
	)
	if err != nil {
		return nil, apperror.Unavailable("sqlite: listing snippets", err)
	}
	defer rows.Close()

	snippets := make([]model.Snippet, 0)
	for rows.Next() {
		s, err := scanSnippet(rows)
		if err != nil {
			return nil, apperror.Unavailable("sqlite: scanning snippet row", err)
		}
		snippets = append(snippets, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.Unavailable("sqlite: iterating snippets", err)
	}

	return snippets, nil
}

// Insert stores a new snippet.
//
// ID GENERATION WITH xid:
// xid IDs are 20 chars, URL-safe and sortable by creation time, e.g.
// "cv37rs3pp9olc6atsptg". CreatedAt and UpdatedAt start out equal.
func (db *DB) Insert(ctx context.Context, owner string, draft model.Draft) (*model.Snippet, error) {
	if err := repository.RequireOwner(owner); err != nil {
		return nil, err
	}

	now := db.now().UTC()
	s := model.Snippet{
		ID:          xid.New().String(),
		Owner:       owner,
		Title:       draft.Title,
		Description: draft.Description,
		Code:        draft.Code,
		Language:    draft.Language,
		Tags:        draft.Tags,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s = s.Clone()

	tagsJSON, err := encodeTags(s.Tags)
	if err != nil {
		return nil, fmt.Errorf("sqlite: encoding tags: %w", err)
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO snippets (`+snippetColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Owner, s.Title, s.Description, s.Code,
		string(s.Language), tagsJSON, s.IsFavorite, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return nil, apperror.Unavailable("sqlite: inserting snippet", err)
	}

	return &s, nil
}

// UpdateByID applies patch to the (id, owner) row.
//
// READ-MODIFY-WRITE IN A TRANSACTION:
// The new updated_at must be strictly after the old one, so we need the old
// row first. Doing the SELECT and UPDATE inside one transaction means no other
// writer can slip in between them.
func (db *DB) UpdateByID(ctx context.Context, owner, id string, patch model.Patch) (*model.Snippet, error) {
	if err := repository.RequireOwner(owner); err != nil {
		return nil, err
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperror.Unavailable("sqlite: beginning update", err)
	}
	defer tx.Rollback() // no-op after Commit

	s, err := scanSnippet(tx.QueryRowContext(ctx,
		`SELECT `+snippetColumns+` FROM snippets WHERE id = ? AND user_id = ?`,
		id, owner,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("snippet", id)
		}
		return nil, apperror.Unavailable("sqlite: reading snippet "+id, err)
	}

	patch.Apply(&s)
	s.UpdatedAt = model.NextUpdatedAt(s.UpdatedAt, db.now())

	tagsJSON, err := encodeTags(s.Tags)
	if err != nil {
		return nil, fmt.Errorf("sqlite: encoding tags: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE snippets
		 SET title = ?, description = ?, code = ?, language = ?, tags = ?, is_favorite = ?, updated_at = ?
		 WHERE id = ? AND user_id = ?`,
		s.Title, s.Description, s.Code, string(s.Language), tagsJSON, s.IsFavorite, s.UpdatedAt,
		id, owner,
	)
	if err != nil {
		return nil, apperror.Unavailable("sqlite: updating snippet "+id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperror.Unavailable("sqlite: committing update of "+id, err)
	}

	return &s, nil
}

// DeleteByID removes the (id, owner) row. RowsAffected == 0 means the WHERE
// clause matched nothing → not found (or not yours, which looks the same).
func (db *DB) DeleteByID(ctx context.Context, owner, id string) error {
	if err := repository.RequireOwner(owner); err != nil {
		return err
	}

	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM snippets WHERE id = ? AND user_id = ?`,
		id, owner,
	)
	if err != nil {
		return apperror.Unavailable("sqlite: deleting snippet "+id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apperror.Unavailable("sqlite: checking rows affected", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("snippet", id)
	}

	return nil
}
