// Package postgres implements repository.SnippetStore and
// repository.UserRepository against a managed
// PostgreSQL table store, using a pgx connection pool for transport and goqu
// to build the SQL.
//
// Usage:
//
//	store, err := postgres.Connect(ctx, os.Getenv("DATABASE_URL"))
//	if err != nil { ... }
//	defer store.Close()
//	if err := store.Migrate(ctx); err != nil { ... }
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // registers the dialect
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	dialectPostgres  = "postgres"
	defaultTableName = "snippets"
	defaultUsersName = "users"

	colID          = "id"
	colUserID      = "user_id"
	colTitle       = "title"
	colDescription = "description"
	colCode        = "code"
	colLanguage    = "language"
	colTags        = "tags"
	colIsFavorite  = "is_favorite"
	colCreatedAt   = "created_at"
	colUpdatedAt   = "updated_at"

	castJsonb = "?::jsonb"
)

// ErrNilPool is returned by New when no pool is supplied.
var ErrNilPool = errors.New("postgres: nil connection pool")

// Store is a SnippetStore backed by PostgreSQL.
type Store struct {
	pool       *pgxpool.Pool
	tableName  string
	usersTable string
	now        func() time.Time
}

// Option configures a Store.
type Option func(*Store) error

// WithTableName overrides the snippets table name.
func WithTableName(name string) Option {
	return func(s *Store) error {
		if name == "" {
			return errors.New("postgres: table name must not be empty")
		}
		s.tableName = name
		return nil
	}
}

// WithUsersTableName overrides the users table name.
func WithUsersTableName(name string) Option {
	return func(s *Store) error {
		if name == "" {
			return errors.New("postgres: users table name must not be empty")
		}
		s.usersTable = name
		return nil
	}
}

// WithClock replaces time.Now as the source of timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) error {
		s.now = now
		return nil
	}
}

// New wraps an existing pool. The caller keeps ownership of the pool.
func New(pool *pgxpool.Pool, options ...Option) (*Store, error) {
	if pool == nil {
		return nil, ErrNilPool
	}

	s := &Store{
		pool:       pool,
		tableName:  defaultTableName,
		usersTable: defaultUsersName,
		now:        time.Now,
	}
	for _, option := range options {
		if err := option(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Connect opens a pool for dsn, verifies it with a ping and wraps it. Close
// releases the pool.
func Connect(ctx context.Context, dsn string, options ...Option) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: pinging database: %w", err)
	}

	s, err := New(pool, options...)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Migrate creates the snippets table, its owner/recency index and the users
// table. Tags are jsonb so the store keeps the ordered set exactly as written.
func (s *Store) Migrate(ctx context.Context) error {
	table := pgx.Identifier{s.tableName}.Sanitize()
	index := pgx.Identifier{s.tableName + "_user_updated_idx"}.Sanitize()
	users := pgx.Identifier{s.usersTable}.Sanitize()

	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id          text PRIMARY KEY,
			user_id     text NOT NULL,
			title       text NOT NULL,
			description text NOT NULL DEFAULT '',
			code        text NOT NULL,
			language    text NOT NULL DEFAULT 'other',
			tags        jsonb NOT NULL DEFAULT '[]'::jsonb,
			is_favorite boolean NOT NULL DEFAULT false,
			created_at  timestamptz NOT NULL,
			updated_at  timestamptz NOT NULL
		);
		CREATE INDEX IF NOT EXISTS %s ON %s (user_id, updated_at DESC);
		CREATE TABLE IF NOT EXISTS %s (
			id         text PRIMARY KEY,
			github_id  bigint NOT NULL UNIQUE,
			login      text NOT NULL,
			email      text NOT NULL DEFAULT '',
			avatar_url text NOT NULL DEFAULT '',
			created_at timestamptz NOT NULL,
			updated_at timestamptz NOT NULL
		);
	`, table, index, table, users)

	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("postgres: migrating %s: %w", s.tableName, err)
	}
	return nil
}

// timestamp returns the current time at the precision postgres stores.
func (s *Store) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *Store) builder() goqu.DialectWrapper {
	return goqu.Dialect(dialectPostgres)
}
