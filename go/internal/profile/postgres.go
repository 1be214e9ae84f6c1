package profile

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS profiles (
  profile_key  text PRIMARY KEY,
  display_name text NOT NULL,
  updated_at   timestamptz NOT NULL DEFAULT now()
)`

// querier is the subset of *pgxpool.Pool the store needs.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps profiles in the profiles table.
type PostgresStore struct {
	db querier
}

// OpenPostgres connects to dsn and makes sure the profiles table exists.
// The caller closes the returned pool.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect profile database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping profile database: %w", err)
	}
	store := NewPostgresStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	log.Info().Msg("connected to profile database")
	return store, pool, nil
}

// NewPostgresStore wraps an open pool.
func NewPostgresStore(db querier) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the profiles table if it is missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create profiles table: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetName(ctx context.Context, key string) (string, error) {
	var name string
	err := s.db.QueryRow(ctx, `SELECT display_name FROM profiles WHERE profile_key = $1`, key).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get profile %s: %w", key, err)
	}
	return name, nil
}

func (s *PostgresStore) SetName(ctx context.Context, key, name string) error {
	name, err := CleanName(name)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
            INSERT INTO profiles (profile_key, display_name, updated_at)
            VALUES ($1, $2, now())
            ON CONFLICT (profile_key) DO UPDATE
              SET display_name = EXCLUDED.display_name, updated_at = EXCLUDED.updated_at
        `, key, name)
	if err != nil {
		return fmt.Errorf("set profile %s: %w", key, err)
	}
	log.Debug().Str("profile_key", key).Int64("rows", tag.RowsAffected()).Msg("profile saved")
	return nil
}
