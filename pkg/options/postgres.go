package options

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time check: *PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore keeps options in the options table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store on an already migrated pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) GetOption(ctx context.Context, name, def string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM options WHERE name = $1`, name).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return "", fmt.Errorf("get option %q: %w", name, err)
	}
	return value, nil
}

func (s *PostgresStore) SetOption(ctx context.Context, name, value string) error {
	if name == "" {
		return ErrEmptyName
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO options (name, value, updated_at) VALUES ($1, $2, NOW())
		 ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		name, value)
	if err != nil {
		return fmt.Errorf("set option %q: %w", name, err)
	}
	return nil
}

func (s *PostgresStore) DeleteOption(ctx context.Context, name string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM options WHERE name = $1`, name); err != nil {
		return fmt.Errorf("delete option %q: %w", name, err)
	}
	return nil
}

func (s *PostgresStore) ListOptions(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name FROM options WHERE starts_with(name, $1) ORDER BY name`, prefix)
	if err != nil {
		return nil, fmt.Errorf("list options: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan options: %w", err)
	}
	return names, nil
}
