package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/greg-hellings/repogateway/pkg/repository"
)

const (
	repositoryColumns = `id, owner_id, provider, name, owner, url, external_id, description,
		languages, default_branch, avatar_url, html_url, created_at, updated_at`

	pgUniqueViolation = "23505"
)

// Compile-time check: *PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore keeps the registry in the repositories table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store on an already migrated pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) FindByExternalID(ctx context.Context, ownerID string, provider repository.Provider, externalID string) (*Repository, error) {
	return s.queryOne(ctx,
		`SELECT `+repositoryColumns+` FROM repositories
		 WHERE owner_id = $1 AND provider = $2 AND external_id = $3`,
		ownerID, string(provider), externalID)
}

func (s *PostgresStore) FindByName(ctx context.Context, ownerID string, provider repository.Provider, owner, name string) (*Repository, error) {
	return s.queryOne(ctx,
		`SELECT `+repositoryColumns+` FROM repositories
		 WHERE owner_id = $1 AND provider = $2 AND owner = $3 AND name = $4`,
		ownerID, string(provider), owner, name)
}

// Insert is idempotent on (owner_id, provider, owner, name): a concurrent
// registration of the same repository updates it instead of failing.
func (s *PostgresStore) Insert(ctx context.Context, row *Repository) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO repositories
			(owner_id, provider, name, owner, url, external_id, description,
			 languages, default_branch, avatar_url, html_url, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		 ON CONFLICT (owner_id, provider, owner, name) DO UPDATE SET
			url = EXCLUDED.url,
			external_id = COALESCE(EXCLUDED.external_id, repositories.external_id),
			description = CASE WHEN EXCLUDED.description <> '' THEN EXCLUDED.description ELSE repositories.description END,
			updated_at = EXCLUDED.updated_at
		 RETURNING id`,
		row.OwnerID, string(row.Provider), row.Name, row.Owner, row.URL, nullable(row.ExternalID),
		row.Description, strings.Join(row.Languages, ","), row.DefaultBranch, row.AvatarURL,
		row.HTMLURL, row.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, mapPgError("insert repository", err)
	}
	return id, nil
}

func (s *PostgresStore) Update(ctx context.Context, row *Repository) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE repositories SET
			name = $3, owner = $4, url = $5, external_id = $6, description = $7,
			languages = $8, default_branch = $9, avatar_url = $10, html_url = $11, updated_at = $12
		 WHERE id = $1 AND owner_id = $2`,
		row.ID, row.OwnerID, row.Name, row.Owner, row.URL, nullable(row.ExternalID), row.Description,
		strings.Join(row.Languages, ","), row.DefaultBranch, row.AvatarURL, row.HTMLURL, row.UpdatedAt)
	if err != nil {
		return mapPgError("update repository", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRecord
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id int64, ownerID string) (*Repository, error) {
	return s.queryOne(ctx,
		`SELECT `+repositoryColumns+` FROM repositories WHERE id = $1 AND owner_id = $2`,
		id, ownerID)
}

func (s *PostgresStore) List(ctx context.Context, ownerID string) ([]Repository, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+repositoryColumns+` FROM repositories
		 WHERE owner_id = $1 ORDER BY provider, name, owner, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	out, err := pgx.CollectRows(rows, scanRepository)
	if err != nil {
		return nil, fmt.Errorf("scan repositories: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id int64, ownerID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM repositories WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return false, fmt.Errorf("delete repository %d: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) queryOne(ctx context.Context, sql string, args ...any) (*Repository, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query repository: %w", err)
	}
	row, err := pgx.CollectExactlyOneRow(rows, scanRepository)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoRecord
	}
	if err != nil {
		return nil, fmt.Errorf("scan repository: %w", err)
	}
	return &row, nil
}

func scanRepository(row pgx.CollectableRow) (Repository, error) {
	var (
		r          Repository
		provider   string
		externalID *string
		languages  string
	)
	err := row.Scan(&r.ID, &r.OwnerID, &provider, &r.Name, &r.Owner, &r.URL, &externalID,
		&r.Description, &languages, &r.DefaultBranch, &r.AvatarURL, &r.HTMLURL,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return Repository{}, err
	}
	r.Provider = repository.Provider(provider)
	if externalID != nil {
		r.ExternalID = *externalID
	}
	if languages != "" {
		r.Languages = strings.Split(languages, ",")
	}
	return r, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func mapPgError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%s: %w", op, ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}
