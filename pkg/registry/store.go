package registry

import (
	"context"
	"errors"

	"github.com/greg-hellings/repogateway/pkg/repository"
)

var (
	// ErrNoRecord is returned by a Store when no row matches.
	ErrNoRecord = errors.New("no matching repository record")
	// ErrConflict is returned by a Store when a write would break a
	// uniqueness rule.
	ErrConflict = errors.New("repository record conflict")
)

// Store is a registry persistence backend. Every method is scoped to an owner
// and backends guard their own state.
type Store interface {
	FindByExternalID(ctx context.Context, ownerID string, provider repository.Provider, externalID string) (*Repository, error)
	FindByName(ctx context.Context, ownerID string, provider repository.Provider, owner, name string) (*Repository, error)
	// Insert stores a new row and returns its id.
	Insert(ctx context.Context, row *Repository) (int64, error)
	// Update rewrites the mutable fields of row, matched by ID and OwnerID.
	Update(ctx context.Context, row *Repository) error
	Get(ctx context.Context, id int64, ownerID string) (*Repository, error)
	List(ctx context.Context, ownerID string) ([]Repository, error)
	Delete(ctx context.Context, id int64, ownerID string) (bool, error)
}
