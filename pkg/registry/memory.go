package registry

import (
	"context"
	"sync"

	"github.com/greg-hellings/repogateway/pkg/repository"
)

// Compile-time check: *MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is a thread-safe, volatile Store.
type MemoryStore struct {
	mu     sync.RWMutex
	rows   map[int64]Repository
	nextID int64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[int64]Repository), nextID: 1}
}

func (s *MemoryStore) FindByExternalID(_ context.Context, ownerID string, provider repository.Provider, externalID string) (*Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findLocked(func(r *Repository) bool {
		return r.OwnerID == ownerID && r.Provider == provider && r.ExternalID != "" && r.ExternalID == externalID
	})
}

func (s *MemoryStore) FindByName(_ context.Context, ownerID string, provider repository.Provider, owner, name string) (*Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findLocked(func(r *Repository) bool {
		return r.OwnerID == ownerID && r.Provider == provider && r.Owner == owner && r.Name == name
	})
}

func (s *MemoryStore) Insert(_ context.Context, row *Repository) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := cloneRepository(*row)
	r.ID = 0
	if s.conflictsLocked(&r) {
		return 0, ErrConflict
	}
	r.ID = s.nextID
	s.nextID++
	s.rows[r.ID] = r
	return r.ID, nil
}

func (s *MemoryStore) Update(_ context.Context, row *Repository) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.rows[row.ID]
	if !ok || cur.OwnerID != row.OwnerID {
		return ErrNoRecord
	}
	r := cloneRepository(*row)
	if s.conflictsLocked(&r) {
		return ErrConflict
	}
	r.Provider = cur.Provider
	r.CreatedAt = cur.CreatedAt
	s.rows[r.ID] = r
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id int64, ownerID string) (*Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rows[id]
	if !ok || r.OwnerID != ownerID {
		return nil, ErrNoRecord
	}
	out := cloneRepository(r)
	return &out, nil
}

func (s *MemoryStore) List(_ context.Context, ownerID string) ([]Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Repository, 0)
	for _, r := range s.rows {
		if r.OwnerID == ownerID {
			out = append(out, cloneRepository(r))
		}
	}
	SortRepositories(out)
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, id int64, ownerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok || r.OwnerID != ownerID {
		return false, nil
	}
	delete(s.rows, id)
	return true, nil
}

func (s *MemoryStore) findLocked(match func(*Repository) bool) (*Repository, error) {
	for _, r := range s.rows {
		if match(&r) {
			out := cloneRepository(r)
			return &out, nil
		}
	}
	return nil, ErrNoRecord
}

// conflictsLocked reports whether row would duplicate another row's
// (owner_id, provider, owner, name) or (owner_id, provider, external_id).
func (s *MemoryStore) conflictsLocked(row *Repository) bool {
	for id, r := range s.rows {
		if id == row.ID || r.OwnerID != row.OwnerID || r.Provider != row.Provider {
			continue
		}
		if r.Owner == row.Owner && r.Name == row.Name {
			return true
		}
		if row.ExternalID != "" && r.ExternalID == row.ExternalID {
			return true
		}
	}
	return false
}

// snapshot copies every row; used by FileStore.
func (s *MemoryStore) snapshot() ([]Repository, int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := make([]Repository, 0, len(s.rows))
	for _, r := range s.rows {
		rows = append(rows, cloneRepository(r))
	}
	SortRepositories(rows)
	return rows, s.nextID
}

// restore replaces the store content with rows.
func (s *MemoryStore) restore(rows []Repository, nextID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = make(map[int64]Repository, len(rows))
	for _, r := range rows {
		s.rows[r.ID] = cloneRepository(r)
		if r.ID >= nextID {
			nextID = r.ID + 1
		}
	}
	if nextID < 1 {
		nextID = 1
	}
	s.nextID = nextID
}

func cloneRepository(r Repository) Repository {
	r.Languages = append([]string(nil), r.Languages...)
	return r
}
