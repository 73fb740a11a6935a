package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/greg-hellings/repogateway/pkg/repository"
	"github.com/greg-hellings/repogateway/pkg/yamlfile"
)

// fileDocument is the on-disk layout of a FileStore.
type fileDocument struct {
	Version      int          `yaml:"version"`
	NextID       int64        `yaml:"next_id"`
	Repositories []Repository `yaml:"repositories"`
}

// Compile-time check: *FileStore implements Store.
var _ Store = (*FileStore)(nil)

// FileStore keeps the registry in a YAML snapshot rewritten atomically after
// every change. A failed write leaves the in-memory state unchanged.
type FileStore struct {
	path string
	mem  *MemoryStore

	// mu orders mutations with their snapshot writes.
	mu sync.Mutex
}

// OpenFileStore loads path, starting empty when the file does not exist yet.
func OpenFileStore(path string) (*FileStore, error) {
	var doc fileDocument
	if _, err := yamlfile.Load(path, &doc); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	mem := NewMemoryStore()
	mem.restore(doc.Repositories, doc.NextID)
	return &FileStore{path: path, mem: mem}, nil
}

// Path returns the backing file.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) FindByExternalID(ctx context.Context, ownerID string, provider repository.Provider, externalID string) (*Repository, error) {
	return s.mem.FindByExternalID(ctx, ownerID, provider, externalID)
}

func (s *FileStore) FindByName(ctx context.Context, ownerID string, provider repository.Provider, owner, name string) (*Repository, error) {
	return s.mem.FindByName(ctx, ownerID, provider, owner, name)
}

func (s *FileStore) Get(ctx context.Context, id int64, ownerID string) (*Repository, error) {
	return s.mem.Get(ctx, id, ownerID)
}

func (s *FileStore) List(ctx context.Context, ownerID string) ([]Repository, error) {
	return s.mem.List(ctx, ownerID)
}

func (s *FileStore) Insert(ctx context.Context, row *Repository) (int64, error) {
	var id int64
	err := s.mutate(func() error {
		var err error
		id, err = s.mem.Insert(ctx, row)
		return err
	})
	return id, err
}

func (s *FileStore) Update(ctx context.Context, row *Repository) error {
	return s.mutate(func() error { return s.mem.Update(ctx, row) })
}

func (s *FileStore) Delete(ctx context.Context, id int64, ownerID string) (bool, error) {
	var deleted bool
	err := s.mutate(func() error {
		var err error
		deleted, err = s.mem.Delete(ctx, id, ownerID)
		return err
	})
	return deleted, err
}

// mutate applies fn and persists the result, rolling back on a failed write.
func (s *FileStore) mutate(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	before, beforeNext := s.mem.snapshot()
	if err := fn(); err != nil {
		return err
	}
	rows, next := s.mem.snapshot()
	if err := yamlfile.Save(s.path, fileDocument{Version: 1, NextID: next, Repositories: rows}); err != nil {
		s.mem.restore(before, beforeNext)
		return fmt.Errorf("registry: %w", err)
	}
	return nil
}
