// Package options is the key-value option store the gateway persists
// installation settings in, most notably the encrypted credential blobs.
package options

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Reader resolves a named option, returning def when it is not set.
type Reader interface {
	GetOption(ctx context.Context, name, def string) (string, error)
}

// Store is a Reader that can also write, delete and enumerate options.
type Store interface {
	Reader
	// SetOption creates or replaces an option.
	SetOption(ctx context.Context, name, value string) error
	// DeleteOption removes an option (idempotent).
	DeleteOption(ctx context.Context, name string) error
	// ListOptions returns the sorted names starting with prefix.
	ListOptions(ctx context.Context, prefix string) ([]string, error)
}

// Option is one stored value.
type Option struct {
	Value     string    `yaml:"value"`
	UpdatedAt time.Time `yaml:"updated_at"`
}

// Compile-time check: *MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is a thread-safe, volatile Store for tests and ephemeral runs.
type MemoryStore struct {
	mu   sync.RWMutex
	opts map[string]Option
	now  func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{opts: make(map[string]Option), now: time.Now}
}

func (s *MemoryStore) GetOption(_ context.Context, name, def string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if o, ok := s.opts[name]; ok {
		return o.Value, nil
	}
	return def, nil
}

func (s *MemoryStore) SetOption(_ context.Context, name, value string) error {
	if name == "" {
		return ErrEmptyName
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts[name] = Option{Value: value, UpdatedAt: s.now().UTC()}
	return nil
}

func (s *MemoryStore) DeleteOption(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.opts, name)
	return nil
}

func (s *MemoryStore) ListOptions(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return matchingNames(s.opts, prefix), nil
}

func matchingNames(opts map[string]Option, prefix string) []string {
	out := make([]string, 0, len(opts))
	for name := range opts {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
