package options

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/greg-hellings/repogateway/pkg/yamlfile"
)

// fileDocument is the on-disk layout of a FileStore.
type fileDocument struct {
	Version int               `yaml:"version"`
	Options map[string]Option `yaml:"options"`
}

// Compile-time check: *FileStore implements Store.
var _ Store = (*FileStore)(nil)

// FileStore persists options in a YAML snapshot rewritten atomically on every
// change. It is the default backend of the CLI.
type FileStore struct {
	path string

	mu   sync.RWMutex
	opts map[string]Option
}

// OpenFileStore loads path, starting empty when the file does not exist yet.
func OpenFileStore(path string) (*FileStore, error) {
	var doc fileDocument
	if _, err := yamlfile.Load(path, &doc); err != nil {
		return nil, fmt.Errorf("options: %w", err)
	}
	if doc.Options == nil {
		doc.Options = make(map[string]Option)
	}
	return &FileStore{path: path, opts: doc.Options}, nil
}

// Path returns the backing file.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) GetOption(_ context.Context, name, def string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if o, ok := s.opts[name]; ok {
		return o.Value, nil
	}
	return def, nil
}

func (s *FileStore) SetOption(_ context.Context, name, value string) error {
	if name == "" {
		return ErrEmptyName
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.opts[name]
	s.opts[name] = Option{Value: value, UpdatedAt: time.Now().UTC()}
	if err := s.saveLocked(); err != nil {
		if existed {
			s.opts[name] = prev
		} else {
			delete(s.opts, name)
		}
		return err
	}
	return nil
}

func (s *FileStore) DeleteOption(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.opts[name]
	if !existed {
		return nil
	}
	delete(s.opts, name)
	if err := s.saveLocked(); err != nil {
		s.opts[name] = prev
		return err
	}
	return nil
}

func (s *FileStore) ListOptions(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return matchingNames(s.opts, prefix), nil
}

func (s *FileStore) saveLocked() error {
	if err := yamlfile.Save(s.path, fileDocument{Version: 1, Options: s.opts}); err != nil {
		return fmt.Errorf("options: %w", err)
	}
	return nil
}
