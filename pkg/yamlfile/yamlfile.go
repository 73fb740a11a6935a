// Package yamlfile reads and atomically writes YAML snapshots on disk.
package yamlfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load decodes the YAML file at path into v. A missing file is not an error;
// found reports whether anything was read.
func Load(path string, v any) (found bool, err error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("yamlfile: read failed: %w", err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("yamlfile: parse %s: %w", path, err)
	}
	return true, nil
}

// Save marshals v and replaces path atomically through a temp file in the
// same directory. The file is created with 0600 permissions.
func Save(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("yamlfile: mkdir failed: %w", err)
	}

	out, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("yamlfile: marshal failed: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("yamlfile: temp create failed: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(out); err != nil {
		return fmt.Errorf("yamlfile: temp write failed: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		return fmt.Errorf("yamlfile: chmod failed: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("yamlfile: sync failed: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("yamlfile: close failed: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("yamlfile: atomic rename failed: %w", err)
	}
	return nil
}
