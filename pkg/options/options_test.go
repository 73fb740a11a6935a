package options

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseStore runs the contract shared by every backend.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	v, err := s.GetOption(ctx, "missing", "fallback")
	require.NoError(t, err)
	assert.Equal(t, "fallback", v)

	require.NoError(t, s.SetOption(ctx, "repogateway_credentials_github", "blob-1"))
	require.NoError(t, s.SetOption(ctx, "repogateway_credentials_gitlab", "blob-2"))
	require.NoError(t, s.SetOption(ctx, "other", "x"))
	require.NoError(t, s.SetOption(ctx, "repogateway_credentials_github", "blob-3"))

	v, err = s.GetOption(ctx, "repogateway_credentials_github", "")
	require.NoError(t, err)
	assert.Equal(t, "blob-3", v)

	names, err := s.ListOptions(ctx, "repogateway_credentials_")
	require.NoError(t, err)
	assert.Equal(t, []string{"repogateway_credentials_github", "repogateway_credentials_gitlab"}, names)

	require.NoError(t, s.DeleteOption(ctx, "repogateway_credentials_gitlab"))
	require.NoError(t, s.DeleteOption(ctx, "repogateway_credentials_gitlab"), "delete is idempotent")

	v, err = s.GetOption(ctx, "repogateway_credentials_gitlab", "gone")
	require.NoError(t, err)
	assert.Equal(t, "gone", v)

	assert.ErrorIs(t, s.SetOption(ctx, "", "v"), ErrEmptyName)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "options.yaml")
	s, err := OpenFileStore(path)
	require.NoError(t, err)
	exerciseStore(t, s)

	// A reopened store sees the persisted state.
	reopened, err := OpenFileStore(path)
	require.NoError(t, err)
	v, err := reopened.GetOption(context.Background(), "repogateway_credentials_github", "")
	require.NoError(t, err)
	assert.Equal(t, "blob-3", v)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm(), "options hold secrets")
}

func TestFileStore_SaveFailureRollsBack(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenFileStore(filepath.Join(dir, "sub", "options.yaml"))
	require.NoError(t, err)

	// A regular file where the directory should be makes every save fail.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub"), []byte("x"), 0o600))

	require.Error(t, s.SetOption(context.Background(), "k", "v"))
	v, err := s.GetOption(context.Background(), "k", "unset")
	require.NoError(t, err)
	assert.Equal(t, "unset", v)
}
