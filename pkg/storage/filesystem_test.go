package storage

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoragePrepareOpenDelete(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	path, err := store.Prepare("products/job-1.csv")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(store.BaseDir(), "products", "job-1.csv"), path)
	require.NoError(t, os.WriteFile(path, []byte("id\n1\n"), 0o644))

	f, err := store.Open("products/job-1.csv")
	require.NoError(t, err)
	data, err := io.ReadAll(f)
	require.NoError(t, f.Close())
	require.NoError(t, err)
	assert.Equal(t, "id\n1\n", string(data))

	require.NoError(t, store.Delete("products/job-1.csv"))
	require.NoError(t, store.Delete("products/job-1.csv"), "deleting a missing file is not an error")
	_, err = store.Open("products/job-1.csv")
	assert.Error(t, err)
}

func TestLocalStorageRejectsEscapingPaths(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	for _, p := range []string{"", "/etc/passwd", "../outside.csv", "a/../../outside.csv", "."} {
		_, err := store.Prepare(p)
		assert.Error(t, err, "path %q", p)
	}
}

func TestLocalStorageCleanupOlderThan(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	oldPath, err := store.Prepare("old/a.csv")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(oldPath, []byte("x"), 0o644))
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(oldPath, past, past))

	freshPath, err := store.Prepare("fresh/b.csv")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(freshPath, []byte("y"), 0o644))

	deleted, err := store.CleanupOlderThan(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{"old/a.csv"}, deleted)
	_, err = os.Stat(freshPath)
	assert.NoError(t, err)
}
