package storage

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLocalStorageSaveOpenDelete(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	rel, err := store.Save("job-1/report.txt", []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, "job-1/report.txt", rel)

	f, err := store.Open(rel)
	require.NoError(t, err)
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.Equal(t, "hello", string(data))

	_, err = store.SaveStream("job-1/FOTO/a.jpg", strings.NewReader("jpeg"))
	require.NoError(t, err)

	require.NoError(t, store.Delete("job-1"))
	_, err = os.Stat(store.Path("job-1"))
	require.True(t, os.IsNotExist(err))
}

func TestLocalStorageConfinesPaths(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	// leading ".." segments are cleaned against the root
	require.Equal(t, filepath.Join(store.BaseDir(), "etc", "passwd"), store.Path("../../etc/passwd"))
	require.ErrorIs(t, store.Delete(""), ErrPathTraversal)
	require.ErrorIs(t, store.Delete("/"), ErrPathTraversal)

	dir, err := store.JobDir("job-9")
	require.NoError(t, err)
	rel, err := store.Rel(filepath.Join(dir, "FOTO", "x.jpg"))
	require.NoError(t, err)
	require.Equal(t, "job-9/FOTO/x.jpg", rel)

	_, err = store.Rel(filepath.Dir(store.BaseDir()))
	require.ErrorIs(t, err, ErrPathTraversal)
}

func TestLocalStorageCleanupOlderThan(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = store.Save("old-job/report.pdf", []byte("old"))
	require.NoError(t, err)
	_, err = store.Save("new-job/report.pdf", []byte("new"))
	require.NoError(t, err)
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(store.Path("old-job"), past, past))

	deleted, err := store.CleanupOlderThan(24 * time.Hour)
	require.NoError(t, err)
	require.Equal(t, []string{"old-job"}, deleted)
	_, err = os.Stat(store.Path("new-job"))
	require.NoError(t, err)
}
