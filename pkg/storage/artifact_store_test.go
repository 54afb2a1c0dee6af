package storage

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArtifactStoreSaveAndOpen(t *testing.T) {
	store, err := NewArtifactStore(t.TempDir())
	require.NoError(t, err)

	rel, err := store.Save("verified_all.csv", []byte("Report ID,Category\n"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(rel, time.Now().UTC().Format("2006-01")), "artifacts are grouped by month, got %s", rel)

	file, err := store.Open(rel)
	require.NoError(t, err)
	defer file.Close() //nolint:errcheck

	content, err := io.ReadAll(file)
	require.NoError(t, err)
	assert.Equal(t, "Report ID,Category\n", string(content))
}

func TestArtifactStoreRejectsEscapingPaths(t *testing.T) {
	store, err := NewArtifactStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Open("../outside.csv")
	require.Error(t, err)

	_, err = store.Open("/etc/passwd")
	require.Error(t, err)
}

func TestArtifactStoreSweepRemovesOldArtifacts(t *testing.T) {
	dir := t.TempDir()
	store, err := NewArtifactStore(dir)
	require.NoError(t, err)

	rel, err := store.Save("stale.csv", []byte("old"))
	require.NoError(t, err)
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, rel), old, old))

	fresh, err := store.Save("fresh.csv", []byte("new"))
	require.NoError(t, err)

	removed, err := store.Sweep(24 * time.Hour)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.Equal(t, rel, removed[0])

	_, err = store.Open(fresh)
	require.NoError(t, err)
}
