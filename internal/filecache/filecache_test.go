package filecache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateIsIdempotent(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "cache", "detail")
	m, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, m.Create())
	require.NoError(t, m.Create())

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestClearLeavesEmptyDir(t *testing.T) {
	t.Parallel()

	m, err := New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(m.Join("a.pdf"), []byte("x"), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(m.Path(), "nested"), 0o750))

	require.NoError(t, m.Clear())
	entries, err := os.ReadDir(m.Path())
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestJoinStaysInsideCache(t *testing.T) {
	t.Parallel()

	m, err := New("/tmp/regcrawl")
	require.NoError(t, err)
	require.Equal(t, filepath.Join("/tmp/regcrawl", "passwd"), m.Join("../../etc/passwd"))
}

func TestNewRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := New("  ")
	require.Error(t, err)
}
