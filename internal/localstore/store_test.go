package localstore

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func filepathGlob(pattern string) ([]string, error) {
	return filepath.Glob(pattern)
}

func TestWriteAtomic_ReadsBackContent(t *testing.T) {
	t.Parallel()

	s := New(t.TempDir())

	n, err := s.WriteAtomic("docs/a.txt", bytes.NewReader([]byte("hello")))
	require.NoError(t, err)
	require.EqualValues(t, 5, n)

	data, err := s.Read("docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestWriteAtomic_NoPartialFileLeftOnDisk(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	s := New(root)

	_, err := s.WriteAtomic("a.txt", bytes.NewReader([]byte("hi")))
	require.NoError(t, err)

	entries, err := filepathGlob(filepath.Join(root, ".tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMkdirPAndRemove(t *testing.T) {
	t.Parallel()

	s := New(t.TempDir())

	require.NoError(t, s.MkdirP("a/b/c"))

	exists, err := s.Exists("a/b/c")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, s.Remove("a"))

	exists, err = s.Exists("a")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRename_MovesFileAcrossDirectories(t *testing.T) {
	t.Parallel()

	s := New(t.TempDir())

	_, err := s.WriteAtomic("src/a.txt", bytes.NewReader([]byte("x")))
	require.NoError(t, err)

	require.NoError(t, s.Rename("src/a.txt", "dst/a.txt"))

	exists, err := s.Exists("src/a.txt")
	require.NoError(t, err)
	assert.False(t, exists)

	data, err := s.Read("dst/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))
}

func TestStat_ReportsSizeAndModTime(t *testing.T) {
	t.Parallel()

	s := New(t.TempDir())

	_, err := s.WriteAtomic("a.txt", bytes.NewReader([]byte("hello")))
	require.NoError(t, err)

	info, err := s.Stat("a.txt")
	require.NoError(t, err)
	assert.EqualValues(t, 5, info.Size)
	assert.False(t, info.IsDir)
}

func TestMoveToStash_AvoidsCollision(t *testing.T) {
	t.Parallel()

	s := New(t.TempDir())
	require.NoError(t, s.EnsureMetadataDir())

	_, err := s.WriteAtomic("a.txt", bytes.NewReader([]byte("v1")))
	require.NoError(t, err)

	stashedPath, err := s.MoveToStash("a.txt")
	require.NoError(t, err)
	assert.Equal(t, ".stash/a.txt", stashedPath)

	exists, err := s.Exists("a.txt")
	require.NoError(t, err)
	assert.False(t, exists)

	data, err := s.Read(stashedPath)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))

	// Second stash of a path with the same name must not clobber the first.
	_, err = s.WriteAtomic("a.txt", bytes.NewReader([]byte("v2")))
	require.NoError(t, err)

	secondStashed, err := s.MoveToStash("a.txt")
	require.NoError(t, err)
	assert.NotEqual(t, stashedPath, secondStashed)
}

func TestAcquireDaemonLock_SecondAcquisitionFails(t *testing.T) {
	t.Parallel()

	s := New(t.TempDir())

	lock1, err := s.AcquireDaemonLock()
	require.NoError(t, err)
	defer lock1.Release()

	_, err = s.AcquireDaemonLock()
	require.ErrorIs(t, err, ErrAlreadyRunning)
}
