package syncengine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ncsync/ncsync/internal/localstore"
	"github.com/ncsync/ncsync/internal/tree"
)

func newTestPersistence(t *testing.T) (*Persistence, *localstore.Store) {
	t.Helper()

	root := t.TempDir()
	store := localstore.New(root)
	require.NoError(t, store.EnsureMetadataDir())

	return NewPersistence(store, testLogger()), store
}

func TestPersistence_LoadWithNoSnapshotReturnsNotExists(t *testing.T) {
	t.Parallel()

	p, _ := newTestPersistence(t)

	tr, cursor, ok, err := p.Load()
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, tr)
	require.Empty(t, cursor)
}

func TestPersistence_SaveAndLoadRoundTrip(t *testing.T) {
	t.Parallel()

	p, _ := newTestPersistence(t)

	tr := tree.New()
	require.NoError(t, tr.Insert("/", &tree.Entry{Name: "a.txt", Kind: tree.KindFile, ETag: "e1", HasETag: true, Size: 3, HasSize: true}))

	require.NoError(t, p.Save(tr, "cursor-42"))

	loaded, cursor, ok, err := p.Load()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "cursor-42", cursor)

	entry, err := loaded.Get("/a.txt")
	require.NoError(t, err)
	require.Equal(t, "e1", entry.ETag)
	require.Equal(t, int64(3), entry.Size)
}

func TestPersistence_DeleteRemovesSnapshot(t *testing.T) {
	t.Parallel()

	p, store := newTestPersistence(t)

	require.NoError(t, p.Save(tree.New(), "cursor-1"))

	exists, err := store.Exists(store.SnapshotRelPath())
	require.NoError(t, err)
	require.True(t, exists)

	require.NoError(t, p.Delete())

	exists, err = store.Exists(store.SnapshotRelPath())
	require.NoError(t, err)
	require.False(t, exists)
}
