package syncengine

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ncsync/ncsync/internal/cancelregistry"
	"github.com/ncsync/ncsync/internal/excludelist"
	"github.com/ncsync/ncsync/internal/ledger"
	"github.com/ncsync/ncsync/internal/localstore"
	"github.com/ncsync/ncsync/internal/tree"
	"github.com/ncsync/ncsync/internal/webdav"
)

type staticCreds struct{ user, pass string }

func (c staticCreds) BasicAuth() (string, string) { return c.user, c.pass }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestReconciler(t *testing.T, handler http.HandlerFunc) (*Reconciler, *tree.Tree, *localstore.Store, *cancelregistry.Registry) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := webdav.New(srv.URL, http.DefaultClient, staticCreds{"alice", "secret"}, testLogger())

	root := t.TempDir()
	store := localstore.New(root)
	require.NoError(t, store.EnsureMetadataDir())

	tr := tree.New()
	cancels := cancelregistry.New(time.Minute)

	led, err := ledger.Open(":memory:", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { led.Close() })

	r := New(tr, client, store, excludelist.New(), cancels, led, testLogger())

	return r, tr, store, cancels
}

func TestDealLocalEvent_UploadsNewFileAndSetsEtag(t *testing.T) {
	t.Parallel()

	handler := func(w http.ResponseWriter, req *http.Request) {
		if req.Method == http.MethodPut {
			w.Header().Set("ETag", `"etag-1"`)
			w.WriteHeader(http.StatusCreated)
			return
		}

		w.WriteHeader(http.StatusNotFound)
	}

	r, tr, store, cancels := newTestReconciler(t, handler)

	require.NoError(t, tr.Insert("/", &tree.Entry{Name: "a.txt", Kind: tree.KindFile}))
	require.NoError(t, store.WriteAtomicBytes("/a.txt", []byte("hello")))

	err := r.DealLocalEvent(context.Background(), LocalEvent{Kind: LocalCreate, Path: "/a.txt"})
	require.NoError(t, err)

	etag, ok, err := tr.GetEtag("/a.txt")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "etag-1", etag)

	_, localToRemote := cancels.Len()
	require.Equal(t, 1, localToRemote)
}

func TestDealLocalEvent_RemoveDeletesRemoteAndTreeEntry(t *testing.T) {
	t.Parallel()

	handler := func(w http.ResponseWriter, req *http.Request) {
		if req.Method == http.MethodDelete {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		w.WriteHeader(http.StatusNotFound)
	}

	r, tr, _, _ := newTestReconciler(t, handler)

	require.NoError(t, tr.Insert("/", &tree.Entry{Name: "gone.txt", Kind: tree.KindFile}))

	err := r.DealLocalEvent(context.Background(), LocalEvent{Kind: LocalRemove, Path: "/gone.txt"})
	require.NoError(t, err)

	_, err = tr.Get("/gone.txt")
	require.ErrorIs(t, err, tree.ErrNotFound)
}

func TestDealLocalEvent_ExcludedPathSkipsPush(t *testing.T) {
	t.Parallel()

	called := false
	handler := func(w http.ResponseWriter, req *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}

	r, tr, store, _ := newTestReconciler(t, handler)

	excludeFile := filepath.Join(t.TempDir(), "exclude")
	require.NoError(t, os.WriteFile(excludeFile, []byte("*.tmp\n"), 0o644))

	exclude := excludelist.New()
	require.NoError(t, exclude.LoadFile(excludeFile))
	r.exclude = exclude

	require.NoError(t, tr.Insert("/", &tree.Entry{Name: "x.tmp", Kind: tree.KindFile}))
	require.NoError(t, store.WriteAtomicBytes("/x.tmp", []byte("scratch")))

	err := r.DealLocalEvent(context.Background(), LocalEvent{Kind: LocalCreate, Path: "/x.tmp"})
	require.NoError(t, err)
	require.False(t, called)
}

func TestUpdateAndDownload_WritesFileAndUpdatesTree(t *testing.T) {
	t.Parallel()

	handler := func(w http.ResponseWriter, req *http.Request) {
		if req.Method == http.MethodGet {
			w.Header().Set("ETag", `"remote-etag"`)
			_, _ = io.WriteString(w, "remote content")
			return
		}

		w.WriteHeader(http.StatusNotFound)
	}

	r, tr, store, _ := newTestReconciler(t, handler)

	err := r.UpdateAndDownload(context.Background(), []RemoteEvent{
		{Kind: RemoteFileCreated, Path: "/new.txt"},
	})
	require.NoError(t, err)

	data, err := store.Read("/new.txt")
	require.NoError(t, err)
	require.Equal(t, "remote content", string(data))

	etag, ok, err := tr.GetEtag("/new.txt")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "remote-etag", etag)
}

func TestUpdateAndDownload_SuppressedByCancelToken(t *testing.T) {
	t.Parallel()

	handler := func(w http.ResponseWriter, req *http.Request) {
		if req.Method == http.MethodGet {
			w.Header().Set("ETag", `"self-etag"`)
			_, _ = io.WriteString(w, "self write")
			return
		}

		w.WriteHeader(http.StatusNotFound)
	}

	r, _, store, cancels := newTestReconciler(t, handler)

	cancels.ExpectRemoteEcho("/echoed.txt", "self-etag")

	err := r.UpdateAndDownload(context.Background(), []RemoteEvent{
		{Kind: RemoteFileChanged, Path: "/echoed.txt"},
	})
	require.NoError(t, err)

	exists, err := store.Exists("/echoed.txt")
	require.NoError(t, err)
	require.False(t, exists, "suppressed remote event must not write the local file")
}

func TestUpdateAndDownload_DeleteRemovesLocalFile(t *testing.T) {
	t.Parallel()

	r, tr, store, _ := newTestReconciler(t, func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	require.NoError(t, tr.Insert("/", &tree.Entry{Name: "old.txt", Kind: tree.KindFile}))
	require.NoError(t, store.WriteAtomicBytes("/old.txt", []byte("bye")))

	err := r.UpdateAndDownload(context.Background(), []RemoteEvent{
		{Kind: RemoteFileDeleted, Path: "/old.txt"},
	})
	require.NoError(t, err)

	exists, err := store.Exists("/old.txt")
	require.NoError(t, err)
	require.False(t, exists)

	_, err = tr.Get("/old.txt")
	require.ErrorIs(t, err, tree.ErrNotFound)
}

func TestUpdateAndDownload_RenameMovesLocalFileUsingOldPath(t *testing.T) {
	t.Parallel()

	r, tr, store, _ := newTestReconciler(t, func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	require.NoError(t, tr.Insert("/", &tree.Entry{Name: "old-name.txt", Kind: tree.KindFile}))
	require.NoError(t, store.WriteAtomicBytes("/old-name.txt", []byte("content")))

	err := r.UpdateAndDownload(context.Background(), []RemoteEvent{
		{Kind: RemoteFileRenamed, Path: "/new-name.txt", OldPath: "/old-name.txt"},
	})
	require.NoError(t, err)

	oldExists, err := store.Exists("/old-name.txt")
	require.NoError(t, err)
	require.False(t, oldExists, "old path must no longer exist after a rename")

	newExists, err := store.Exists("/new-name.txt")
	require.NoError(t, err)
	require.True(t, newExists, "new path must exist after a rename")

	data, err := store.Read("/new-name.txt")
	require.NoError(t, err)
	require.Equal(t, "content", string(data))

	_, err = tr.Get("/old-name.txt")
	require.ErrorIs(t, err, tree.ErrNotFound)

	_, err = tr.Get("/new-name.txt")
	require.NoError(t, err)
}

func TestDealLocalEvent_WriteSuppressedByCancelToken(t *testing.T) {
	t.Parallel()

	called := false
	handler := func(w http.ResponseWriter, req *http.Request) {
		called = true
		w.WriteHeader(http.StatusCreated)
	}

	r, tr, store, cancels := newTestReconciler(t, handler)

	require.NoError(t, tr.Insert("/", &tree.Entry{Name: "echoed.txt", Kind: tree.KindFile}))
	require.NoError(t, store.WriteAtomicBytes("/echoed.txt", []byte("remote content")))

	hash, _, _, err := hashToTemp(bytes.NewReader([]byte("remote content")))
	require.NoError(t, err)

	cancels.ExpectLocalWrite("/echoed.txt", hash)

	err = r.DealLocalEvent(context.Background(), LocalEvent{Kind: LocalModify, Path: "/echoed.txt"})
	require.NoError(t, err)
	require.False(t, called, "suppressed local write must not push to remote")
}

func TestDealLocalEvent_RemoveSuppressedByCancelToken(t *testing.T) {
	t.Parallel()

	called := false
	handler := func(w http.ResponseWriter, req *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}

	r, tr, _, cancels := newTestReconciler(t, handler)

	require.NoError(t, tr.Insert("/", &tree.Entry{Name: "echoed.txt", Kind: tree.KindFile}))

	cancels.ExpectLocalDelete("/echoed.txt")

	err := r.DealLocalEvent(context.Background(), LocalEvent{Kind: LocalRemove, Path: "/echoed.txt"})
	require.NoError(t, err)
	require.False(t, called, "suppressed local remove must not push to remote")
}

func TestUpdateAndDownload_StashRequestPreservesLocalFileBeforeOverwrite(t *testing.T) {
	t.Parallel()

	handler := func(w http.ResponseWriter, req *http.Request) {
		if req.Method == http.MethodGet {
			w.Header().Set("ETag", `"remote-etag"`)
			_, _ = io.WriteString(w, "remote content")
			return
		}

		w.WriteHeader(http.StatusNotFound)
	}

	r, tr, store, _ := newTestReconciler(t, handler)

	require.NoError(t, tr.Insert("/", &tree.Entry{Name: "pulled.txt", Kind: tree.KindFile}))
	require.NoError(t, store.WriteAtomicBytes("/pulled.txt", []byte("local edit")))

	err := r.UpdateAndDownload(context.Background(), []RemoteEvent{
		{Kind: RemoteFileChanged, Path: "/pulled.txt", Stash: true},
	})
	require.NoError(t, err)

	data, err := store.Read("/pulled.txt")
	require.NoError(t, err)
	require.Equal(t, "remote content", string(data))

	entries, err := os.ReadDir(store.StashDir())
	require.NoError(t, err)
	require.NotEmpty(t, entries, "local edit must be preserved under .stash/")
}

func TestDealLocalEvent_ConflictIsRecordedInLedger(t *testing.T) {
	t.Parallel()

	handler := func(w http.ResponseWriter, req *http.Request) {
		if req.Method == http.MethodPut {
			w.WriteHeader(http.StatusConflict)
			return
		}

		w.WriteHeader(http.StatusNotFound)
	}

	r, tr, store, _ := newTestReconciler(t, handler)

	require.NoError(t, tr.Insert("/", &tree.Entry{Name: "conflict.txt", Kind: tree.KindFile}))
	require.NoError(t, store.WriteAtomicBytes("/conflict.txt", []byte("local edit")))

	err := r.DealLocalEvent(context.Background(), LocalEvent{Kind: LocalModify, Path: "/conflict.txt"})
	require.NoError(t, err)

	records, err := r.ledger.ListConflicts(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "/conflict.txt", records[0].Path)
	require.Equal(t, ledger.ResolutionRemoteWins, records[0].Resolution)
}

