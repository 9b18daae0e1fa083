package syncengine

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ncsync/ncsync/internal/excludelist"
	"github.com/ncsync/ncsync/internal/tree"
)

func newTestEngine(t *testing.T, handler http.HandlerFunc) *Engine {
	t.Helper()

	r, tr, store, cancels := newTestReconciler(t, handler)
	persist := NewPersistence(store, testLogger())
	rep := NewRepairer(tr, r.remote, store, r, persist, r.ledger, testLogger())

	return NewEngine(tr, r.remote, store, r, persist, rep, cancels, excludelist.New(), testLogger(), 4, "", "")
}

func TestHandleLocalEvent_ConnectedReconcilesImmediately(t *testing.T) {
	t.Parallel()

	handler := func(w http.ResponseWriter, req *http.Request) {
		if req.Method == http.MethodPut {
			w.Header().Set("ETag", `"e1"`)
			w.WriteHeader(http.StatusCreated)
			return
		}

		w.WriteHeader(http.StatusNotFound)
	}

	e := newTestEngine(t, handler)

	require.NoError(t, e.tree.Insert("/", &tree.Entry{Name: "a.txt", Kind: tree.KindFile}))
	require.NoError(t, e.local.WriteAtomicBytes("/a.txt", []byte("hi")))

	status := NetworkConnected
	var offline []LocalEvent

	restart, stop := e.handleLocalEvent(context.Background(), &status, &offline, LocalEvent{Kind: LocalCreate, Path: "/a.txt"})
	require.False(t, restart)
	require.False(t, stop)
	require.Empty(t, offline)

	etag, ok, err := e.tree.GetEtag("/a.txt")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "e1", etag)
}

func TestHandleLocalEvent_DisconnectedBuffersEvent(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, func(w http.ResponseWriter, req *http.Request) {
		t.Fatal("remote must not be contacted while disconnected")
	})

	status := NetworkDisconnected
	var offline []LocalEvent

	restart, stop := e.handleLocalEvent(context.Background(), &status, &offline, LocalEvent{Kind: LocalCreate, Path: "/b.txt"})
	require.False(t, restart)
	require.False(t, stop)
	require.Len(t, offline, 1)
	require.Equal(t, "/b.txt", offline[0].Path)
}

func TestHandleNetworkTransition_DisconnectClearsCancels(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	e.cancels.ExpectLocalWrite("/pending.txt", "etag")

	status := NetworkConnected
	var offline []LocalEvent

	cursor, restart, stop := e.handleNetworkTransition(context.Background(), &status, &offline, "cursor-0", false)
	require.Equal(t, "cursor-0", cursor)
	require.False(t, restart)
	require.False(t, stop)
	require.Equal(t, NetworkDisconnected, status)

	remoteToLocal, _ := e.cancels.Len()
	require.Zero(t, remoteToLocal)
}

func TestHandleNetworkTransition_ReconnectRunsSoftRepairAndReplaysOffline(t *testing.T) {
	t.Parallel()

	handler := func(w http.ResponseWriter, req *http.Request) {
		switch {
		case req.URL.Path == "/ocs/v2.php/apps/activity/api/v2/activity/files":
			_, _ = io.WriteString(w, `{"ocs":{"data":[]}}`)
		case req.Method == http.MethodPut:
			w.Header().Set("ETag", `"replayed-etag"`)
			w.WriteHeader(http.StatusCreated)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}

	e := newTestEngine(t, handler)

	require.NoError(t, e.tree.Insert("/", &tree.Entry{Name: "queued.txt", Kind: tree.KindFile}))
	require.NoError(t, e.local.WriteAtomicBytes("/queued.txt", []byte("buffered while offline")))

	status := NetworkDisconnected
	offline := []LocalEvent{{Kind: LocalCreate, Path: "/queued.txt", Seq: 1}}

	cursor, restart, stop := e.handleNetworkTransition(context.Background(), &status, &offline, "0", true)
	require.False(t, restart)
	require.False(t, stop)
	require.Equal(t, NetworkConnected, status)
	require.Empty(t, offline)
	require.Equal(t, "0", cursor)

	etag, ok, err := e.tree.GetEtag("/queued.txt")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "replayed-etag", etag)
}

func TestHandleCommand_UpdateExcludeFileRequestsRestart(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	status := NetworkConnected
	var offline []LocalEvent

	_, restart, stop, err := e.handleCommand(context.Background(), &status, &offline, "cur", Command{Kind: CmdUpdateExcludeFile})
	require.NoError(t, err)
	require.True(t, restart)
	require.True(t, stop)
}

func TestHandleCommand_TerminateReturnsRequestedRestartFlag(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	status := NetworkConnected
	var offline []LocalEvent

	_, restart, stop, err := e.handleCommand(context.Background(), &status, &offline, "cur", Command{Kind: CmdTerminate, Restart: true})
	require.NoError(t, err)
	require.True(t, restart)
	require.True(t, stop)
}

func TestHandleCommand_PullRequestWhileDisconnectedIsDeferred(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, func(w http.ResponseWriter, req *http.Request) {
		t.Fatal("remote must not be contacted while disconnected")
	})

	status := NetworkDisconnected
	var offline []LocalEvent

	_, restart, stop, err := e.handleCommand(context.Background(), &status, &offline, "cur", Command{Kind: CmdPullRequest, PullPath: "/x.txt"})
	require.NoError(t, err)
	require.False(t, restart)
	require.False(t, stop)
}
