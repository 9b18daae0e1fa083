package syncengine

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ncsync/ncsync/internal/cancelregistry"
	"github.com/ncsync/ncsync/internal/ledger"
	"github.com/ncsync/ncsync/internal/localstore"
	"github.com/ncsync/ncsync/internal/tree"
	"github.com/ncsync/ncsync/internal/webdav"
)

func newTestRepairer(t *testing.T, handler http.HandlerFunc) (*Repairer, *Reconciler, *tree.Tree, *localstore.Store, *cancelregistry.Registry) {
	t.Helper()

	r, tr, store, cancels := newTestReconciler(t, handler)

	persist := NewPersistence(store, testLogger())

	rep := NewRepairer(tr, r.remote, store, r, persist, r.ledger, testLogger())

	return rep, r, tr, store, cancels
}

func TestSoftRepair_CatchesUpAndReplaysOfflineEvent(t *testing.T) {
	t.Parallel()

	handler := func(w http.ResponseWriter, req *http.Request) {
		switch {
		case req.URL.Path == "/ocs/v2.php/apps/activity/api/v2/activity/files":
			_, _ = io.WriteString(w, `{"ocs":{"data":[]}}`)
		case req.Method == http.MethodPut:
			w.Header().Set("ETag", `"e-new"`)
			w.WriteHeader(http.StatusCreated)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}

	rep, _, tr, store, _ := newTestRepairer(t, handler)

	require.NoError(t, tr.Insert("/", &tree.Entry{Name: "queued.txt", Kind: tree.KindFile}))
	require.NoError(t, store.WriteAtomicBytes("/queued.txt", []byte("offline write")))

	offline := []LocalEvent{{Kind: LocalCreate, Path: "/queued.txt", Seq: 1}}

	cursor, rerun, err := rep.SoftRepair(context.Background(), "0", offline)
	require.NoError(t, err)
	require.False(t, rerun)
	require.Equal(t, "0", cursor)

	etag, ok, err := tr.GetEtag("/queued.txt")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "e-new", etag)

	repairs, err := rep.ledger.ListRepairs(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, repairs, 1)
	require.Equal(t, ledger.RepairKindSoft, repairs[0].Kind)
	require.NotNil(t, repairs[0].FinishedAt)
}

func TestSoftRepair_StashesOfflineEventThatConflictsWithRemoteCatchup(t *testing.T) {
	t.Parallel()

	handler := func(w http.ResponseWriter, req *http.Request) {
		switch {
		case req.URL.Path == "/ocs/v2.php/apps/activity/api/v2/activity/files":
			_, _ = io.WriteString(w, `{"ocs":{"data":[
				{"activity_id":7,"type":"file_changed","object":{"objectname":"/conflict.txt"}}
			]}}`)
		case req.Method == http.MethodGet:
			w.Header().Set("ETag", `"remote-wins-etag"`)
			_, _ = io.WriteString(w, "remote content")
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}

	rep, _, tr, store, _ := newTestRepairer(t, handler)

	require.NoError(t, tr.Insert("/", &tree.Entry{Name: "conflict.txt", Kind: tree.KindFile}))
	require.NoError(t, store.WriteAtomicBytes("/conflict.txt", []byte("offline edit")))

	offline := []LocalEvent{{Kind: LocalModify, Path: "/conflict.txt", Seq: 1}}

	cursor, rerun, err := rep.SoftRepair(context.Background(), "0", offline)
	require.NoError(t, err)
	require.False(t, rerun)
	require.NotEmpty(t, cursor)

	etag, ok, err := tr.GetEtag("/conflict.txt")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "remote-wins-etag", etag)

	records, err := rep.ledger.ListConflicts(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, ledger.ResolutionStashed, records[0].Resolution)
}

func TestNormalRepair_AppliesCatchupAndAdvancesCursor(t *testing.T) {
	t.Parallel()

	handler := func(w http.ResponseWriter, req *http.Request) {
		switch {
		case req.URL.Path == "/ocs/v2.php/apps/activity/api/v2/activity/files":
			_, _ = io.WriteString(w, `{"ocs":{"data":[
				{"activity_id":9,"type":"file_created","object":{"objectname":"/fresh.txt"}}
			]}}`)
		case req.Method == http.MethodGet:
			w.Header().Set("ETag", `"fresh-etag"`)
			_, _ = io.WriteString(w, "fresh content")
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}

	rep, _, tr, store, _ := newTestRepairer(t, handler)

	newCursor, err := rep.NormalRepair(context.Background(), "0")
	require.NoError(t, err)
	require.Equal(t, "9", newCursor)

	data, err := store.Read("/fresh.txt")
	require.NoError(t, err)
	require.Equal(t, "fresh content", string(data))

	etag, ok, err := tr.GetEtag("/fresh.txt")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "fresh-etag", etag)

	repairs, err := rep.ledger.ListRepairs(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, repairs, 1)
	require.Equal(t, ledger.RepairKindNormal, repairs[0].Kind)
}

func TestHardRepair_ClearsSnapshotAndLocalRoot(t *testing.T) {
	t.Parallel()

	rep, _, _, store, _ := newTestRepairer(t, func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	require.NoError(t, store.WriteAtomicBytes("/stale.txt", []byte("old")))
	require.NoError(t, rep.persist.Save(tree.New(), "cursor-1"))

	err := rep.HardRepair(context.Background())
	require.NoError(t, err)

	exists, err := store.Exists("/stale.txt")
	require.NoError(t, err)
	require.False(t, exists)

	exists, err = store.Exists(store.SnapshotRelPath())
	require.NoError(t, err)
	require.False(t, exists)

	repairs, err := rep.ledger.ListRepairs(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, repairs, 1)
	require.Equal(t, ledger.RepairKindHard, repairs[0].Kind)
}
