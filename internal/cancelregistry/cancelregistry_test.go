package cancelregistry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckLocalEvent_MatchesAndConsumesEntry(t *testing.T) {
	t.Parallel()

	r := New(time.Minute)
	r.ExpectLocalWrite("/a.txt", "etag-1")

	assert.True(t, r.CheckLocalEvent("/a.txt", "etag-1", false))
	// Second check for the same path finds nothing — the entry was consumed.
	assert.False(t, r.CheckLocalEvent("/a.txt", "etag-1", false))
}

func TestCheckLocalEvent_MismatchDoesNotSuppress(t *testing.T) {
	t.Parallel()

	r := New(time.Minute)
	r.ExpectLocalWrite("/a.txt", "etag-1")

	assert.False(t, r.CheckLocalEvent("/a.txt", "etag-2", false))
}

func TestCheckLocalEvent_DeleteExpectation(t *testing.T) {
	t.Parallel()

	r := New(time.Minute)
	r.ExpectLocalDelete("/a.txt")

	assert.True(t, r.CheckLocalEvent("/a.txt", "", true))
}

func TestExpectRemoteEcho_MatchesAndConsumesEntry(t *testing.T) {
	t.Parallel()

	r := New(time.Minute)
	id := r.ExpectRemoteEcho("/c.txt", "new-etag")
	require.NotEqual(t, id.String(), "")

	assert.True(t, r.CheckRemoteEvent("/c.txt", "new-etag"))
	assert.False(t, r.CheckRemoteEvent("/c.txt", "new-etag"))
}

func TestClear_DropsAllPendingEntries(t *testing.T) {
	t.Parallel()

	r := New(time.Minute)
	r.ExpectLocalWrite("/a.txt", "e1")
	r.ExpectRemoteEcho("/b.txt", "e2")

	nc2l, l2nc := r.Len()
	require.Equal(t, 1, nc2l)
	require.Equal(t, 1, l2nc)

	r.Clear()

	nc2l, l2nc = r.Len()
	assert.Equal(t, 0, nc2l)
	assert.Equal(t, 0, l2nc)
}

func TestEntriesExpireAfterTTL(t *testing.T) {
	t.Parallel()

	r := New(20 * time.Millisecond)
	r.ExpectLocalWrite("/a.txt", "e1")

	time.Sleep(60 * time.Millisecond)

	assert.False(t, r.CheckLocalEvent("/a.txt", "e1", false))
}
