// Package cancelregistry implements the echo-suppression maps the
// reconciler uses to break the feedback loop between the local watcher and
// the remote activity poller: an apply on one side records an expectation
// here, and the event the other side's observer shortly emits is dropped
// when it matches that expectation instead of being reapplied.
package cancelregistry

import (
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	maxEntries = 10_000
	defaultTTL = 30 * time.Second
)

// remoteToLocalEntry is the expectation recorded when the reconciler writes
// a remote change to the local filesystem: the next local-watcher event on
// this path should be dropped if its content matches expectedEtag.
type remoteToLocalEntry struct {
	expectedEtag string
	deleted      bool // set when the remote change was a deletion
}

// localToRemoteEntry is the expectation recorded when the reconciler pushes
// a local change to the remote: the next remote activity on this path
// should be dropped if it reports the etag the push produced.
type localToRemoteEntry struct {
	generationID uuid.UUID
	expectedEtag string
}

// Registry holds both suppression maps. Each direction is a separate
// TTL-evicting LRU so a stale, unmatched entry on one path never blocks a
// later, unrelated event on the same path once it ages out.
type Registry struct {
	remoteToLocal *expirable.LRU[string, remoteToLocalEntry]
	localToRemote *expirable.LRU[string, localToRemoteEntry]
}

// New creates a Registry whose entries expire after ttl if never matched.
// ttl <= 0 selects the default of 30s.
func New(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = defaultTTL
	}

	return &Registry{
		remoteToLocal: expirable.NewLRU[string, remoteToLocalEntry](maxEntries, nil, ttl),
		localToRemote: expirable.NewLRU[string, localToRemoteEntry](maxEntries, nil, ttl),
	}
}

// ExpectLocalWrite records that the reconciler is about to write a remote
// change of etag to path locally; the next LocalEvent for path should be
// suppressed if it observes that same content.
func (r *Registry) ExpectLocalWrite(path, etag string) {
	r.remoteToLocal.Add(path, remoteToLocalEntry{expectedEtag: etag})
}

// ExpectLocalDelete records that the reconciler is about to delete path
// locally in response to a remote deletion.
func (r *Registry) ExpectLocalDelete(path string) {
	r.remoteToLocal.Add(path, remoteToLocalEntry{deleted: true})
}

// CheckLocalEvent reports whether a LocalEvent observed at path, with the
// given content etag (or "" for a delete), matches a recorded expectation.
// On a match the entry is consumed (removed) so a later, unrelated event on
// the same path is not also suppressed.
func (r *Registry) CheckLocalEvent(path, observedEtag string, isDelete bool) bool {
	entry, ok := r.remoteToLocal.Get(path)
	if !ok {
		return false
	}

	matched := (isDelete && entry.deleted) || (!isDelete && !entry.deleted && entry.expectedEtag == observedEtag)
	if matched {
		r.remoteToLocal.Remove(path)
	}

	return matched
}

// ExpectRemoteEcho records that the reconciler just pushed a local change
// to path, producing the given resulting etag; the next RemoteEvent for
// path should be suppressed if it reports that same etag. Returns the
// generation-id assigned to this expectation, for correlation in logs.
func (r *Registry) ExpectRemoteEcho(path, resultingEtag string) uuid.UUID {
	id := uuid.New()
	r.localToRemote.Add(path, localToRemoteEntry{generationID: id, expectedEtag: resultingEtag})

	return id
}

// CheckRemoteEvent reports whether a RemoteEvent observed at path, with the
// given reported etag, matches a recorded expectation. On a match the entry
// is consumed.
func (r *Registry) CheckRemoteEvent(path, reportedEtag string) bool {
	entry, ok := r.localToRemote.Get(path)
	if !ok {
		return false
	}

	if entry.expectedEtag != reportedEtag {
		return false
	}

	r.localToRemote.Remove(path)

	return true
}

// Clear drops every pending expectation in both directions. Called by the
// control loop on a network disconnect transition (spec: cancel maps are
// cleared rather than allowed to suppress events across an offline gap).
func (r *Registry) Clear() {
	r.remoteToLocal.Purge()
	r.localToRemote.Purge()
}

// Len returns the number of pending entries in each direction, for status
// reporting and tests.
func (r *Registry) Len() (remoteToLocal, localToRemote int) {
	return r.remoteToLocal.Len(), r.localToRemote.Len()
}
