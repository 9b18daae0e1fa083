// Package syncengine is the control loop and event-driven reconciler that
// keeps a local directory tree and a remote WebDAV namespace convergent:
// a debounced local filesystem watcher and a remote activity poller each
// feed LocalEvents/RemoteEvents into a single command channel, the
// reconciler applies them against the shadow tree with cancel-token echo
// suppression, and persistence checkpoints the result after each batch.
package syncengine

import "time"

// LocalEventKind tags the kind of local filesystem change observed.
type LocalEventKind int

const (
	LocalCreate LocalEventKind = iota
	LocalModify
	LocalRemove
	LocalRename
)

func (k LocalEventKind) String() string {
	switch k {
	case LocalCreate:
		return "create"
	case LocalModify:
		return "modify"
	case LocalRemove:
		return "remove"
	case LocalRename:
		return "rename"
	default:
		return "unknown"
	}
}

// LocalEvent is a single local filesystem change, debounced and ordered by
// Seq within the batch the watcher emits.
type LocalEvent struct {
	Kind    LocalEventKind
	Path    string // tree-relative, "/"-prefixed
	OldPath string // set only for LocalRename
	Seq     uint64 // monotonic within one daemon run, used for FIFO ordering
}

// RemoteEventKind tags the kind of remote activity observed.
type RemoteEventKind int

const (
	RemoteFileCreated RemoteEventKind = iota
	RemoteFileChanged
	RemoteFileDeleted
	RemoteFileRenamed
)

func (k RemoteEventKind) String() string {
	switch k {
	case RemoteFileCreated:
		return "file_created"
	case RemoteFileChanged:
		return "file_changed"
	case RemoteFileDeleted:
		return "file_deleted"
	case RemoteFileRenamed:
		return "file_renamed"
	default:
		return "unknown"
	}
}

// RemoteEvent is a single entry from the remote activity feed.
type RemoteEvent struct {
	Kind    RemoteEventKind
	Path    string
	OldPath string
	ActivityID int64

	// Stash is set only for an explicit, stash-requested pull (Command.PullStash):
	// when a local file exists at the path this event is about to overwrite or
	// remove, it is moved under .stash/ first instead of being silently
	// discarded. Its content is not compared with the remote version.
	Stash bool
}

// CommandKind tags the sum type the control loop consumes.
type CommandKind int

const (
	CmdLocalEvent CommandKind = iota
	CmdRemoteEvents
	CmdPullRequest
	CmdUpdateExcludeFile
	CmdUpdateConfigFile
	CmdHardRepair
	CmdNormalRepair
	CmdNetworkConnect
	CmdNetworkDisconnect
	CmdTerminate
	CmdError
)

// Command is the single message type consumed by the control loop (C9).
type Command struct {
	Kind CommandKind

	LocalEvent    *LocalEvent
	RemoteEvents  []RemoteEvent
	RemoteCursor  string // new cursor accompanying RemoteEvents

	// PullRequest fields: an explicit operator-triggered push/pull, via IPC.
	PullPath      string
	PullRecursive bool
	PullStash     bool
	PullIsPush    bool

	// Terminate fields.
	Restart bool

	Err error

	ReceivedAt time.Time
}
