package syncengine

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/ncsync/ncsync/internal/cancelregistry"
	"github.com/ncsync/ncsync/internal/excludelist"
	"github.com/ncsync/ncsync/internal/ledger"
	"github.com/ncsync/ncsync/internal/localstore"
	"github.com/ncsync/ncsync/internal/tree"
	"github.com/ncsync/ncsync/internal/webdav"
)

// Reconciler translates LocalEvents and RemoteEvents into mutations against
// the shadow tree, the local filesystem, and the remote namespace, with
// cancel-token echo suppression and a remote-wins conflict policy. It has
// exactly two entry points, matching the specification: DealLocalEvent and
// UpdateAndDownload.
type Reconciler struct {
	tree     *tree.Tree
	remote   *webdav.Client
	local    *localstore.Store
	exclude  *excludelist.List
	cancels  *cancelregistry.Registry
	ledger   *ledger.Ledger
	logger   *slog.Logger
}

// New creates a Reconciler wired to the given collaborators.
func New(
	t *tree.Tree,
	remote *webdav.Client,
	local *localstore.Store,
	exclude *excludelist.List,
	cancels *cancelregistry.Registry,
	led *ledger.Ledger,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		tree:    t,
		remote:  remote,
		local:   local,
		exclude: exclude,
		cancels: cancels,
		ledger:  led,
		logger:  logger,
	}
}

// DealLocalEvent consumes a single LocalEvent: cancel-check, exclude-check,
// then push the corresponding mutation to the remote and record the
// resulting etag in the tree and in the local-to-remote cancel map.
func (r *Reconciler) DealLocalEvent(ctx context.Context, ev LocalEvent) error {
	if r.exclude != nil && r.exclude.Matches(ev.Path) {
		r.logger.Debug("local event excluded", slog.String("path", ev.Path))
		return nil
	}

	switch ev.Kind {
	case LocalCreate, LocalModify:
		return r.dealLocalWrite(ctx, ev)
	case LocalRemove:
		return r.dealLocalRemove(ctx, ev)
	case LocalRename:
		return r.dealLocalRename(ctx, ev)
	default:
		return fmt.Errorf("syncengine: unknown local event kind %v", ev.Kind)
	}
}

func (r *Reconciler) dealLocalWrite(ctx context.Context, ev LocalEvent) error {
	info, err := r.local.Stat(ev.Path)
	if err != nil {
		// The file may already be gone by the time the debounced batch is
		// processed (create-then-delete within one window); nothing to push.
		r.logger.Debug("local write event: file vanished before reconcile", slog.String("path", ev.Path))
		return nil
	}

	if info.IsDir {
		if err := r.remote.Mkdir(ctx, ev.Path); err != nil && !errors.Is(err, webdav.ErrConflict) {
			return fmt.Errorf("syncengine: mkdir remote %s: %w", ev.Path, err)
		}

		if err := r.tree.Insert(path.Dir(ev.Path), &tree.Entry{Name: path.Base(ev.Path), Kind: tree.KindDirectory, RemoteType: "dir"}); err != nil && !errors.Is(err, tree.ErrDuplicateChild) {
			return fmt.Errorf("syncengine: recording new directory %s: %w", ev.Path, err)
		}

		return nil
	}

	content, err := r.local.Open(ev.Path)
	if err != nil {
		return fmt.Errorf("syncengine: opening %s for upload: %w", ev.Path, err)
	}
	defer content.Close()

	hash, size, buf, err := hashToTemp(content)
	if err != nil {
		return fmt.Errorf("syncengine: hashing %s before upload: %w", ev.Path, err)
	}

	if r.cancels.CheckLocalEvent(ev.Path, hash, false) {
		r.logger.Debug("local event suppressed by cancel token", slog.String("path", ev.Path))
		return nil
	}

	etag, err := r.remote.Put(ctx, ev.Path, buf)
	if err != nil {
		var werr *webdav.Error
		if errors.As(err, &werr) && werr.StatusCode == 409 {
			return r.recordConflict(ctx, ev.Path, hash, "")
		}

		return fmt.Errorf("syncengine: put %s: %w", ev.Path, err)
	}

	r.cancels.ExpectRemoteEcho(ev.Path, etag)

	if err := r.tree.SetEtag(ev.Path, etag); err != nil {
		_ = r.tree.Insert(path.Dir(ev.Path), &tree.Entry{
			Name: path.Base(ev.Path), Kind: tree.KindFile, RemoteType: "file",
			ETag: etag, HasETag: true, Size: size, HasSize: true,
		})
	}

	return nil
}

func (r *Reconciler) dealLocalRemove(ctx context.Context, ev LocalEvent) error {
	if r.cancels.CheckLocalEvent(ev.Path, "", true) {
		r.logger.Debug("local remove suppressed by cancel token", slog.String("path", ev.Path))
		return nil
	}

	if err := r.remote.Remove(ctx, ev.Path); err != nil && !errors.Is(err, webdav.ErrNotFound) {
		return fmt.Errorf("syncengine: remove remote %s: %w", ev.Path, err)
	}

	r.cancels.ExpectRemoteEcho(ev.Path, "")
	_, _ = r.tree.Remove(ev.Path)

	return nil
}

func (r *Reconciler) dealLocalRename(ctx context.Context, ev LocalEvent) error {
	if err := r.remote.Move(ctx, ev.OldPath, ev.Path); err != nil {
		return fmt.Errorf("syncengine: move remote %s -> %s: %w", ev.OldPath, ev.Path, err)
	}

	r.cancels.ExpectRemoteEcho(ev.Path, "")
	r.cancels.ExpectRemoteEcho(ev.OldPath, "")

	return r.tree.Rename(ev.OldPath, ev.Path)
}

// UpdateAndDownload consumes a batch of RemoteEvents in server order,
// applying each to the local filesystem and the tree, and stops at the first
// event that fails. It does not touch the activity cursor: the caller (the
// control loop) advances and checkpoints it only after this returns nil.
func (r *Reconciler) UpdateAndDownload(ctx context.Context, batch []RemoteEvent) error {
	for _, ev := range batch {
		if err := r.applyRemoteEvent(ctx, ev); err != nil {
			return err
		}
	}

	return nil
}

func (r *Reconciler) applyRemoteEvent(ctx context.Context, ev RemoteEvent) error {
	if r.exclude != nil && r.exclude.Matches(ev.Path) {
		return nil
	}

	switch ev.Kind {
	case RemoteFileCreated, RemoteFileChanged:
		return r.applyRemoteWrite(ctx, ev)
	case RemoteFileDeleted:
		return r.applyRemoteDelete(ctx, ev)
	case RemoteFileRenamed:
		return r.applyRemoteRename(ctx, ev)
	default:
		return fmt.Errorf("syncengine: unknown remote event kind %v", ev.Kind)
	}
}

func (r *Reconciler) applyRemoteWrite(ctx context.Context, ev RemoteEvent) error {
	body, etag, err := r.remote.Get(ctx, ev.Path)
	if err != nil {
		return fmt.Errorf("syncengine: get %s: %w", ev.Path, err)
	}
	defer body.Close()

	if r.cancels.CheckRemoteEvent(ev.Path, etag) {
		r.logger.Debug("remote event suppressed by cancel token", slog.String("path", ev.Path))
		return nil
	}

	if ev.Stash {
		r.stashIfPresent(ev.Path)
	}

	h := sha256.New()
	n, err := r.local.WriteAtomic(ev.Path, io.TeeReader(body, h))
	if err != nil {
		return fmt.Errorf("syncengine: writing %s: %w", ev.Path, err)
	}

	// The watcher can only ever observe local content, never a WebDAV etag,
	// so the echo-suppression entry for this direction has to be keyed on a
	// hash of the bytes actually written, not the etag the server reported.
	r.cancels.ExpectLocalWrite(ev.Path, hex.EncodeToString(h.Sum(nil)))

	if err := r.tree.SetEtag(ev.Path, etag); err != nil {
		_ = r.tree.Insert(path.Dir(ev.Path), &tree.Entry{
			Name: path.Base(ev.Path), Kind: tree.KindFile, RemoteType: "file",
			ETag: etag, HasETag: true, Size: n, HasSize: true,
		})
	} else {
		_ = r.tree.SetSize(ev.Path, n)
	}

	return nil
}

func (r *Reconciler) applyRemoteDelete(ctx context.Context, ev RemoteEvent) error {
	if r.cancels.CheckRemoteEvent(ev.Path, "") {
		return nil
	}

	if ev.Stash {
		r.stashIfPresent(ev.Path)
	}

	if err := r.local.Remove(ev.Path); err != nil {
		return fmt.Errorf("syncengine: removing local %s: %w", ev.Path, err)
	}

	r.cancels.ExpectLocalDelete(ev.Path)
	_, _ = r.tree.Remove(ev.Path)

	return nil
}

func (r *Reconciler) applyRemoteRename(ctx context.Context, ev RemoteEvent) error {
	if err := r.local.Rename(ev.OldPath, ev.Path); err != nil {
		return fmt.Errorf("syncengine: renaming local %s -> %s: %w", ev.OldPath, ev.Path, err)
	}

	r.cancels.ExpectLocalDelete(ev.OldPath)
	r.cancels.ExpectLocalWrite(ev.Path, "")

	return r.tree.Rename(ev.OldPath, ev.Path)
}

// stashIfPresent preserves the local file at path under .stash/ before an
// explicit, stash-requested pull overwrites or removes it. Absence of the
// local file is not an error: there is nothing to preserve.
func (r *Reconciler) stashIfPresent(path string) {
	exists, err := r.local.Exists(path)
	if err != nil || !exists {
		return
	}

	stashPath, err := r.local.MoveToStash(path)
	if err != nil {
		r.logger.Warn("stash before pull overwrite failed",
			slog.String("path", path), slog.String("error", err.Error()))

		return
	}

	r.logger.Info("stashed local file before pull overwrite",
		slog.String("path", path), slog.String("stash_path", stashPath))
}

// recordConflict handles a remote-wins conflict detected during a local
// push (the PUT was rejected because the remote has moved on): it logs the
// conflict and records it in the audit ledger as remote-wins. It does not
// move or stash the local file; that happens only when a stash-requested
// pull later applies the remote version (see stashIfPresent).
func (r *Reconciler) recordConflict(ctx context.Context, localPath, localHash, remoteEtag string) error {
	r.logger.Warn("conflict detected: remote wins",
		slog.String("path", localPath),
		slog.String("local_hash", localHash),
	)

	if r.ledger != nil {
		if err := r.ledger.RecordConflict(ctx, localPath, localHash, remoteEtag); err != nil {
			r.logger.Error("failed to record conflict in ledger", slog.String("error", err.Error()))
		}
	}

	return nil
}

// hashToTemp copies content into an in-memory buffer while hashing it, so
// the same bytes can be both hashed and re-read for the upload body without
// requiring the source file to support Seek twice in a row under a single
// fd. Sufficient for the file sizes this daemon expects to handle; very
// large files would want a temp-file-backed variant instead.
func hashToTemp(r io.Reader) (hash string, size int64, buf *bytes.Reader, err error) {
	h := sha256.New()
	data, err := io.ReadAll(io.TeeReader(r, h))
	if err != nil {
		return "", 0, nil, err
	}

	return hex.EncodeToString(h.Sum(nil)), int64(len(data)), bytes.NewReader(data), nil
}
