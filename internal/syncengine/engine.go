package syncengine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/ncsync/ncsync/internal/cancelregistry"
	"github.com/ncsync/ncsync/internal/excludelist"
	"github.com/ncsync/ncsync/internal/localstore"
	"github.com/ncsync/ncsync/internal/tree"
	"github.com/ncsync/ncsync/internal/webdav"
)

// NetworkStatus tags whether the control loop currently believes the remote
// is reachable.
type NetworkStatus int

const (
	NetworkConnected NetworkStatus = iota
	NetworkDisconnected
)

// offlineQueueCapacity bounds how many local events the loop buffers while
// disconnected before it starts logging (and dropping) overflow, so a long
// outage cannot grow the queue without bound.
const offlineQueueCapacity = 100_000

// Engine is the single-consumer control loop (C9): it owns the command
// channel every other goroutine feeds, the current network status, and the
// offline event queue, and drives the reconciler/repairer/persistence
// collaborators in response to each command.
type Engine struct {
	tree     *tree.Tree
	remote   *webdav.Client
	local    *localstore.Store
	recon    *Reconciler
	persist  *Persistence
	repairer *Repairer
	cancels  *cancelregistry.Registry
	exclude  *excludelist.List
	logger   *slog.Logger

	configPath  string
	excludePath string

	cmds chan Command
}

// NewEngine creates an Engine wired to the given collaborators. cmdBufferSize
// bounds how many in-flight commands the channel itself can hold; 0 selects
// an unbuffered channel. configPath/excludePath are the on-disk conf.ini and
// exclude-list locations to watch for out-of-band edits; either may be left
// empty to skip watching it (used by tests that don't exercise restart).
func NewEngine(
	t *tree.Tree,
	remote *webdav.Client,
	local *localstore.Store,
	recon *Reconciler,
	persist *Persistence,
	repairer *Repairer,
	cancels *cancelregistry.Registry,
	exclude *excludelist.List,
	logger *slog.Logger,
	cmdBufferSize int,
	configPath, excludePath string,
) *Engine {
	return &Engine{
		tree:        t,
		remote:      remote,
		local:       local,
		recon:       recon,
		persist:     persist,
		repairer:    repairer,
		cancels:     cancels,
		exclude:     exclude,
		logger:      logger,
		configPath:  configPath,
		excludePath: excludePath,
		cmds:        make(chan Command, cmdBufferSize),
	}
}

// Submit enqueues a command from outside the loop (the IPC listener, a
// SIGHUP handler, etc.). Blocks if the channel is unbuffered or full; callers
// needing a non-blocking send should select on ctx.Done() alongside it.
func (e *Engine) Submit(ctx context.Context, cmd Command) error {
	select {
	case e.cmds <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the control loop until a Terminate or Error command, or until
// ctx is canceled. startCursor is the activity cursor to resume from (the
// empty string for a fresh start). It returns whether the caller should
// restart the loop (a fresh Engine, typically after re-reading config or
// after a normal/hard repair) and the terminal error, if any.
func (e *Engine) Run(ctx context.Context, startCursor string) (restart bool, err error) {
	loopCtx, cancelLoop := context.WithCancel(ctx)
	defer cancelLoop()

	group, groupCtx := errgroup.WithContext(loopCtx)

	localEvents := make(chan []LocalEvent, 1)
	remoteBatches := make(chan RemoteBatch, 1)
	onlineTransitions := make(chan bool, 1)
	configChanges := make(chan CommandKind, 1)

	watcher := NewWatcher(e.local.Root(), e.local.MetadataDir(), e.exclude, e.logger)
	poller := NewActivityPoller(e.remote, e.logger)
	prober := NewOnlineProber(e.remote, e.logger)

	group.Go(func() error { return watcher.Run(groupCtx, localEvents) })
	group.Go(func() error { return poller.Run(groupCtx, startCursor, remoteBatches) })
	group.Go(func() error { return prober.Run(groupCtx, onlineTransitions) })

	if e.configPath != "" || e.excludePath != "" {
		configWatcher := NewConfigWatcher(e.configPath, e.excludePath, e.logger)
		group.Go(func() error { return configWatcher.Run(groupCtx, configChanges) })
	}

	status := NetworkConnected
	cursor := startCursor

	var offline []LocalEvent

	var loopErr error

	var seq uint64

	var hardRepaired bool

drain:
	for {
		select {
		case <-groupCtx.Done():
			break drain

		case batch, ok := <-localEvents:
			if !ok {
				localEvents = nil
				continue
			}

			for _, ev := range batch {
				seq++
				ev.Seq = seq

				restartReq, stop := e.handleLocalEvent(groupCtx, &status, &offline, ev)
				if stop {
					restart = restartReq
					break drain
				}
			}

		case rb, ok := <-remoteBatches:
			if !ok {
				remoteBatches = nil
				continue
			}

			restartReq, stop := e.handleRemoteBatch(groupCtx, &status, &cursor, rb)
			if stop {
				restart = restartReq
				break drain
			}

		case online, ok := <-onlineTransitions:
			if !ok {
				onlineTransitions = nil
				continue
			}

			newCursor, restartReq, stop := e.handleNetworkTransition(groupCtx, &status, &offline, cursor, online)
			cursor = newCursor

			if stop {
				restart = restartReq
				break drain
			}

		case cmd, ok := <-e.cmds:
			if !ok {
				e.cmds = nil
				continue
			}

			newCursor, restartReq, stop, handleErr := e.handleCommand(groupCtx, &status, &offline, cursor, cmd)
			cursor = newCursor

			if handleErr != nil {
				loopErr = handleErr
			}

			if cmd.Kind == CmdHardRepair && handleErr == nil {
				hardRepaired = true
			}

			if stop {
				restart = restartReq
				break drain
			}

		case kind, ok := <-configChanges:
			if !ok {
				configChanges = nil
				continue
			}

			e.logger.Info("on-disk config change detected, restarting control loop", slog.Int("kind", int(kind)))

			newCursor, restartReq, stop, _ := e.handleCommand(groupCtx, &status, &offline, cursor, Command{Kind: kind})
			cursor = newCursor

			if stop {
				restart = restartReq
				break drain
			}
		}
	}

	cancelLoop()

	if waitErr := group.Wait(); waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		e.logger.Warn("supervised goroutine exited with error", slog.String("error", waitErr.Error()))
	}

	// A successful hard repair has just deleted the snapshot so that the next
	// generation re-walks the remote; writing it again here would undo that.
	if hardRepaired {
		return restart, loopErr
	}

	if saveErr := e.persist.Save(e.tree, cursor); saveErr != nil {
		e.logger.Error("final checkpoint failed", slog.String("error", saveErr.Error()))

		if loopErr == nil {
			loopErr = saveErr
		}
	}

	return restart, loopErr
}

// handleLocalEvent applies the Command×network-state table's LocEvent row:
// reconcile immediately while connected, buffer while disconnected.
func (e *Engine) handleLocalEvent(ctx context.Context, status *NetworkStatus, offline *[]LocalEvent, ev LocalEvent) (restart, stop bool) {
	if *status == NetworkDisconnected {
		if len(*offline) >= offlineQueueCapacity {
			e.logger.Warn("offline queue full, dropping local event", slog.String("path", ev.Path))
			return false, false
		}

		*offline = append(*offline, ev)

		return false, false
	}

	if err := e.recon.DealLocalEvent(ctx, ev); err != nil {
		e.logger.Error("reconciling local event failed", slog.String("path", ev.Path), slog.String("error", err.Error()))
	}

	return false, false
}

// handleRemoteBatch applies the NCEvents row: while connected, reconcile the
// batch and, only if that succeeded, advance the cursor and checkpoint the
// tree. A failed batch leaves the cursor where it was. A remote batch that
// arrives while the loop considers itself disconnected (the poller does not
// track network status) is logged and dropped.
func (e *Engine) handleRemoteBatch(ctx context.Context, status *NetworkStatus, cursor *string, rb RemoteBatch) (restart, stop bool) {
	if *status == NetworkDisconnected {
		e.logger.Warn("remote batch observed while disconnected, ignoring", slog.Int("count", len(rb.Events)))
		return false, false
	}

	if err := e.recon.UpdateAndDownload(ctx, rb.Events); err != nil {
		e.logger.Error("applying remote batch failed", slog.String("error", err.Error()))
		return false, false
	}

	*cursor = rb.Cursor

	if err := e.persist.Save(e.tree, *cursor); err != nil {
		e.logger.Warn("checkpoint after remote batch failed", slog.String("error", err.Error()))
	}

	return false, false
}

// handleNetworkTransition applies the NetworkConnect/NetworkDisconnect rows.
func (e *Engine) handleNetworkTransition(ctx context.Context, status *NetworkStatus, offline *[]LocalEvent, cursor string, online bool) (newCursor string, restart, stop bool) {
	if online {
		if *status == NetworkConnected {
			return cursor, false, false
		}

		newCursor, rerun, err := e.repairer.SoftRepair(ctx, cursor, *offline)
		*offline = nil
		*status = NetworkConnected

		if err != nil || rerun {
			if err != nil {
				e.logger.Error("soft repair failed, requesting restart", slog.String("error", err.Error()))
			} else {
				e.logger.Warn("soft repair requested a restart")
			}

			return newCursor, true, true
		}

		return newCursor, false, false
	}

	if *status == NetworkDisconnected {
		return cursor, false, false
	}

	e.cancels.Clear()
	*status = NetworkDisconnected

	return cursor, false, false
}

// handleCommand applies the remaining rows of the table: pull requests,
// exclude/config reload, named repairs, and termination.
func (e *Engine) handleCommand(ctx context.Context, status *NetworkStatus, offline *[]LocalEvent, cursor string, cmd Command) (newCursor string, restart, stop bool, err error) {
	switch cmd.Kind {
	case CmdPullRequest:
		if *status == NetworkDisconnected {
			e.logger.Warn("pull request deferred: disconnected", slog.String("path", cmd.PullPath))
			return cursor, false, false, nil
		}

		if pullErr := e.handlePullRequest(ctx, cmd); pullErr != nil {
			e.logger.Error("pull request failed", slog.String("path", cmd.PullPath), slog.String("error", pullErr.Error()))
		}

		return cursor, false, false, nil

	case CmdUpdateExcludeFile, CmdUpdateConfigFile:
		return cursor, true, true, nil

	case CmdNormalRepair:
		newCursor, repairErr := e.repairer.NormalRepair(ctx, cursor)
		if repairErr != nil {
			e.logger.Error("normal repair failed", slog.String("error", repairErr.Error()))
			return cursor, true, true, repairErr
		}

		return newCursor, true, true, nil

	case CmdHardRepair:
		if repairErr := e.repairer.HardRepair(ctx); repairErr != nil {
			e.logger.Error("hard repair failed", slog.String("error", repairErr.Error()))
			return cursor, true, true, repairErr
		}

		return cursor, true, true, nil

	case CmdTerminate:
		return cursor, cmd.Restart, true, nil

	case CmdError:
		return cursor, false, true, cmd.Err

	default:
		e.logger.Warn("unhandled command kind", slog.Int("kind", int(cmd.Kind)))
		return cursor, false, false, nil
	}
}

func (e *Engine) handlePullRequest(ctx context.Context, cmd Command) error {
	// Trigger envelopes carry absolute local paths; the tree and the
	// reconciler work on root-relative ones.
	if rel, err := filepath.Rel(e.local.Root(), cmd.PullPath); err == nil && filepath.IsLocal(rel) {
		cmd.PullPath = filepath.ToSlash(filepath.Join("/", rel))
	}

	if cmd.PullIsPush {
		return e.pushSubtree(ctx, cmd)
	}

	return e.pullSubtree(ctx, cmd)
}

func (e *Engine) pullSubtree(ctx context.Context, cmd Command) error {
	if !cmd.PullRecursive {
		return e.recon.UpdateAndDownload(ctx, []RemoteEvent{{Kind: RemoteFileChanged, Path: cmd.PullPath, Stash: cmd.PullStash}})
	}

	resources, err := e.remote.Walk(ctx, cmd.PullPath)
	if err != nil {
		return fmt.Errorf("syncengine: walking remote subtree %s: %w", cmd.PullPath, err)
	}

	batch := make([]RemoteEvent, 0, len(resources))
	for _, res := range resources {
		if res.IsDir {
			continue
		}

		batch = append(batch, RemoteEvent{Kind: RemoteFileChanged, Path: res.Path, Stash: cmd.PullStash})
	}

	return e.recon.UpdateAndDownload(ctx, batch)
}

func (e *Engine) pushSubtree(ctx context.Context, cmd Command) error {
	if !cmd.PullRecursive {
		return e.recon.DealLocalEvent(ctx, LocalEvent{Kind: LocalModify, Path: cmd.PullPath})
	}

	absRoot := e.local.AbsPath(cmd.PullPath)

	var walkErr error

	_ = filepath.WalkDir(absRoot, func(fsPath string, d fs.DirEntry, err error) error {
		if err != nil {
			walkErr = err
			return nil
		}

		if d.IsDir() {
			return nil
		}

		rel, relErr := filepath.Rel(e.local.Root(), fsPath)
		if relErr != nil {
			return nil
		}

		relPath := "/" + filepath.ToSlash(rel)

		if dealErr := e.recon.DealLocalEvent(ctx, LocalEvent{Kind: LocalModify, Path: relPath}); dealErr != nil {
			e.logger.Error("pushing file during recursive push failed", slog.String("path", relPath), slog.String("error", dealErr.Error()))
		}

		return nil
	})

	if walkErr != nil && !os.IsNotExist(walkErr) {
		return fmt.Errorf("syncengine: walking local subtree %s: %w", cmd.PullPath, walkErr)
	}

	return nil
}
