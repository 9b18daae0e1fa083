package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/spf13/cobra"

	"github.com/ncsync/ncsync/internal/localstore"
	"github.com/ncsync/ncsync/internal/syncengine"
	"github.com/ncsync/ncsync/pkg/ipc"
)

// engineCmdBufferSize bounds the control loop's externally-fed command
// channel (IPC triggers, in this CLI).
const engineCmdBufferSize = 16

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the sync daemon in the foreground",
		Long: `Starts the control loop: watches the local sync directory, polls the
remote account's activity feed, and keeps both sides convergent. Runs
until SIGINT/SIGTERM, restarting its internal loop whenever conf.ini or
the exclude list changes.`,
		RunE: runRun,
	}
}

func runRun(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	lock, err := cc.Store.AcquireDaemonLock()
	if err != nil {
		if errors.Is(err, localstore.ErrAlreadyRunning) {
			return fmt.Errorf("another daemon instance is already running against %s", cc.Config.LocalRoot)
		}

		return err
	}
	defer lock.Release()

	ctx := shutdownContext(cmd.Context(), cc.Logger)

	for {
		restart, err := runOneGeneration(ctx, cc)
		if err != nil {
			return err
		}

		if !restart {
			return nil
		}

		if ctx.Err() != nil {
			return nil
		}

		cc.Logger.Info("restarting control loop")
	}
}

// runOneGeneration builds fresh collaborators from the current conf.ini and
// exclude list and runs the control loop until it exits, returning whether
// the caller should build everything again (a config/exclude-file change,
// or a hard_repair asking for a full re-walk) and start a new generation.
func runOneGeneration(ctx context.Context, cc *CLIContext) (restart bool, err error) {
	comps, err := buildEngineComponents(cc)
	if err != nil {
		return false, err
	}
	defer comps.ledger.Close()

	if comps.fresh {
		cc.Logger.Info("no checkpoint found, performing full remote walk")

		if err := syncengine.Bootstrap(ctx, comps.remote, comps.tree); err != nil {
			return false, fmt.Errorf("bootstrapping tree: %w", err)
		}
	}

	engine := syncengine.NewEngine(
		comps.tree,
		comps.remote,
		comps.store,
		comps.recon,
		comps.persist,
		comps.repairer,
		comps.cancels,
		comps.exclude,
		cc.Logger,
		engineCmdBufferSize,
		cc.ConfigPath,
		comps.store.ExcludeFilePath(),
	)

	listener, err := ipc.Listen(comps.store.MetadataDir())
	if err != nil {
		return false, fmt.Errorf("listening for trigger connections: %w", err)
	}
	defer listener.Close()

	go serveTriggerListener(ctx, listener, engine, cc.Logger)

	return engine.Run(ctx, comps.cursor)
}

// serveTriggerListener accepts trigger connections and submits each decoded
// envelope as a pull request command, until ctx is canceled.
func serveTriggerListener(ctx context.Context, listener net.Listener, engine *syncengine.Engine, logger *slog.Logger) {
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			logger.Warn("trigger listener accept failed", "error", err)
			continue
		}

		go handleTriggerConn(ctx, conn, engine, logger)
	}
}

func handleTriggerConn(ctx context.Context, conn net.Conn, engine *syncengine.Engine, logger *slog.Logger) {
	defer conn.Close()

	env, err := ipc.Receive(conn)
	if err != nil {
		logger.Debug("rejected malformed trigger payload", "error", err)
		return
	}

	cmd := syncengine.Command{
		Kind:          syncengine.CmdPullRequest,
		PullPath:      env.Target,
		PullRecursive: env.Recursive,
		PullStash:     env.Stash,
		PullIsPush:    env.Kind == ipc.KindPush,
	}

	if err := engine.Submit(ctx, cmd); err != nil {
		logger.Warn("dropping trigger request", "path", env.Target, "error", err)
	}
}
