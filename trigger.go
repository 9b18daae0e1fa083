package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ncsync/ncsync/pkg/ipc"
)

// Exit codes matching spec.md's trigger tool contract.
const (
	triggerExitOK              = 0
	triggerExitDaemonNotFound  = 1
	triggerExitInvalidArgument = 2
)

// triggerExitError carries one of the trigger tool's exit codes without
// printing a Go-flavored error wrapper for the common cases.
type triggerExitError struct {
	code int
	msg  string
}

func (e *triggerExitError) Error() string { return e.msg }

func newTriggerCmd() *cobra.Command {
	var recursive, stash bool

	cmd := &cobra.Command{
		Use:   "trigger <push|pull> <paths...>",
		Short: "Ask the running daemon to push or pull specific paths",
		Long: `Encodes one IPC envelope per path (after glob expansion) and delivers it
to the running daemon over its trigger socket. Exit code 0 on success, 1 if
no daemon is listening, 2 for an invalid argument.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrigger(cmd, args, recursive, stash)
		},
	}

	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "apply to the path and everything beneath it")
	cmd.Flags().BoolVarP(&stash, "stash", "s", false, "stash the current local version before a pull overwrites it")

	return cmd
}

func runTrigger(cmd *cobra.Command, args []string, recursive, stash bool) error {
	cc := mustCLIContext(cmd.Context())

	var kind ipc.Kind

	switch args[0] {
	case "push":
		kind = ipc.KindPush
	case "pull":
		kind = ipc.KindPull
	default:
		return &triggerExitError{code: triggerExitInvalidArgument, msg: fmt.Sprintf("unknown trigger kind %q, want push or pull", args[0])}
	}

	if kind != ipc.KindPull && stash {
		return &triggerExitError{code: triggerExitInvalidArgument, msg: "--stash only applies to pull"}
	}

	targets, err := expandTriggerPaths(args[1:])
	if err != nil {
		return &triggerExitError{code: triggerExitInvalidArgument, msg: err.Error()}
	}

	for _, target := range targets {
		// The daemon reads exactly one envelope per connection.
		conn, err := ipc.Dial(cc.Store.MetadataDir())
		if err != nil {
			return &triggerExitError{code: triggerExitDaemonNotFound, msg: "unable to locate running daemon: " + err.Error()}
		}

		env := ipc.Envelope{Kind: kind, Recursive: recursive, Stash: stash, Target: target}

		err = ipc.Send(conn, env)
		conn.Close()

		if err != nil {
			return &triggerExitError{code: triggerExitDaemonNotFound, msg: err.Error()}
		}
	}

	return nil
}

// expandTriggerPaths resolves each argument to an absolute path, expanding
// shell-style globs, matching the original trigger tool's "push <paths...>"
// semantics.
func expandTriggerPaths(args []string) ([]string, error) {
	var targets []string

	for _, arg := range args {
		matches, err := filepath.Glob(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid glob %q: %w", arg, err)
		}

		if len(matches) == 0 {
			matches = []string{arg}
		}

		for _, m := range matches {
			abs, err := filepath.Abs(m)
			if err != nil {
				return nil, fmt.Errorf("resolving %q: %w", m, err)
			}

			targets = append(targets, abs)
		}
	}

	return targets, nil
}

// triggerExitCode maps a runTrigger error to the process exit code spec.md
// assigns the trigger tool.
func triggerExitCode(err error) int {
	if err == nil {
		return triggerExitOK
	}

	var exitErr *triggerExitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}

	return triggerExitDaemonNotFound
}
