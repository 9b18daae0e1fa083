package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ncsync/ncsync/internal/localstore"
)

func newRepairCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "repair <soft|normal|hard>",
		Short:     "Run a repair protocol out of band",
		Long: `Invokes one of the three repair protocols directly, without a running
daemon: soft and normal fetch the remote activity feed and reconcile the
tree against it; hard fetches nothing, and instead discards the local
checkpoint and clears the local root, forcing a full remote walk the next time the
daemon starts.

Refuses to run while the daemon appears to hold its lock file, since
repairing out from under a live control loop would race its own writes.`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"soft", "normal", "hard"},
		RunE:      runRepair,
	}
}

func runRepair(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	lock, err := cc.Store.AcquireDaemonLock()
	if err != nil {
		if errors.Is(err, localstore.ErrAlreadyRunning) {
			return fmt.Errorf("daemon appears to be running against %s — stop it before repairing out of band", cc.Config.LocalRoot)
		}

		return err
	}
	defer lock.Release()

	comps, err := buildEngineComponents(cc)
	if err != nil {
		return err
	}
	defer comps.ledger.Close()

	ctx := cmd.Context()

	switch args[0] {
	case "soft":
		newCursor, _, err := comps.repairer.SoftRepair(ctx, comps.cursor, nil)
		if err != nil {
			return err
		}

		fmt.Printf("soft repair complete, cursor now %s\n", newCursor)

	case "normal":
		newCursor, err := comps.repairer.NormalRepair(ctx, comps.cursor)
		if err != nil {
			return err
		}

		fmt.Printf("normal repair complete, cursor now %s\n", newCursor)

	case "hard":
		if err := comps.repairer.HardRepair(ctx); err != nil {
			return err
		}

		fmt.Println("hard repair complete — local root cleared, next start will perform a full walk")

	default:
		return fmt.Errorf("unknown repair kind %q, want soft, normal, or hard", args[0])
	}

	return nil
}
