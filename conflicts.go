package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ncsync/ncsync/internal/ledger"
)

// conflictHistoryLimit bounds how many rows `--history` returns, avoiding
// an unbounded dump of a long-lived daemon's entire audit trail.
const conflictHistoryLimit = 500

func newConflictsCmd() *cobra.Command {
	var history bool

	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List conflicts recorded in the audit ledger",
		Long: `Without --history, lists conflicts where the displaced local version was
stashed under .stash/ rather than discarded outright — the ones worth an
operator's attention. With --history, lists every recorded conflict,
including plain remote-wins overwrites.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConflicts(cmd, history)
		},
	}

	cmd.Flags().BoolVar(&history, "history", false, "show every recorded conflict, not just stashed ones")

	return cmd
}

func runConflicts(cmd *cobra.Command, history bool) error {
	cc := mustCLIContext(cmd.Context())

	led, err := ledger.Open(cc.Store.LedgerPath(), cc.Logger)
	if err != nil {
		return fmt.Errorf("opening audit ledger: %w", err)
	}
	defer led.Close()

	records, err := led.ListConflicts(cmd.Context(), conflictHistoryLimit)
	if err != nil {
		return fmt.Errorf("listing conflicts: %w", err)
	}

	if !history {
		filtered := records[:0]

		for _, r := range records {
			if r.Resolution == ledger.ResolutionStashed {
				filtered = append(filtered, r)
			}
		}

		records = filtered
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(records)
	}

	printConflicts(records)

	return nil
}

func printConflicts(records []ledger.ConflictRecord) {
	if len(records) == 0 {
		fmt.Println("No conflicts recorded.")
		return
	}

	headers := []string{"DETECTED", "PATH", "RESOLUTION", "STASH PATH"}

	rows := make([][]string, len(records))
	for i, r := range records {
		rows[i] = []string{formatTime(r.DetectedAt), r.Path, r.Resolution, r.StashPath}
	}

	printTable(os.Stdout, headers, rows)
}
