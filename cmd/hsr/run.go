package main

import (
	"context"
	"time"

	"github.com/franz/history-restorer/internal/store"
	"github.com/franz/history-restorer/internal/util"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every stage: restore, extract, check, merge, generate",
	Long: `Run the whole pipeline in order.

Completed work from earlier runs is reused, so an interrupted run can simply
be started again. --force extracts and merges everything again. A failed restore or a failed write of the script stops the
run; a snapshot that cannot be extracted only loses its own contribution.`,
	RunE: runAll,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().Bool("force", false, "ignore recorded extracts and merged files")
}

func runAll(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	force, _ := cmd.Flags().GetBool("force")

	return s.track("run", func(run *store.Run) error {
		if force {
			if err := s.pipeline.Invalidate(store.StageExtract, store.StageMerge); err != nil {
				return err
			}
		}
		util.InfoLog("Snapshots: %s", snapshotIDs(s.pipeline.SnapshotIDs()))

		summary, err := s.pipeline.Run(context.Background())
		summary.Fill(run)
		if err != nil {
			return err
		}

		util.InfoLog("")
		util.SuccessLog("=== Run Summary ===")
		util.InfoLog("Total time: %v", summary.Duration.Round(time.Millisecond))
		if summary.Restored > 0 {
			util.InfoLog("Snapshots restored: %d", summary.Restored)
		}
		if n := len(summary.Extract.Failed); n > 0 {
			util.WarnLog("Snapshots failed: %s", snapshotIDs(summary.Extract.Failed))
		}
		if n := len(summary.Divergences); n > 0 {
			util.WarnLog("Divergences: %d (run 'hsr check' to review)", n)
		}
		printOutput(summary.Output)

		util.InfoLog("")
		util.InfoLog("Next step: review %s, stop Home Assistant and apply it with sqlite3", summary.Output.Output)
		return nil
	})
}
