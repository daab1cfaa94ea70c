package main

import (
	"github.com/franz/history-restorer/internal/store"
	"github.com/franz/history-restorer/internal/util"
	"github.com/spf13/cobra"
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge the per-snapshot histories into one ordered file per dataset",
	Long: `Concatenate the extracts of every snapshot, drop duplicate lines and sort
them by timestamp (sensor states) or row id (tables).

A merged file is rebuilt only when the extracts it was built from changed,
or always with --force. Snapshots without an extract are skipped with a
warning.`,
	RunE: runMerge,
}

func init() {
	rootCmd.AddCommand(mergeCmd)

	mergeCmd.Flags().Bool("force", false, "rebuild merged files even if they are up to date")
}

func runMerge(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	force, _ := cmd.Flags().GetBool("force")

	return s.track("merge", func(run *store.Run) error {
		util.InfoLog("=== Merging histories ===")
		if force {
			if err := s.pipeline.Invalidate(store.StageMerge); err != nil {
				return err
			}
		}
		outcomes, err := s.pipeline.Merge()
		if err != nil {
			return err
		}

		merged, skipped := 0, 0
		for _, o := range outcomes {
			if o.Skipped {
				skipped++
			} else {
				merged++
			}
		}
		util.SuccessLog("Merged %d datasets (%d up to date)", merged, skipped)
		return nil
	})
}
