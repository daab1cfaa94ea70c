package main

import (
	"context"

	"github.com/franz/history-restorer/internal/store"
	"github.com/franz/history-restorer/internal/util"
	"github.com/spf13/cobra"
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore snapshot databases that are not on disk yet",
	Long: `Run the configured restore command for every snapshot whose directory
has no recorder database.

The command is taken from snapshots.restore_command and split on whitespace;
{id}, {dir} and {path} are replaced with the snapshot id, its directory and
the expected database path. The first failure stops the restore.`,
	RunE: runRestore,
}

func init() {
	rootCmd.AddCommand(restoreCmd)
}

func runRestore(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	return s.track("restore", func(run *store.Run) error {
		util.InfoLog("=== Restoring snapshots ===")
		util.InfoLog("Snapshot directory: %s", s.cfg.Snapshots.Dir)

		restored, err := s.pipeline.Restore(context.Background())
		if err != nil {
			return err
		}
		util.SuccessLog("Restored %d snapshots", restored)
		return nil
	})
}
