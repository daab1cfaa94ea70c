package main

import (
	"context"
	"fmt"

	"github.com/franz/history-restorer/internal/recorder"
	"github.com/franz/history-restorer/internal/util"
	"github.com/spf13/cobra"
)

var moveCmd = &cobra.Command{
	Use:   "move-data <old-sensor> <new-sensor>",
	Short: "Reassign the statistics of a renamed sensor to its new name",
	Long: `Move the long-term and short-term statistics of old-sensor to new-sensor.

Both sensors must exist exactly once in statistics_meta and the new sensor's
history must start strictly after the old sensor's history ends; otherwise
nothing is changed.

Without --modify this is a dry run that only reports what would move. With
--modify both tables are updated in a single transaction. Stop Home Assistant
before modifying its database.`,
	Args: cobra.ExactArgs(2),
	RunE: runMove,
}

func init() {
	rootCmd.AddCommand(moveCmd)

	moveCmd.Flags().String("database", "", "recorder database to modify (required)")
	moveCmd.Flags().Bool("modify", false, "apply the change (default is a dry run)")
	moveCmd.MarkFlagRequired("database")
}

func runMove(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	path, _ := cmd.Flags().GetString("database")
	modify, _ := cmd.Flags().GetBool("modify")

	open := recorder.OpenReadOnly
	if modify {
		open = recorder.Open
	}
	db, err := open(path)
	if err != nil {
		return err
	}
	defer db.Close()

	plan, err := db.PlanMove(ctx, args[0], args[1])
	if err != nil {
		return err
	}

	util.InfoLog("Moving %s (id %d) to %s (id %d)", plan.OldName, plan.OldID, plan.NewName, plan.NewID)
	for _, table := range recorder.MoveTables {
		util.InfoLog("  %s: %d rows", table, plan.Rows[table])
	}

	if !modify {
		util.InfoLog("")
		util.InfoLog("Dry run: nothing changed. Re-run with --modify to apply.")
		return nil
	}

	if err := db.ApplyMove(ctx, plan); err != nil {
		return fmt.Errorf("move failed, database unchanged: %w", err)
	}
	for _, table := range recorder.MoveTables {
		util.SuccessLog("Moved %d rows in %s", plan.Rows[table], table)
	}
	return nil
}
