package main

import (
	"context"

	"github.com/franz/history-restorer/internal/pipeline"
	"github.com/franz/history-restorer/internal/store"
	"github.com/franz/history-restorer/internal/util"
	"github.com/spf13/cobra"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Write the SQL script that restores the merged history",
	Long: `Reconcile the merged files into an SQL script.

Sensor histories become one INSERT OR IGNORE per destination statistic and
hourly bucket; the first value of a bucket wins. Configured tables are copied
row by row with INSERT OR REPLACE, remapping their identifier column.

Lines that cannot be used are kept as comments in the script. The script is
deterministic: the same merged input always produces the same bytes.`,
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	return s.track("generate", func(run *store.Run) error {
		util.InfoLog("=== Generating restore script ===")
		result, err := s.pipeline.Generate(context.Background())
		if err != nil {
			return err
		}
		result.Fill(run)
		printOutput(result)
		return nil
	})
}

func printOutput(result *pipeline.GenerateResult) {
	util.SuccessLog("Wrote %s (%s)", result.Output, util.FormatBytes(result.Bytes))
	util.InfoLog("  Records: %d", result.Stats.Records)
	util.InfoLog("  Statements: %d", result.Statements)
	util.InfoLog("  Duplicate buckets skipped: %d", result.Stats.Duplicates)
	if result.Stats.Dropped > 0 {
		util.InfoLog("  Dropped by remap: %d", result.Stats.Dropped)
	}
	if result.Stats.Malformed > 0 {
		util.WarnLog("  Malformed lines: %d (see comments in the script)", result.Stats.Malformed)
	}
	if result.Stats.Warnings > 0 {
		util.WarnLog("  Histories not starting at zero: %d", result.Stats.Warnings)
	}
}
