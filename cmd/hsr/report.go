package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/franz/history-restorer/internal/report"
	"github.com/franz/history-restorer/internal/store"
	"github.com/franz/history-restorer/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate a summary report from the state database and event logs",
	Long: `Generate a summary report in Markdown format.

The report includes:
- Snapshot status (restored, extracted, failed)
- Files produced per stage
- Recent runs with their statement and warning counts
- Divergences and top errors from the event log

The report is saved to <work_dir>/reports/<timestamp>/summary.md`,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	// Report-specific flags
	reportCmd.Flags().String("out", "", "Output directory for report (default: <work_dir>/reports/<timestamp>)")
	reportCmd.Flags().String("event-log", "", "Path to event log file (optional)")
}

func runReport(cmd *cobra.Command, args []string) error {
	dbPath := viper.GetString("db")

	util.InfoLog("=== Generating Summary Report ===")
	util.InfoLog("Database: %s", dbPath)

	db, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	eventLogPath, _ := cmd.Flags().GetString("event-log")

	util.InfoLog("Analyzing data...")
	summary, err := report.GenerateSummaryReport(db, eventLogPath)
	if err != nil {
		return fmt.Errorf("failed to generate report: %w", err)
	}
	summary.DatabasePath = dbPath

	outputDir, _ := cmd.Flags().GetString("out")
	if outputDir == "" {
		timestamp := time.Now().Format("20060102-150405")
		outputDir = filepath.Join(viper.GetString("work_dir"), "reports", timestamp)
	}
	outputPath := filepath.Join(outputDir, "summary.md")

	util.InfoLog("Writing report to: %s", outputPath)
	if err := report.WriteMarkdownReport(summary, outputPath); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	util.SuccessLog("Report generated successfully!")
	util.InfoLog("")
	util.InfoLog("Summary:")
	util.InfoLog("  Snapshots: %d", len(summary.Snapshots))
	if summary.SnapshotsFailed > 0 {
		util.WarnLog("  Failed snapshots: %d", summary.SnapshotsFailed)
	}
	for _, stage := range []string{store.StageExtract, store.StageMerge, store.StageOutput} {
		if totals, ok := summary.Artifacts[stage]; ok {
			util.InfoLog("  %s: %d files, %s", stage, totals[0], util.FormatBytes(totals[1]))
		}
	}
	if len(summary.Divergences) > 0 {
		util.WarnLog("  Divergences: %d", len(summary.Divergences))
	}
	if len(summary.Runs) > 0 {
		last := summary.Runs[0]
		util.InfoLog("  Last run: %s %s (%d statements)", last.Command, last.Status, last.Statements)
	}

	return nil
}
