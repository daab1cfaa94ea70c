package main

import (
	"github.com/franz/history-restorer/internal/store"
	"github.com/franz/history-restorer/internal/util"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Compare metadata and schema between consecutive snapshots",
	Long: `Compare the extracted metadata and schema files of each snapshot with the
previous snapshot that has them.

Differences are printed as unified diffs and recorded as divergences. They
never fail the command: a renamed sensor or a schema migration is expected
between some snapshots, but it should be understood before the output is
applied.`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	return s.track("check", func(run *store.Run) error {
		util.InfoLog("=== Checking snapshot consistency ===")
		divs, err := s.pipeline.Check()
		run.Divergences = len(divs)
		return err
	})
}
