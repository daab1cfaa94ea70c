package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/franz/history-restorer/internal/check"
	"github.com/franz/history-restorer/internal/extract"
	"github.com/franz/history-restorer/internal/report"
	"github.com/franz/history-restorer/internal/store"
	"github.com/franz/history-restorer/internal/util"
)

// Summary collects what a full run did
type Summary struct {
	Restored    int
	Extract     *extract.Result
	Divergences []check.Divergence
	Merges      []MergeOutcome
	Output      *GenerateResult
	Duration    time.Duration
}

// Run executes every stage in order: restore, extract, check, merge, generate.
// Restore and output failures are fatal; failed snapshots are not.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	summary := &Summary{}

	util.InfoLog("=== Stage 1: Restore ===")
	restored, err := p.Restore(ctx)
	summary.Restored = restored
	if err != nil {
		return summary, err
	}

	util.InfoLog("")
	util.InfoLog("=== Stage 2: Extract ===")
	extracted, err := p.Extract(ctx)
	if err != nil {
		return summary, err
	}
	summary.Extract = extracted
	if len(extracted.Failed) > 0 {
		util.WarnLog("%d snapshots failed to extract and contribute nothing: %v", len(extracted.Failed), extracted.Failed)
	}

	util.InfoLog("")
	util.InfoLog("=== Stage 3: Check ===")
	divs, err := p.Check()
	summary.Divergences = divs
	if err != nil {
		return summary, err
	}

	util.InfoLog("")
	util.InfoLog("=== Stage 4: Merge ===")
	merges, err := p.Merge()
	summary.Merges = merges
	if err != nil {
		return summary, err
	}

	util.InfoLog("")
	util.InfoLog("=== Stage 5: Generate ===")
	out, err := p.Generate(ctx)
	if err != nil {
		return summary, err
	}
	summary.Output = out
	summary.Duration = time.Since(start)

	return summary, nil
}

// Track records one command in the run ledger and the event log.
// fn fills in the counters of the run it is given.
func Track(ledger *store.Store, logger *report.EventLogger, command string, fn func(run *store.Run) error) error {
	id := logger.RunID()
	if id == "" {
		id = report.NewRunID()
	}
	run := &store.Run{ID: id, Command: command}

	if err := ledger.StartRun(run); err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	logger.LogRun(command, "start", nil)

	err := fn(run)

	run.Status = store.RunSucceeded
	if err != nil {
		run.Status = store.RunFailed
		run.Error = err.Error()
	}
	if ferr := ledger.FinishRun(run); ferr != nil {
		util.WarnLog("Failed to finish run record: %v", ferr)
	}
	logger.LogRun(command, "finish", err)

	return err
}

// Fill copies the counters of a summary into a run record
func (s *Summary) Fill(run *store.Run) {
	run.Divergences = len(s.Divergences)
	if s.Output != nil {
		s.Output.Fill(run)
	}
}

// Fill copies the counters of a generated script into a run record
func (g *GenerateResult) Fill(run *store.Run) {
	run.Output = g.Output
	run.Statements = g.Statements
	run.Comments = g.Comments
	run.Malformed = g.Stats.Malformed
	run.Warnings = g.Stats.Warnings
}
