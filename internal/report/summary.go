package report

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/franz/history-restorer/internal/store"
	"github.com/franz/history-restorer/internal/util"
	"github.com/goccy/go-json"
)

// SummaryReport represents a complete summary report
type SummaryReport struct {
	GeneratedAt time.Time

	// Snapshot statistics
	Snapshots       []*store.SnapshotRecord
	SnapshotsFailed int

	// Artifact statistics per stage: count and total bytes
	Artifacts map[string][2]int64

	// Recent runs, newest first
	Runs []*store.Run

	// Details
	TopErrors   []ErrorSummary
	Divergences []DivergenceInfo

	// Metadata
	DatabasePath string
	EventLogPath string
}

// ErrorSummary represents an error with its count
type ErrorSummary struct {
	Error string
	Count int
}

// DivergenceInfo is a metadata or schema difference seen in the event log
type DivergenceInfo struct {
	Dataset  string
	Previous string
	Current  string
	Lines    int64
}

// GenerateSummaryReport creates a summary report from the ledger and,
// when eventLogPath is set, the event log of a run.
func GenerateSummaryReport(db *store.Store, eventLogPath string) (*SummaryReport, error) {
	report := &SummaryReport{
		GeneratedAt:  time.Now(),
		EventLogPath: eventLogPath,
		TopErrors:    make([]ErrorSummary, 0),
		Divergences:  make([]DivergenceInfo, 0),
	}

	snapshots, err := db.ListSnapshots()
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	report.Snapshots = snapshots
	for _, s := range snapshots {
		if s.Status == store.SnapshotRestoreFailed || s.Status == store.SnapshotExtractFailed {
			report.SnapshotsFailed++
		}
	}

	report.Artifacts, err = db.ArtifactTotals()
	if err != nil {
		return nil, fmt.Errorf("failed to count artifacts: %w", err)
	}

	report.Runs, err = db.ListRuns(10)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	errorCounts := make(map[string]int)
	for _, s := range snapshots {
		if s.Error != "" {
			errorCounts[s.Error]++
		}
	}
	for _, r := range report.Runs {
		if r.Error != "" {
			errorCounts[r.Error]++
		}
	}

	if eventLogPath != "" {
		if err := scanEventLog(eventLogPath, report, errorCounts); err != nil {
			util.WarnLog("Could not read event log %s: %v", eventLogPath, err)
		}
	}

	report.TopErrors = topErrors(errorCounts, 10)
	return report, nil
}

// scanEventLog collects error messages and divergences from a JSONL event log
func scanEventLog(path string, report *SummaryReport, errorCounts map[string]int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		if ev.Error != "" {
			errorCounts[ev.Error]++
		}
		if ev.Event == EventCheck {
			report.Divergences = append(report.Divergences, DivergenceInfo{
				Dataset:  ev.Dataset,
				Previous: ev.Extra["previous"],
				Current:  ev.Snapshot,
				Lines:    ev.Rows,
			})
		}
	}
	return scanner.Err()
}

// topErrors sorts error messages by count, most frequent first
func topErrors(counts map[string]int, limit int) []ErrorSummary {
	errors := make([]ErrorSummary, 0, len(counts))
	for err, count := range counts {
		errors = append(errors, ErrorSummary{Error: err, Count: count})
	}

	sort.Slice(errors, func(i, j int) bool {
		if errors[i].Count != errors[j].Count {
			return errors[i].Count > errors[j].Count
		}
		return errors[i].Error < errors[j].Error
	})

	if len(errors) > limit {
		errors = errors[:limit]
	}
	return errors
}

// WriteMarkdownReport writes the summary report as Markdown
func WriteMarkdownReport(report *SummaryReport, outputPath string) error {
	f, err := util.CreateAtomic(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	if _, err := f.Write([]byte(RenderMarkdown(report))); err != nil {
		f.Abort()
		return fmt.Errorf("failed to write report: %w", err)
	}
	return f.Commit()
}

// RenderMarkdown renders the summary report as Markdown
func RenderMarkdown(report *SummaryReport) string {
	var md strings.Builder

	md.WriteString("# History Statistics Restorer - Summary Report\n\n")
	md.WriteString(fmt.Sprintf("**Generated:** %s\n\n", report.GeneratedAt.Format("2006-01-02 15:04:05")))

	if report.DatabasePath != "" {
		md.WriteString(fmt.Sprintf("**Ledger:** `%s`\n\n", report.DatabasePath))
	}
	if report.EventLogPath != "" {
		md.WriteString(fmt.Sprintf("**Event Log:** `%s`\n\n", filepath.Base(report.EventLogPath)))
	}

	md.WriteString("---\n\n")

	// Overview
	md.WriteString("## Overview\n\n")
	md.WriteString("| Metric | Value |\n")
	md.WriteString("|--------|-------|\n")
	md.WriteString(fmt.Sprintf("| Snapshots | %d |\n", len(report.Snapshots)))
	if report.SnapshotsFailed > 0 {
		md.WriteString(fmt.Sprintf("| Snapshots Failed | %d |\n", report.SnapshotsFailed))
	}
	for _, stage := range []string{store.StageExtract, store.StageMerge, store.StageOutput} {
		if totals, ok := report.Artifacts[stage]; ok {
			md.WriteString(fmt.Sprintf("| %s Artifacts | %d (%s) |\n",
				strings.ToUpper(stage[:1])+stage[1:], totals[0], util.FormatBytes(totals[1])))
		}
	}
	md.WriteString("\n")

	// Snapshots
	if len(report.Snapshots) > 0 {
		md.WriteString("## Snapshots\n\n")
		md.WriteString("| Snapshot | Status | Error |\n")
		md.WriteString("|----------|--------|-------|\n")
		for _, s := range report.Snapshots {
			md.WriteString(fmt.Sprintf("| %s | %s | %s |\n", s.ID, s.Status, s.Error))
		}
		md.WriteString("\n")
	}

	// Runs
	if len(report.Runs) > 0 {
		md.WriteString("## Recent Runs\n\n")
		md.WriteString("| Started | Command | Status | Statements | Malformed | Warnings | Divergences |\n")
		md.WriteString("|---------|---------|--------|------------|-----------|----------|-------------|\n")
		for _, r := range report.Runs {
			md.WriteString(fmt.Sprintf("| %s | %s | %s | %d | %d | %d | %d |\n",
				r.StartedAt.Local().Format("2006-01-02 15:04"), r.Command, r.Status,
				r.Statements, r.Malformed, r.Warnings, r.Divergences))
		}
		md.WriteString("\n")
	}

	// Divergences
	if len(report.Divergences) > 0 {
		md.WriteString("## Divergences\n\n")
		md.WriteString("| Dataset | Between | Changed Lines |\n")
		md.WriteString("|---------|---------|---------------|\n")
		for _, d := range report.Divergences {
			md.WriteString(fmt.Sprintf("| %s | %s → %s | %d |\n", d.Dataset, d.Previous, d.Current, d.Lines))
		}
		md.WriteString("\n")
	}

	// Errors
	if len(report.TopErrors) > 0 {
		md.WriteString("## Top Errors\n\n")
		md.WriteString("| Count | Error |\n")
		md.WriteString("|-------|-------|\n")
		for _, err := range report.TopErrors {
			md.WriteString(fmt.Sprintf("| %d | %s |\n", err.Count, truncate(err.Error, 120)))
		}
		md.WriteString("\n")
	}

	md.WriteString("---\n\n")
	md.WriteString("*Generated by hsr - History Statistics Restorer*\n")

	return md.String()
}

// truncate shortens text to maxLen, keeping start and end
func truncate(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	start := maxLen/2 - 2
	end := len(text) - (maxLen/2 - 2)
	return text[:start] + "..." + text[end:]
}
