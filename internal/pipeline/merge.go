package pipeline

import (
	"crypto/sha1"
	"fmt"
	"time"

	"github.com/franz/history-restorer/internal/extract"
	"github.com/franz/history-restorer/internal/merge"
	"github.com/franz/history-restorer/internal/store"
	"github.com/franz/history-restorer/internal/util"
)

// MergeOutcome is the result of merging one dataset
type MergeOutcome struct {
	Dataset extract.Dataset
	Path    string
	Skipped bool          // ledger says the merged file is current
	Result  *merge.Result // nil when skipped
}

// Merge builds one merged file per states and table dataset.
// A merged file is rebuilt when the extracts it was built from change.
func (p *Pipeline) Merge() ([]MergeOutcome, error) {
	var outcomes []MergeOutcome

	for _, d := range p.Datasets() {
		if !d.Merged() {
			continue
		}

		inputs := make([]string, 0, len(p.snapshots.IDs()))
		for _, id := range p.snapshots.IDs() {
			inputs = append(inputs, extract.Path(p.cfg.WorkDir, id, d))
		}
		output := extract.MergedPath(p.cfg.WorkDir, d)

		fingerprint, err := Fingerprint(inputs)
		if err != nil {
			return outcomes, err
		}
		current, err := p.ledger.IsCurrent(output, fingerprint)
		if err != nil {
			return outcomes, fmt.Errorf("ledger lookup failed: %w", err)
		}
		if current {
			util.DebugLog("Skipping merge of %s: up to date", d)
			p.logger.LogSkip("", d.String(), output, "complete")
			outcomes = append(outcomes, MergeOutcome{Dataset: d, Path: output, Skipped: true})
			continue
		}

		format := merge.StatesFormat
		if d.Kind == extract.KindTable {
			format = merge.TableFormat
		}

		start := time.Now()
		result, err := merge.Merge(inputs, output, format)
		if err != nil {
			p.logger.LogMerge(d.String(), output, len(inputs), 0, 0, time.Since(start), err)
			return outcomes, fmt.Errorf("merge of %s failed: %w", d, err)
		}
		p.logger.LogMerge(d.String(), output, result.Inputs, int64(result.Unique), int64(result.Duplicates), time.Since(start), nil)

		if err := p.recordMerged(d, output, fingerprint); err != nil {
			return outcomes, err
		}

		util.InfoLog("Merged %s: %d lines from %d files (%d duplicates, %d unkeyed)",
			d, result.Unique, result.Inputs, result.Duplicates, result.Unkeyed)
		outcomes = append(outcomes, MergeOutcome{Dataset: d, Path: output, Result: result})
	}

	return outcomes, nil
}

func (p *Pipeline) recordMerged(d extract.Dataset, path, fingerprint string) error {
	size, _ := util.FileSize(path)
	sum, err := util.FileSHA1(path)
	if err != nil {
		return err
	}
	if err := p.ledger.RecordArtifact(&store.Artifact{
		Path:      path,
		Stage:     store.StageMerge,
		Dataset:   d.String(),
		SizeBytes: size,
		SHA1:      sum,
		Inputs:    fingerprint,
	}); err != nil {
		return fmt.Errorf("failed to record merged artifact: %w", err)
	}
	return nil
}

// Fingerprint identifies a set of input files by name and content.
// Missing inputs take part by name only.
func Fingerprint(inputs []string) (string, error) {
	h := sha1.New()
	for _, path := range inputs {
		sum := "-"
		if _, ok := util.FileSize(path); ok {
			s, err := util.FileSHA1(path)
			if err != nil {
				return "", err
			}
			sum = s
		}
		fmt.Fprintf(h, "%s %s\n", path, sum)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
