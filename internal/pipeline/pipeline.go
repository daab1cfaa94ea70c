package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/franz/history-restorer/internal/check"
	"github.com/franz/history-restorer/internal/config"
	"github.com/franz/history-restorer/internal/extract"
	"github.com/franz/history-restorer/internal/report"
	"github.com/franz/history-restorer/internal/snapshot"
	"github.com/franz/history-restorer/internal/store"
	"github.com/franz/history-restorer/internal/util"
)

// Pipeline runs the restore stages against one configuration.
// Every stage can be run on its own; completed artifacts are skipped.
type Pipeline struct {
	cfg       *config.Config
	snapshots *snapshot.Store
	extract   extract.Config
	ledger    *store.Store
	logger    *report.EventLogger
	restorer  snapshot.Restorer
}

// Options carries the collaborators a Pipeline does not build itself
type Options struct {
	Ledger   *store.Store
	Logger   *report.EventLogger // nil disables the event log
	Restorer snapshot.Restorer   // nil uses the configured restore command
	Open     extract.OpenFunc    // nil opens snapshots read-only
}

// New validates cfg and resolves the snapshot set
func New(cfg *config.Config, opts Options) (*Pipeline, error) {
	if opts.Ledger == nil {
		return nil, fmt.Errorf("%w: a state ledger is required", util.ErrInvalidConfig)
	}
	if opts.Logger == nil {
		opts.Logger = report.NullLogger()
	}
	if opts.Restorer == nil {
		opts.Restorer = cfg.Restorer()
	}

	snaps, err := cfg.SnapshotStore()
	if err != nil {
		return nil, err
	}

	extCfg, err := cfg.ExtractConfig()
	if err != nil {
		return nil, err
	}
	extCfg.Ledger = opts.Ledger
	extCfg.Logger = opts.Logger
	extCfg.Open = opts.Open

	return &Pipeline{
		cfg:       cfg,
		snapshots: snaps,
		extract:   extCfg,
		ledger:    opts.Ledger,
		logger:    opts.Logger,
		restorer:  opts.Restorer,
	}, nil
}

// Snapshots returns the resolved snapshot set, oldest first
func (p *Pipeline) Snapshots() []snapshot.Snapshot {
	return p.snapshots.Snapshots()
}

// SnapshotIDs returns the snapshot ids, oldest first
func (p *Pipeline) SnapshotIDs() []string {
	return p.snapshots.IDs()
}

// Datasets returns every dataset the configuration produces
func (p *Pipeline) Datasets() []extract.Dataset {
	return extract.Datasets(p.extract)
}

// Restore runs the restore command for every snapshot without a database.
// Without a restore command this only reports what is missing.
func (p *Pipeline) Restore(ctx context.Context) (int, error) {
	snaps := p.Snapshots()

	if p.restorer == nil {
		missing := 0
		for _, s := range snaps {
			if !s.Present() {
				missing++
				util.WarnLog("Snapshot %s has no database and no restore command is configured", s.ID)
			}
		}
		if missing > 0 {
			util.InfoLog("%d of %d snapshots will be skipped during extraction", missing, len(snaps))
		}
		return 0, nil
	}

	start := time.Now()
	restored, err := snapshot.RestoreMissing(ctx, snaps, p.restorer, func(s snapshot.Snapshot) {
		util.SuccessLog("Restored snapshot %s", s.ID)
		p.logger.LogRestore(s.ID, s.Path, time.Since(start), nil)
		p.recordSnapshot(&store.SnapshotRecord{ID: s.ID, Path: s.Path, Status: store.SnapshotRestored})
		start = time.Now()
	})
	if err != nil {
		for _, s := range snaps {
			if !s.Present() {
				p.logger.LogRestore(s.ID, s.Path, time.Since(start), err)
				p.recordSnapshot(&store.SnapshotRecord{
					ID: s.ID, Path: s.Path, Status: store.SnapshotRestoreFailed, Error: err.Error(),
				})
				break
			}
		}
		return restored, err
	}
	return restored, nil
}

func (p *Pipeline) recordSnapshot(rec *store.SnapshotRecord) {
	if err := p.ledger.UpsertSnapshot(rec); err != nil {
		util.WarnLog("Failed to record snapshot %s: %v", rec.ID, err)
	}
}

// Invalidate forgets the ledger records of the given stages so the next
// run rebuilds their artifacts.
func (p *Pipeline) Invalidate(stages ...string) error {
	n, err := p.ledger.InvalidateStages(stages...)
	if err != nil {
		return fmt.Errorf("failed to invalidate %s: %w", strings.Join(stages, ", "), err)
	}
	util.InfoLog("Forced rebuild: forgot %d recorded files (%s)", n, strings.Join(stages, ", "))
	return nil
}

// Extract writes every missing (snapshot, dataset) file
func (p *Pipeline) Extract(ctx context.Context) (*extract.Result, error) {
	return extract.New(p.extract).Run(ctx, p.Snapshots())
}

// Check compares metadata and schema extracts between consecutive snapshots
func (p *Pipeline) Check() ([]check.Divergence, error) {
	divs, err := check.Run(check.Config{
		WorkDir:  p.cfg.WorkDir,
		Datasets: p.Datasets(),
		Logger:   p.logger,
	}, p.snapshots.IDs())
	if err != nil {
		return divs, err
	}
	if len(divs) == 0 {
		util.SuccessLog("Metadata and schema are consistent across %d snapshots", len(p.snapshots.IDs()))
	} else {
		util.WarnLog("%d divergences between snapshots; review before applying the output", len(divs))
	}
	return divs, nil
}
