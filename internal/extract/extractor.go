// Package extract pulls metadata, schema text and raw rows out of each
// snapshot database into per-snapshot intermediate files.
package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/franz/history-restorer/internal/recorder"
	"github.com/franz/history-restorer/internal/report"
	"github.com/franz/history-restorer/internal/snapshot"
	"github.com/franz/history-restorer/internal/store"
	"github.com/franz/history-restorer/internal/util"
	"github.com/schollz/progressbar/v3"
)

// DefaultPattern selects sensor metadata rows
const DefaultPattern = "%sensor%"

// Sensor is a per-sensor states extract
type Sensor struct {
	Name      string
	SourceIDs []int64
}

// Table is a generic table extract filtered by identifier
type Table struct {
	Name       string
	IDColumn   string
	TimeColumn string
	IDs        []int64
}

// OpenFunc opens a snapshot database for reading
type OpenFunc func(path string) (*recorder.DB, error)

// Config holds extractor configuration
type Config struct {
	WorkDir      string
	Pattern      string   // LIKE pattern for metadata rows
	SchemaTables []string // tables whose CREATE text is extracted
	Sensors      []Sensor
	Tables       []Table
	Cutoff       float64 // epoch seconds; 0 disables

	Ledger *store.Store
	Logger *report.EventLogger
	Open   OpenFunc // defaults to recorder.OpenReadOnly
}

// Extractor writes each (snapshot, dataset) file exactly once
type Extractor struct {
	cfg      Config
	datasets []Dataset
	sensors  map[string]Sensor
	tables   map[string]Table
}

// Result summarises an extraction run
type Result struct {
	Snapshots int
	Failed    []string // snapshot ids with at least one failed dataset
	Written   int
	Skipped   int
	Rows      int64
	Bytes     int64
}

// New creates an Extractor
func New(cfg Config) *Extractor {
	if cfg.Pattern == "" {
		cfg.Pattern = DefaultPattern
	}
	if cfg.Open == nil {
		cfg.Open = recorder.OpenReadOnly
	}

	e := &Extractor{
		cfg:     cfg,
		sensors: make(map[string]Sensor),
		tables:  make(map[string]Table),
	}
	e.datasets = Datasets(cfg)
	for _, s := range cfg.Sensors {
		e.sensors[s.Name] = s
	}
	for _, t := range cfg.Tables {
		e.tables[t.Name] = t
	}
	return e
}

// Datasets lists every dataset a configuration produces, in a fixed order:
// metadata tables, schema tables, sensors, generic tables.
func Datasets(cfg Config) []Dataset {
	var out []Dataset
	for _, t := range recorder.MetadataTables() {
		out = append(out, Dataset{Kind: KindMeta, Name: t})
	}
	for _, t := range cfg.SchemaTables {
		out = append(out, Dataset{Kind: KindSchema, Name: t})
	}
	for _, s := range cfg.Sensors {
		out = append(out, Dataset{Kind: KindStates, Name: s.Name})
	}
	for _, t := range cfg.Tables {
		out = append(out, Dataset{Kind: KindTable, Name: t.Name})
	}
	return out
}

// Datasets returns the datasets this extractor produces
func (e *Extractor) Datasets() []Dataset {
	return e.datasets
}

// Run extracts every snapshot oldest first. A snapshot with a failing
// dataset is logged and recorded as failed; its other datasets and the
// remaining snapshots are still extracted.
func (e *Extractor) Run(ctx context.Context, snaps []snapshot.Snapshot) (*Result, error) {
	result := &Result{Snapshots: len(snaps)}

	var bar *progressbar.ProgressBar
	if util.ShowProgress() {
		bar = progressbar.NewOptions(len(snaps)*len(e.datasets),
			progressbar.OptionSetDescription("Extracting"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionThrottle(200*time.Millisecond),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetRenderBlankState(true),
		)
		defer bar.Finish()
	}

	for i, snap := range snaps {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if bar == nil {
			util.InfoLog("Extracting snapshot %s (%d/%d)", snap.ID, i+1, len(snaps))
		}

		err := e.ExtractSnapshot(ctx, snap, result, func() {
			if bar != nil {
				bar.Add(1)
			}
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return result, err
			}
			util.ErrorLog("Snapshot %s: %v", snap.ID, err)
			e.cfg.Logger.LogError(report.EventExtract, snap.ID, snap.Path, err)
			e.recordSnapshot(snap, store.SnapshotExtractFailed, err)
			result.Failed = append(result.Failed, snap.ID)
			continue
		}
		e.recordSnapshot(snap, store.SnapshotExtracted, nil)
	}

	return result, nil
}

// ExtractSnapshot writes every incomplete dataset of one snapshot.
// The database is not opened when everything is already complete. A failing
// dataset leaves only its own file absent; the joined errors are returned.
func (e *Extractor) ExtractSnapshot(ctx context.Context, snap snapshot.Snapshot, result *Result, onDataset func()) error {
	var pending []Dataset
	for _, d := range e.datasets {
		path := Path(e.cfg.WorkDir, snap.ID, d)
		done, err := e.complete(path)
		if err != nil {
			return fmt.Errorf("ledger lookup failed: %w", err)
		}
		if done {
			util.DebugLog("Skipping %s of %s: already extracted", d, snap.ID)
			e.cfg.Logger.LogSkip(snap.ID, d.String(), path, "complete")
			result.Skipped++
			if onDataset != nil {
				onDataset()
			}
			continue
		}
		pending = append(pending, d)
	}
	if len(pending) == 0 {
		return nil
	}

	if !snap.Present() {
		return fmt.Errorf("%w: snapshot database %s", util.ErrNotFound, snap.Path)
	}

	db, err := e.cfg.Open(snap.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	e.checkEntityDrift(ctx, db, snap)

	var errs []error
	for _, d := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.extractDataset(ctx, db, snap, d, result); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			util.WarnLog("Snapshot %s: %s not extracted: %v", snap.ID, d, err)
			errs = append(errs, fmt.Errorf("%s: %w", d, err))
		}
		if onDataset != nil {
			onDataset()
		}
	}
	return errors.Join(errs...)
}

func (e *Extractor) complete(path string) (bool, error) {
	if e.cfg.Ledger == nil {
		return false, nil
	}
	return e.cfg.Ledger.IsComplete(path)
}

// extractDataset writes one file atomically and records it in the ledger
func (e *Extractor) extractDataset(ctx context.Context, db *recorder.DB, snap snapshot.Snapshot, d Dataset, result *Result) error {
	start := time.Now()
	path := Path(e.cfg.WorkDir, snap.ID, d)

	w, err := newRowWriter(path, d.Kind)
	if err != nil {
		return err
	}

	if err := e.query(ctx, db, d, w); err != nil {
		w.Abort()
		e.cfg.Logger.LogExtract(snap.ID, d.String(), path, 0, 0, time.Since(start), err)
		return err
	}

	size, err := w.Commit()
	if err != nil {
		return fmt.Errorf("%w: %v", util.ErrWriteFailed, err)
	}

	if e.cfg.Ledger != nil {
		sum, err := util.FileSHA1(path)
		if err != nil {
			return err
		}
		err = e.cfg.Ledger.RecordArtifact(&store.Artifact{
			Path:       path,
			Stage:      store.StageExtract,
			SnapshotID: snap.ID,
			Dataset:    d.String(),
			SizeBytes:  size,
			SHA1:       sum,
		})
		if err != nil {
			return fmt.Errorf("failed to record artifact: %w", err)
		}
	}

	util.DebugLog("Extracted %s of %s: %d rows, %s", d, snap.ID, w.rows, util.FormatBytes(size))
	e.cfg.Logger.LogExtract(snap.ID, d.String(), path, w.rows, size, time.Since(start), nil)

	result.Written++
	result.Rows += w.rows
	result.Bytes += size
	return nil
}

// query streams the rows of a dataset into w
func (e *Extractor) query(ctx context.Context, db *recorder.DB, d Dataset, w *rowWriter) error {
	switch d.Kind {
	case KindMeta:
		return db.StreamMetadata(ctx, d.Name, e.cfg.Pattern, w.Row)

	case KindSchema:
		schema, err := db.TableSchema(ctx, d.Name)
		if errors.Is(err, util.ErrNotFound) {
			// An absent table is an empty schema; the checker reports the change
			return nil
		}
		if err != nil {
			return err
		}
		return w.Text(schema)

	case KindStates:
		s := e.sensors[d.Name]
		return db.StreamStates(ctx, s.SourceIDs, e.cfg.Cutoff, w.Row)

	case KindTable:
		t := e.tables[d.Name]
		columns, err := db.TableColumns(ctx, t.Name)
		if err != nil {
			return err
		}
		return db.StreamTable(ctx, recorder.TableQuery{
			Table:      t.Name,
			Columns:    columns,
			IDColumn:   t.IDColumn,
			TimeColumn: t.TimeColumn,
			IDs:        t.IDs,
			Cutoff:     e.cfg.Cutoff,
		}, w.Row)
	}
	return fmt.Errorf("unknown dataset kind %q", d.Kind)
}

// checkEntityDrift warns when a source id names a different entity in this
// snapshot than the configured sensor.
func (e *Extractor) checkEntityDrift(ctx context.Context, db *recorder.DB, snap snapshot.Snapshot) {
	for _, s := range e.cfg.Sensors {
		names, err := db.EntityIDs(ctx, s.SourceIDs)
		if err != nil {
			util.DebugLog("Snapshot %s: entity lookup failed: %v", snap.ID, err)
			return
		}
		for _, id := range s.SourceIDs {
			name, ok := names[id]
			if !ok {
				util.DebugLog("Snapshot %s: metadata_id %d of %s not present", snap.ID, id, s.Name)
				continue
			}
			if name != s.Name {
				util.WarnLog("Snapshot %s: metadata_id %d is %s, configured for %s", snap.ID, id, name, s.Name)
			}
		}
	}
}

func (e *Extractor) recordSnapshot(snap snapshot.Snapshot, status string, err error) {
	if e.cfg.Ledger == nil {
		return
	}
	rec := &store.SnapshotRecord{ID: snap.ID, Path: snap.Path, Status: status}
	if err != nil {
		rec.Error = err.Error()
	}
	if lerr := e.cfg.Ledger.UpsertSnapshot(rec); lerr != nil {
		util.WarnLog("Failed to record snapshot %s: %v", snap.ID, lerr)
	}
}
