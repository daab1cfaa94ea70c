package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/franz/history-restorer/internal/config"
	"github.com/franz/history-restorer/internal/extract"
	"github.com/franz/history-restorer/internal/reconcile"
	"github.com/franz/history-restorer/internal/recorder"
	"github.com/franz/history-restorer/internal/sqlout"
	"github.com/franz/history-restorer/internal/store"
	"github.com/franz/history-restorer/internal/util"
	"github.com/schollz/progressbar/v3"
)

// GenerateResult summarises the written SQL script
type GenerateResult struct {
	Output     string
	Statements int
	Comments   int
	Bytes      int64
	Stats      reconcile.Stats // summed over every dataset
}

// Generate reconciles the merged files into the output script.
// The script has no wall-clock content, so identical inputs give a
// byte-identical script.
func (p *Pipeline) Generate(ctx context.Context) (*GenerateResult, error) {
	idMap, err := p.cfg.IdentifierMap()
	if err != nil {
		return nil, err
	}

	for _, d := range p.Datasets() {
		if !d.Merged() {
			continue
		}
		if _, ok := util.FileSize(extract.MergedPath(p.cfg.WorkDir, d)); !ok {
			return nil, fmt.Errorf("%w: merged file for %s (run merge first)", util.ErrNotFound, d)
		}
	}

	copiers, err := p.tableCopiers(ctx)
	if err != nil {
		return nil, err
	}

	w, err := sqlout.Create(p.cfg.Output)
	if err != nil {
		p.logger.LogOutput(p.cfg.Output, 0, 0, err)
		return nil, err
	}

	result, err := p.writeScript(w, idMap, copiers)
	if err != nil {
		w.Abort()
		p.logger.LogOutput(p.cfg.Output, w.Statements(), 0, err)
		return nil, err
	}
	if err := w.Close(); err != nil {
		p.logger.LogOutput(p.cfg.Output, w.Statements(), 0, err)
		return nil, err
	}

	result.Output = w.Path()
	result.Statements = w.Statements()
	result.Comments = w.Comments()
	result.Bytes, _ = util.FileSize(result.Output)

	sum, err := util.FileSHA1(result.Output)
	if err != nil {
		return nil, err
	}
	if err := p.ledger.RecordArtifact(&store.Artifact{
		Path:      result.Output,
		Stage:     store.StageOutput,
		SizeBytes: result.Bytes,
		SHA1:      sum,
	}); err != nil {
		return nil, fmt.Errorf("failed to record output artifact: %w", err)
	}
	p.logger.LogOutput(result.Output, result.Statements, result.Bytes, nil)

	return result, nil
}

func (p *Pipeline) writeScript(w *sqlout.Writer, idMap reconcile.IdentifierMap, copiers map[string]*reconcile.TableCopier) (*GenerateResult, error) {
	result := &GenerateResult{}

	if err := p.writeHeader(w); err != nil {
		return nil, err
	}
	if err := w.Statement("BEGIN TRANSACTION;"); err != nil {
		return nil, err
	}
	if err := w.Blank(); err != nil {
		return nil, err
	}

	var bar *progressbar.ProgressBar
	onLine := func() {}
	if util.ShowProgress() {
		bar = progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("Reconciling"),
			progressbar.OptionShowCount(),
			progressbar.OptionThrottle(200*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
		onLine = func() { bar.Add(1) }
	}

	rec := reconcile.New(reconcile.Config{
		IdentifierMap: idMap,
		Names:         p.cfg.DestinationNames(),
		Interval:      p.cfg.Interval,
		Table:         p.cfg.DestTable,
	})

	for _, d := range p.Datasets() {
		var proc interface {
			reconcile.LineProcessor
			Stats() reconcile.Stats
		}
		switch d.Kind {
		case extract.KindStates:
			proc = rec
		case extract.KindTable:
			proc = copiers[d.Name]
		default:
			continue
		}

		path := extract.MergedPath(p.cfg.WorkDir, d)
		if err := w.Comment(d.String()); err != nil {
			return nil, err
		}

		before := proc.Stats()
		if err := reconcile.ProcessFile(path, proc, w, onLine); err != nil {
			return nil, fmt.Errorf("%s: %w", d, err)
		}
		delta := subtract(proc.Stats(), before)
		result.Stats.Add(delta)
		if err := w.Blank(); err != nil {
			return nil, err
		}

		p.logger.LogReconcile(d.String(), int64(delta.Records), delta.Statements, delta.Malformed, delta.Warnings)
		if delta.Malformed > 0 {
			util.WarnLog("%s: %d malformed lines left as comments", d, delta.Malformed)
		}
		util.DebugLog("%s: %d records, %d statements, %d duplicate buckets, %d dropped",
			d, delta.Records, delta.Statements, delta.Duplicates, delta.Dropped)
	}

	if bar != nil {
		bar.Finish()
	}

	if err := w.Statement("COMMIT;"); err != nil {
		return nil, err
	}
	return result, nil
}

// writeHeader names the inputs of the script without any timestamps
func (p *Pipeline) writeHeader(w *sqlout.Writer) error {
	cutoff := "none"
	if epoch, err := p.cfg.CutoffEpoch(); err == nil && epoch > 0 {
		cutoff = fmt.Sprintf("%s (%s)",
			time.Unix(int64(epoch), 0).UTC().Format("2006-01-02 15:04:05 UTC"),
			reconcile.FormatNumber(epoch))
	}

	lines := []string{
		"Home Assistant statistics restore script",
		"snapshots: " + strings.Join(p.snapshots.IDs(), ", "),
		"cutoff: " + cutoff,
		fmt.Sprintf("interval: %d seconds", p.cfg.Interval),
		"destination table: " + p.cfg.DestTable,
	}
	for _, line := range lines {
		if err := w.Comment(line); err != nil {
			return err
		}
	}
	return w.Blank()
}

// tableCopiers builds one copier per configured table. Columns come from
// the configuration or else from the newest snapshot that has a database.
// Only discovered columns carry declared types.
func (p *Pipeline) tableCopiers(ctx context.Context) (map[string]*reconcile.TableCopier, error) {
	copiers := make(map[string]*reconcile.TableCopier, len(p.cfg.Tables))
	for _, t := range p.cfg.Tables {
		columns := t.Columns
		var types []string
		if len(columns) == 0 {
			info, err := p.discoverColumns(ctx, t)
			if err != nil {
				return nil, err
			}
			for _, c := range info {
				columns = append(columns, c.Name)
				types = append(types, c.Type)
			}
		}

		remap, err := p.cfg.TableRemap(t)
		if err != nil {
			return nil, err
		}
		c, err := reconcile.NewTableCopier(reconcile.TableCopyConfig{
			Table:    t.Name,
			Columns:  columns,
			Types:    types,
			IDColumn: t.IDColumn,
			Remap:    remap,
		})
		if err != nil {
			return nil, err
		}
		copiers[t.Name] = c
	}
	return copiers, nil
}

func (p *Pipeline) discoverColumns(ctx context.Context, t config.TableConfig) ([]recorder.Column, error) {
	open := p.extract.Open
	if open == nil {
		open = recorder.OpenReadOnly
	}

	snaps := p.Snapshots()
	for i := len(snaps) - 1; i >= 0; i-- {
		if !snaps[i].Present() {
			continue
		}
		db, err := open(snaps[i].Path)
		if err != nil {
			util.DebugLog("Cannot read columns of %s from %s: %v", t.Name, snaps[i].ID, err)
			continue
		}
		cols, err := db.TableInfo(ctx, t.Name)
		db.Close()
		if err != nil {
			util.DebugLog("Cannot read columns of %s from %s: %v", t.Name, snaps[i].ID, err)
			continue
		}
		return cols, nil
	}
	return nil, fmt.Errorf("%w: no snapshot database to read the columns of %s from; set tables[].columns",
		util.ErrInvalidConfig, t.Name)
}

func subtract(a, b reconcile.Stats) reconcile.Stats {
	return reconcile.Stats{
		Records:    a.Records - b.Records,
		Statements: a.Statements - b.Statements,
		Comments:   a.Comments - b.Comments,
		Malformed:  a.Malformed - b.Malformed,
		Dropped:    a.Dropped - b.Dropped,
		Duplicates: a.Duplicates - b.Duplicates,
		Warnings:   a.Warnings - b.Warnings,
	}
}
