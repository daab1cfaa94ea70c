package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/franz/history-restorer/internal/config"
	"github.com/franz/history-restorer/internal/extract"
	"github.com/franz/history-restorer/internal/recorder/recordertest"
	"github.com/franz/history-restorer/internal/snapshot"
	"github.com/franz/history-restorer/internal/store"
	"github.com/franz/history-restorer/internal/util"
)

// setupSnapshots creates two overlapping snapshots of one energy sensor
func setupSnapshots(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	createSnapshot(t, root, "2024-01", func(f *recordertest.Fixture) {
		f.State(1, "0", 1700000000)
		f.State(1, "5", 1700000100)
		f.State(1, "7", 1700003700)
		f.Hourly(1, 1699999200, 1700002800, 0)
	})
	createSnapshot(t, root, "2024-02", func(f *recordertest.Fixture) {
		f.State(1, "5", 1700000100)
		f.State(1, "7", 1700003700)
		f.State(1, "9", 1700007300)
		f.Hourly(1, 1699999200, 1700002800, 0)
		f.Hourly(1, 1700002800, 1700006400, 7)
	})

	return root
}

func createSnapshot(t *testing.T, root, id string, fill func(f *recordertest.Fixture)) {
	t.Helper()
	dir := filepath.Join(root, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	f := recordertest.New(t, dir, snapshot.DefaultDBName)
	f.Entity(1, "sensor.energy")
	f.Statistic(1, "sensor.energy")
	fill(f)
	f.Close()
}

func testConfig(t *testing.T, snapDir string, ids ...string) *config.Config {
	t.Helper()
	work := t.TempDir()
	return &config.Config{
		WorkDir:   work,
		Output:    filepath.Join(work, "restore.sql"),
		Interval:  3600,
		DestTable: "statistics",
		Snapshots: config.SnapshotConfig{Dir: snapDir, DBName: snapshot.DefaultDBName, IDs: ids},
		Metadata: config.MetadataConfig{
			Pattern:      extract.DefaultPattern,
			SchemaTables: []string{"statistics"},
		},
		Sensors: []config.SensorConfig{
			{Name: "sensor.energy", SourceIDs: []int64{1}, DestID: 164, DestName: "sensor.energy_restored"},
		},
		Tables: []config.TableConfig{
			{Name: "statistics", IDColumn: "metadata_id", TimeColumn: "start_ts", Remap: map[string]string{"1": "164"}},
		},
	}
}

func openLedger(t *testing.T) *store.Store {
	t.Helper()
	ledger, err := store.Open(filepath.Join(t.TempDir(), "hsr.db"))
	if err != nil {
		t.Fatalf("failed to open ledger: %v", err)
	}
	t.Cleanup(func() { ledger.Close() })
	return ledger
}

func newPipeline(t *testing.T, cfg *config.Config, ledger *store.Store) *Pipeline {
	t.Helper()
	p, err := New(cfg, Options{Ledger: ledger})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return p
}

func silence(t *testing.T) {
	t.Helper()
	prev := util.SetOutput(&strings.Builder{})
	t.Cleanup(func() { util.SetOutput(prev) })
}

func readOutput(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	return string(data)
}

func TestRunEndToEnd(t *testing.T) {
	silence(t)
	cfg := testConfig(t, setupSnapshots(t))
	p := newPipeline(t, cfg, openLedger(t))

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(summary.Extract.Failed) != 0 {
		t.Errorf("unexpected failed snapshots: %v", summary.Extract.Failed)
	}
	if len(summary.Divergences) != 0 {
		t.Errorf("identical metadata reported as divergent: %+v", summary.Divergences)
	}

	out := readOutput(t, cfg.Output)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")

	if lines[0] != "-- Home Assistant statistics restore script" {
		t.Errorf("unexpected first line: %q", lines[0])
	}
	if !strings.Contains(out, "-- snapshots: 2024-01, 2024-02\n") {
		t.Error("header does not name the snapshot set")
	}
	if !strings.Contains(out, "\nBEGIN TRANSACTION;\n") || lines[len(lines)-1] != "COMMIT;" {
		t.Error("script is not wrapped in a transaction")
	}

	wantHourly := []string{
		"INSERT OR IGNORE INTO statistics (state, sum, metadata_id, created_ts, start_ts) VALUES (0.0000, 0.0000, 164, 1700002800.0000, 1699999200.0000);",
		"INSERT OR IGNORE INTO statistics (state, sum, metadata_id, created_ts, start_ts) VALUES (7.0000, 7.0000, 164, 1700006400.0000, 1700002800.0000);",
		"INSERT OR IGNORE INTO statistics (state, sum, metadata_id, created_ts, start_ts) VALUES (9.0000, 9.0000, 164, 1700010000.0000, 1700006400.0000);",
	}
	for _, want := range wantHourly {
		if !strings.Contains(out, want+"\n") {
			t.Errorf("missing statement %s", want)
		}
	}
	if strings.Contains(out, "VALUES (5.0000") {
		t.Error("second record of a bucket must not be emitted")
	}
	if !strings.Contains(out, "-- sensor.energy_restored 2023-11-14 22:00:00 0.0000\n") {
		t.Error("missing bucket comment")
	}

	copies := strings.Count(out, `INSERT OR REPLACE INTO "statistics"`)
	if copies != 2 {
		t.Errorf("expected 2 copied statistics rows, got %d", copies)
	}
	if !strings.Contains(out, "VALUES (2, 1700006400, 164, 1700002800, NULL, NULL, NULL, NULL, 7, 7);") {
		t.Error("copied row does not carry the remapped id")
	}

	if summary.Output.Statements != 3+2+2 {
		t.Errorf("Statements = %d, want 7 (3 hourly, 2 copied, BEGIN, COMMIT)", summary.Output.Statements)
	}
	if summary.Output.Stats.Duplicates != 1 {
		t.Errorf("Duplicates = %d, want 1", summary.Output.Stats.Duplicates)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	silence(t)
	cfg := testConfig(t, setupSnapshots(t))
	ledger := openLedger(t)

	first, err := newPipeline(t, cfg, ledger).Run(context.Background())
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	firstOut := readOutput(t, cfg.Output)

	second, err := newPipeline(t, cfg, ledger).Run(context.Background())
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	secondOut := readOutput(t, cfg.Output)

	if firstOut != secondOut {
		t.Error("rerun produced a different script")
	}
	if second.Extract.Written != 0 || second.Extract.Skipped != first.Extract.Written {
		t.Errorf("rerun extracted again: written=%d skipped=%d (first wrote %d)",
			second.Extract.Written, second.Extract.Skipped, first.Extract.Written)
	}
	for _, m := range second.Merges {
		if !m.Skipped {
			t.Errorf("merge of %s was not skipped on rerun", m.Dataset)
		}
	}
}

func TestMergeRebuiltWhenSnapshotAdded(t *testing.T) {
	silence(t)
	snapDir := setupSnapshots(t)
	ledger := openLedger(t)

	cfg := testConfig(t, snapDir, "2024-01")
	if _, err := newPipeline(t, cfg, ledger).Run(context.Background()); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	cfg.Snapshots.IDs = []string{"2024-01", "2024-02"}
	summary, err := newPipeline(t, cfg, ledger).Run(context.Background())
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	for _, m := range summary.Merges {
		if m.Skipped {
			t.Errorf("merge of %s skipped although a snapshot was added", m.Dataset)
		}
	}
	if !strings.Contains(readOutput(t, cfg.Output), "VALUES (9.0000") {
		t.Error("history of the added snapshot is missing")
	}
}

func TestInvalidateForcesRebuild(t *testing.T) {
	silence(t)
	cfg := testConfig(t, setupSnapshots(t))
	ledger := openLedger(t)

	first, err := newPipeline(t, cfg, ledger).Run(context.Background())
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	p := newPipeline(t, cfg, ledger)
	if err := p.Invalidate(store.StageExtract, store.StageMerge); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	second, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if second.Extract.Written != first.Extract.Written || second.Extract.Skipped != 0 {
		t.Errorf("forced run: written=%d skipped=%d, want %d and 0",
			second.Extract.Written, second.Extract.Skipped, first.Extract.Written)
	}
	for _, m := range second.Merges {
		if m.Skipped {
			t.Errorf("merge of %s skipped after invalidation", m.Dataset)
		}
	}
}

func TestRunSkipsMissingSnapshot(t *testing.T) {
	silence(t)
	snapDir := setupSnapshots(t)
	if err := os.MkdirAll(filepath.Join(snapDir, "2024-03"), 0755); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig(t, snapDir)

	summary, err := newPipeline(t, cfg, openLedger(t)).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(summary.Extract.Failed) != 1 || summary.Extract.Failed[0] != "2024-03" {
		t.Errorf("Failed = %v, want [2024-03]", summary.Extract.Failed)
	}
	if !strings.Contains(readOutput(t, cfg.Output), "VALUES (9.0000") {
		t.Error("output lost the history of the remaining snapshots")
	}
}

func TestRestoreFailureIsFatal(t *testing.T) {
	silence(t)
	snapDir := setupSnapshots(t)
	if err := os.MkdirAll(filepath.Join(snapDir, "2024-03"), 0755); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig(t, snapDir)
	cfg.Snapshots.RestoreCommand = "false {id}"
	ledger := openLedger(t)

	_, err := newPipeline(t, cfg, ledger).Run(context.Background())
	if !errors.Is(err, util.ErrRestoreFailed) {
		t.Fatalf("expected ErrRestoreFailed, got %v", err)
	}
	if _, ok := util.FileSize(cfg.Output); ok {
		t.Error("no script must be written after a failed restore")
	}

	rec, err := ledger.GetSnapshot("2024-03")
	if err != nil || rec == nil || rec.Status != store.SnapshotRestoreFailed {
		t.Errorf("snapshot record = %+v, %v", rec, err)
	}
}

func TestGenerateRequiresMerge(t *testing.T) {
	silence(t)
	cfg := testConfig(t, setupSnapshots(t))
	p := newPipeline(t, cfg, openLedger(t))

	if _, err := p.Extract(context.Background()); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	_, err := p.Generate(context.Background())
	if !errors.Is(err, util.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFingerprint(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.csv")
	missing := filepath.Join(dir, "b.csv")
	if err := os.WriteFile(a, []byte("one\n"), 0644); err != nil {
		t.Fatal(err)
	}

	before, err := Fingerprint([]string{a, missing})
	if err != nil {
		t.Fatalf("Fingerprint failed: %v", err)
	}
	again, _ := Fingerprint([]string{a, missing})
	if before != again {
		t.Error("fingerprint is not stable")
	}

	if err := os.WriteFile(a, []byte("two\n"), 0644); err != nil {
		t.Fatal(err)
	}
	after, _ := Fingerprint([]string{a, missing})
	if after == before {
		t.Error("fingerprint ignores content changes")
	}

	reordered, _ := Fingerprint([]string{missing, a})
	if reordered == after {
		t.Error("fingerprint ignores input order")
	}
}

func TestTrackRecordsRuns(t *testing.T) {
	ledger := openLedger(t)

	if err := Track(ledger, nil, "generate", func(run *store.Run) error {
		run.Statements = 12
		return nil
	}); err != nil {
		t.Fatalf("Track failed: %v", err)
	}
	boom := errors.New("boom")
	if err := Track(ledger, nil, "merge", func(run *store.Run) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("Track must return the command error, got %v", err)
	}

	runs, err := ledger.ListRuns(0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	byCommand := map[string]*store.Run{}
	for _, r := range runs {
		byCommand[r.Command] = r
	}
	if r := byCommand["generate"]; r.Status != store.RunSucceeded || r.Statements != 12 {
		t.Errorf("generate run = %+v", r)
	}
	if r := byCommand["merge"]; r.Status != store.RunFailed || r.Error != "boom" {
		t.Errorf("merge run = %+v", r)
	}
}
