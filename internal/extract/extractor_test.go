package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/franz/history-restorer/internal/recorder"
	"github.com/franz/history-restorer/internal/recorder/recordertest"
	"github.com/franz/history-restorer/internal/snapshot"
	"github.com/franz/history-restorer/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildSnapshots creates two snapshot databases with overlapping history
func buildSnapshots(t *testing.T) *snapshot.Store {
	t.Helper()
	root := t.TempDir()

	for i, id := range []string{"2024-01", "2024-02"} {
		dir := filepath.Join(root, id)
		require.NoError(t, os.MkdirAll(dir, 0755))
		f := recordertest.New(t, dir, snapshot.DefaultDBName)
		f.Entity(5, "sensor.energy").Entity(6, "sensor.water")
		f.Statistic(1, "sensor.energy")
		f.State(5, "1.5", 1700000000)
		f.State(5, "unavailable", 1700000100)
		f.State(6, "3", 1700000200)
		if i == 1 {
			f.State(5, "2.5", 1700003600)
			f.State(5, "9.9", 1800000000) // after cutoff
		}
		f.Hourly(1, 1700000000, 1700003600, 1.5)
		f.Close()
	}

	s, err := snapshot.NewStore(root, "", nil)
	require.NoError(t, err)
	return s
}

func openLedger(t *testing.T) *store.Store {
	t.Helper()
	ledger, err := store.Open(filepath.Join(t.TempDir(), "hsr.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })
	return ledger
}

func testConfig(work string, ledger *store.Store) Config {
	return Config{
		WorkDir:      work,
		SchemaTables: []string{"statistics"},
		Sensors:      []Sensor{{Name: "sensor.energy", SourceIDs: []int64{5}}},
		Tables:       []Table{{Name: "statistics", IDColumn: "metadata_id", TimeColumn: "start_ts", IDs: []int64{1}}},
		Cutoff:       1750000000,
		Ledger:       ledger,
	}
}

func TestExtractWritesAllDatasets(t *testing.T) {
	snaps := buildSnapshots(t)
	work := t.TempDir()
	e := New(testConfig(work, openLedger(t)))

	result, err := e.Run(context.Background(), snaps.Snapshots())
	require.NoError(t, err)
	assert.Empty(t, result.Failed)
	assert.Equal(t, 2*len(e.Datasets()), result.Written)

	states, err := os.ReadFile(Path(work, "2024-02", Dataset{Kind: KindStates, Name: "sensor.energy"}))
	require.NoError(t, err)
	assert.Equal(t,
		"\"1.5\",\"1700000000\",\"5\"\n"+
			"\"unavailable\",\"1700000100\",\"5\"\n"+
			"\"2.5\",\"1700003600\",\"5\"\n",
		string(states))

	meta, err := os.ReadFile(Path(work, "2024-01", Dataset{Kind: KindMeta, Name: recorder.TableStatesMeta}))
	require.NoError(t, err)
	assert.Equal(t, "5|sensor.energy\n6|sensor.water\n", string(meta))

	stats, err := os.ReadFile(Path(work, "2024-01", Dataset{Kind: KindTable, Name: "statistics"}))
	require.NoError(t, err)
	fields := strings.Split(strings.TrimSpace(string(stats)), "|")
	assert.Len(t, fields, 10)
	assert.Equal(t, "1700003600", fields[1]) // created_ts
	assert.Equal(t, `\N`, fields[4])         // NULL mean

	schema, err := os.ReadFile(Path(work, "2024-01", Dataset{Kind: KindSchema, Name: "statistics"}))
	require.NoError(t, err)
	assert.Contains(t, string(schema), "CREATE TABLE statistics")
}

func TestExtractIsResumable(t *testing.T) {
	snaps := buildSnapshots(t)
	work := t.TempDir()
	ledger := openLedger(t)
	e := New(testConfig(work, ledger))

	_, err := e.Run(context.Background(), snaps.Snapshots())
	require.NoError(t, err)

	// Completed snapshots are never reopened, even if the database is gone
	require.NoError(t, os.Remove(snaps.Resolve("2024-01").Path))

	result, err := e.Run(context.Background(), snaps.Snapshots())
	require.NoError(t, err)
	assert.Empty(t, result.Failed)
	assert.Equal(t, 0, result.Written)
	assert.Equal(t, 2*len(e.Datasets()), result.Skipped)

	// A hand-edited file no longer matches the ledger and is rebuilt
	path := Path(work, "2024-02", Dataset{Kind: KindStates, Name: "sensor.energy"})
	require.NoError(t, os.WriteFile(path, []byte("x\n"), 0644))

	result, err = e.Run(context.Background(), snaps.Snapshots())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Written)

	rec, err := ledger.GetSnapshot("2024-02")
	require.NoError(t, err)
	assert.Equal(t, store.SnapshotExtracted, rec.Status)
}

func TestExtractContinuesAfterMissingSnapshot(t *testing.T) {
	snaps := buildSnapshots(t)
	work := t.TempDir()
	ledger := openLedger(t)
	require.NoError(t, os.Remove(snaps.Resolve("2024-01").Path))

	e := New(testConfig(work, ledger))
	result, err := e.Run(context.Background(), snaps.Snapshots())
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01"}, result.Failed)
	assert.Equal(t, len(e.Datasets()), result.Written)

	_, err = os.Stat(SnapshotDir(work, "2024-01"))
	assert.True(t, os.IsNotExist(err), "failed snapshot must leave no files")

	rec, err := ledger.GetSnapshot("2024-01")
	require.NoError(t, err)
	assert.Equal(t, store.SnapshotExtractFailed, rec.Status)
	assert.NotEmpty(t, rec.Error)
}

func TestExtractContinuesAfterFailedDataset(t *testing.T) {
	snaps := buildSnapshots(t)
	work := t.TempDir()
	ledger := openLedger(t)

	cfg := testConfig(work, ledger)
	cfg.Tables = append([]Table{{Name: "recorder_runs", IDColumn: "run_id", TimeColumn: "start", IDs: []int64{1}}}, cfg.Tables...)
	e := New(cfg)

	result, err := e.Run(context.Background(), snaps.Snapshots())
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01", "2024-02"}, result.Failed)
	assert.Equal(t, 2*(len(e.Datasets())-1), result.Written)

	for _, id := range []string{"2024-01", "2024-02"} {
		_, err := os.Stat(Path(work, id, Dataset{Kind: KindTable, Name: "recorder_runs"}))
		assert.True(t, os.IsNotExist(err), "failed dataset must leave no file")

		stats := Path(work, id, Dataset{Kind: KindTable, Name: "statistics"})
		_, err = os.Stat(stats)
		assert.NoError(t, err, "datasets after the failed one must still be extracted")
		done, err := ledger.IsComplete(stats)
		require.NoError(t, err)
		assert.True(t, done)

		rec, err := ledger.GetSnapshot(id)
		require.NoError(t, err)
		assert.Equal(t, store.SnapshotExtractFailed, rec.Status)
		assert.Contains(t, rec.Error, "recorder_runs")
	}

	// A retry only attempts the missing dataset
	again, err := e.Run(context.Background(), snaps.Snapshots())
	require.NoError(t, err)
	assert.Equal(t, 0, again.Written)
	assert.Equal(t, 2*(len(e.Datasets())-1), again.Skipped)
}

func TestExtractQueryFailureLeavesNoFile(t *testing.T) {
	root := t.TempDir()
	snaps, err := snapshot.NewStore(root, "", []string{"broken"})
	require.NoError(t, err)
	snap := snaps.Resolve("broken")
	require.NoError(t, os.MkdirAll(filepath.Dir(snap.Path), 0755))
	require.NoError(t, os.WriteFile(snap.Path, []byte("placeholder"), 0644))

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectQuery(`SELECT \* FROM "states_meta"`).WillReturnError(errors.New("database disk image is malformed"))
	mock.ExpectQuery(`SELECT \* FROM "statistics_meta"`).WillReturnError(errors.New("database disk image is malformed"))
	mock.ExpectClose()

	work := t.TempDir()
	e := New(Config{
		WorkDir: work,
		Ledger:  openLedger(t),
		Open: func(path string) (*recorder.DB, error) {
			return recorder.Wrap(sqlDB, path), nil
		},
	})

	result, err := e.Run(context.Background(), snaps.Snapshots())
	require.NoError(t, err)
	assert.Equal(t, []string{"broken"}, result.Failed)

	entries, _ := os.ReadDir(SnapshotDir(work, "broken"))
	assert.Empty(t, entries, "no partial or final file may remain")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatasetFileNames(t *testing.T) {
	cases := map[Dataset]string{
		{Kind: KindMeta, Name: "states_meta"}:     "meta_states_meta.psv",
		{Kind: KindSchema, Name: "statistics"}:    "schema_statistics.sql",
		{Kind: KindStates, Name: "sensor.energy"}: "states_sensor.energy.csv",
		{Kind: KindTable, Name: "a/b"}:            "table_a_b.psv",
	}
	for d, want := range cases {
		assert.Equal(t, want, d.FileName(), d.String())
	}
	assert.True(t, Dataset{Kind: KindSchema}.Checked())
	assert.False(t, Dataset{Kind: KindStates}.Checked())
	assert.True(t, Dataset{Kind: KindTable}.Merged())
}
