// Package recordertest builds small Home Assistant recorder databases for tests.
package recordertest

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE states_meta (
	metadata_id INTEGER NOT NULL PRIMARY KEY,
	entity_id VARCHAR(255)
);
CREATE UNIQUE INDEX ix_states_meta_entity_id ON states_meta (entity_id);
CREATE TABLE states (
	state_id INTEGER NOT NULL PRIMARY KEY,
	state VARCHAR(255),
	last_updated_ts FLOAT,
	metadata_id INTEGER
);
CREATE INDEX ix_states_metadata_id_last_updated_ts ON states (metadata_id, last_updated_ts);
CREATE TABLE statistics_meta (
	id INTEGER NOT NULL PRIMARY KEY,
	statistic_id VARCHAR(255),
	source VARCHAR(32),
	unit_of_measurement VARCHAR(255),
	has_mean BOOLEAN,
	has_sum BOOLEAN,
	name VARCHAR(255)
);
CREATE TABLE statistics (
	id INTEGER NOT NULL PRIMARY KEY,
	created_ts FLOAT,
	metadata_id INTEGER,
	start_ts FLOAT,
	mean FLOAT,
	min FLOAT,
	max FLOAT,
	last_reset_ts FLOAT,
	state FLOAT,
	sum FLOAT
);
CREATE UNIQUE INDEX ix_statistics_statistic_id_start_ts ON statistics (metadata_id, start_ts);
CREATE TABLE statistics_short_term (
	id INTEGER NOT NULL PRIMARY KEY,
	created_ts FLOAT,
	metadata_id INTEGER,
	start_ts FLOAT,
	mean FLOAT,
	min FLOAT,
	max FLOAT,
	last_reset_ts FLOAT,
	state FLOAT,
	sum FLOAT
);
CREATE UNIQUE INDEX ix_statistics_short_term_statistic_id_start_ts ON statistics_short_term (metadata_id, start_ts);
`

// Fixture is a recorder database under construction
type Fixture struct {
	t    testing.TB
	db   *sql.DB
	Path string
}

// New creates an empty recorder database named name inside dir
func New(t testing.TB, dir, name string) *Fixture {
	t.Helper()

	path := filepath.Join(dir, name)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("failed to create fixture db: %v", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create fixture schema: %v", err)
	}

	f := &Fixture{t: t, db: db, Path: path}
	t.Cleanup(func() { f.db.Close() })
	return f
}

// Exec runs a statement and fails the test on error
func (f *Fixture) Exec(query string, args ...any) {
	f.t.Helper()
	if _, err := f.db.Exec(query, args...); err != nil {
		f.t.Fatalf("fixture exec %q: %v", query, err)
	}
}

// Entity adds a states_meta row
func (f *Fixture) Entity(id int64, entityID string) *Fixture {
	f.t.Helper()
	f.Exec("INSERT INTO states_meta (metadata_id, entity_id) VALUES (?, ?)", id, entityID)
	return f
}

// State adds a states row; value is stored as text like the recorder does
func (f *Fixture) State(metadataID int64, value string, ts float64) *Fixture {
	f.t.Helper()
	f.Exec("INSERT INTO states (state, last_updated_ts, metadata_id) VALUES (?, ?, ?)", value, ts, metadataID)
	return f
}

// Statistic adds a statistics_meta row
func (f *Fixture) Statistic(id int64, statisticID string) *Fixture {
	f.t.Helper()
	f.Exec(`INSERT INTO statistics_meta (id, statistic_id, source, unit_of_measurement, has_mean, has_sum, name)
		VALUES (?, ?, 'recorder', 'kWh', 0, 1, NULL)`, id, statisticID)
	return f
}

// Hourly adds a statistics row with state and sum set to value
func (f *Fixture) Hourly(metadataID int64, start, created, value float64) *Fixture {
	f.t.Helper()
	f.Exec(`INSERT INTO statistics (created_ts, metadata_id, start_ts, state, sum) VALUES (?, ?, ?, ?, ?)`,
		created, metadataID, start, value, value)
	return f
}

// ShortTerm adds a statistics_short_term row
func (f *Fixture) ShortTerm(metadataID int64, start, created, value float64) *Fixture {
	f.t.Helper()
	f.Exec(`INSERT INTO statistics_short_term (created_ts, metadata_id, start_ts, state, sum) VALUES (?, ?, ?, ?, ?)`,
		created, metadataID, start, value, value)
	return f
}

// Close releases the connection so other code can open the file
func (f *Fixture) Close() {
	f.db.Close()
}
