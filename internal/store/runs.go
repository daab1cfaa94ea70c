package store

import (
	"database/sql"
	"time"
)

// Snapshot states recorded in the ledger
const (
	SnapshotPending       = "pending"
	SnapshotRestored      = "restored"
	SnapshotRestoreFailed = "restore_failed"
	SnapshotExtracted     = "extracted"
	SnapshotExtractFailed = "extract_failed"
)

// SnapshotRecord is the ledger's view of one snapshot
type SnapshotRecord struct {
	ID         string
	Path       string
	Status     string
	Error      string
	LastUpdate time.Time
}

// UpsertSnapshot records the current status of a snapshot
func (s *Store) UpsertSnapshot(r *SnapshotRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO snapshots (id, path, status, error, last_update_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			path = excluded.path,
			status = excluded.status,
			error = excluded.error,
			last_update_at = CURRENT_TIMESTAMP
	`, r.ID, r.Path, r.Status, nullString(r.Error))
	return err
}

// GetSnapshot returns a snapshot record, or nil if unknown
func (s *Store) GetSnapshot(id string) (*SnapshotRecord, error) {
	var r SnapshotRecord
	err := s.db.QueryRow(`
		SELECT id, path, status, COALESCE(error, ''), last_update_at FROM snapshots WHERE id = ?
	`, id).Scan(&r.ID, &r.Path, &r.Status, &r.Error, &r.LastUpdate)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListSnapshots returns all snapshot records ordered by id
func (s *Store) ListSnapshots() ([]*SnapshotRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, path, status, COALESCE(error, ''), last_update_at FROM snapshots ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*SnapshotRecord
	for rows.Next() {
		var r SnapshotRecord
		if err := rows.Scan(&r.ID, &r.Path, &r.Status, &r.Error, &r.LastUpdate); err != nil {
			return nil, err
		}
		records = append(records, &r)
	}
	return records, rows.Err()
}

// Run states
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// Run is one CLI invocation
type Run struct {
	ID          string
	Command     string
	StartedAt   time.Time
	FinishedAt  time.Time // zero while running
	Status      string
	Output      string
	Statements  int
	Comments    int
	Malformed   int
	Warnings    int
	Divergences int
	Error       string
}

// StartRun inserts a running run row
func (s *Store) StartRun(r *Run) error {
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	r.Status = RunRunning
	_, err := s.db.Exec(`
		INSERT INTO runs (id, command, started_at, status) VALUES (?, ?, ?, ?)
	`, r.ID, r.Command, r.StartedAt.UTC(), r.Status)
	return err
}

// FinishRun stores the final status and counters of a run
func (s *Store) FinishRun(r *Run) error {
	if r.FinishedAt.IsZero() {
		r.FinishedAt = time.Now()
	}
	_, err := s.db.Exec(`
		UPDATE runs SET finished_at = ?, status = ?, output = ?, statements = ?, comments = ?,
			malformed = ?, warnings = ?, divergences = ?, error = ?
		WHERE id = ?
	`, r.FinishedAt.UTC(), r.Status, nullString(r.Output), r.Statements, r.Comments,
		r.Malformed, r.Warnings, r.Divergences, nullString(r.Error), r.ID)
	return err
}

// ListRuns returns the most recent runs first; limit <= 0 returns all
func (s *Store) ListRuns(limit int) ([]*Run, error) {
	query := `
		SELECT id, command, started_at, finished_at, status, COALESCE(output, ''),
			statements, comments, malformed, warnings, divergences, COALESCE(error, '')
		FROM runs ORDER BY started_at DESC, id`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var r Run
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.Command, &r.StartedAt, &finished, &r.Status, &r.Output,
			&r.Statements, &r.Comments, &r.Malformed, &r.Warnings, &r.Divergences, &r.Error); err != nil {
			return nil, err
		}
		if finished.Valid {
			r.FinishedAt = finished.Time
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
