package store

import (
	"database/sql"
	"time"

	"github.com/franz/history-restorer/internal/util"
)

// Pipeline stages that produce artifacts
const (
	StageExtract = "extract"
	StageMerge   = "merge"
	StageOutput  = "output"
)

// Artifact is a file a stage finished writing
type Artifact struct {
	Path        string
	Stage       string
	SnapshotID  string
	Dataset     string
	SizeBytes   int64
	SHA1        string
	Inputs      string // fingerprint of the files a derived artifact was built from
	CompletedAt time.Time
}

// RecordArtifact marks a file as completed, replacing any earlier record
func (s *Store) RecordArtifact(a *Artifact) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO artifacts (path, stage, snapshot_id, dataset, size_bytes, sha1, inputs, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, a.Path, a.Stage, a.SnapshotID, a.Dataset, a.SizeBytes, a.SHA1, nullString(a.Inputs))
	return err
}

// GetArtifact returns the record for path, or nil if none exists
func (s *Store) GetArtifact(path string) (*Artifact, error) {
	var a Artifact
	err := s.db.QueryRow(`
		SELECT path, stage, COALESCE(snapshot_id, ''), COALESCE(dataset, ''), size_bytes, COALESCE(sha1, ''), COALESCE(inputs, ''), completed_at
		FROM artifacts WHERE path = ?
	`, path).Scan(&a.Path, &a.Stage, &a.SnapshotID, &a.Dataset, &a.SizeBytes, &a.SHA1, &a.Inputs, &a.CompletedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// IsComplete reports whether path was recorded as completed and the file on
// disk still has the recorded size.
func (s *Store) IsComplete(path string) (bool, error) {
	a, err := s.GetArtifact(path)
	if err != nil || a == nil {
		return false, err
	}
	size, ok := util.FileSize(path)
	return ok && size == a.SizeBytes, nil
}

// IsCurrent reports whether a derived artifact is complete and was built
// from inputs with the given fingerprint.
func (s *Store) IsCurrent(path, inputs string) (bool, error) {
	done, err := s.IsComplete(path)
	if err != nil || !done {
		return false, err
	}
	a, err := s.GetArtifact(path)
	if err != nil || a == nil {
		return false, err
	}
	return a.Inputs == inputs, nil
}

// InvalidateStages forgets all artifacts of the given stages in one
// transaction so the next run rebuilds them
func (s *Store) InvalidateStages(stages ...string) (int64, error) {
	var total int64
	err := s.Transaction(func(tx *sql.Tx) error {
		for _, stage := range stages {
			res, err := tx.Exec("DELETE FROM artifacts WHERE stage = ?", stage)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// ListArtifacts returns artifacts of a stage ordered by path; "" lists all
func (s *Store) ListArtifacts(stage string) ([]*Artifact, error) {
	query := `
		SELECT path, stage, COALESCE(snapshot_id, ''), COALESCE(dataset, ''), size_bytes, COALESCE(sha1, ''), COALESCE(inputs, ''), completed_at
		FROM artifacts`
	var args []any
	if stage != "" {
		query += " WHERE stage = ?"
		args = append(args, stage)
	}
	query += " ORDER BY path"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var artifacts []*Artifact
	for rows.Next() {
		var a Artifact
		if err := rows.Scan(&a.Path, &a.Stage, &a.SnapshotID, &a.Dataset, &a.SizeBytes, &a.SHA1, &a.Inputs, &a.CompletedAt); err != nil {
			return nil, err
		}
		artifacts = append(artifacts, &a)
	}
	return artifacts, rows.Err()
}

// ArtifactTotals returns count and total size per stage
func (s *Store) ArtifactTotals() (map[string][2]int64, error) {
	rows, err := s.db.Query("SELECT stage, COUNT(*), COALESCE(SUM(size_bytes), 0) FROM artifacts GROUP BY stage")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := make(map[string][2]int64)
	for rows.Next() {
		var stage string
		var count, size int64
		if err := rows.Scan(&stage, &count, &size); err != nil {
			return nil, err
		}
		totals[stage] = [2]int64{count, size}
	}
	return totals, rows.Err()
}
