package recorder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/franz/history-restorer/internal/util"
)

// ListSensors returns all sensor names known to statistics_meta and
// states_meta, sorted and without duplicates.
func (d *DB) ListSensors(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT statistic_id AS a FROM statistics_meta WHERE statistic_id LIKE '%sensor%'
		UNION
		SELECT entity_id AS a FROM states_meta WHERE entity_id LIKE '%sensor%'
		ORDER BY a ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sensors: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan sensor name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// StatisticID returns the statistics_meta id of a sensor.
// A missing sensor yields ErrNotFound with close names suggested.
func (d *DB) StatisticID(ctx context.Context, name string) (int64, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT id FROM statistics_meta WHERE statistic_id = ?", name)
	if err != nil {
		return 0, fmt.Errorf("failed to look up sensor %s: %w", name, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return 0, fmt.Errorf("failed to scan sensor id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	switch len(ids) {
	case 0:
		known, _ := d.ListSensors(ctx)
		if hint := Suggest(name, known, 3); len(hint) > 0 {
			return 0, fmt.Errorf("%w: sensor %s (did you mean %s?)", util.ErrNotFound, name, strings.Join(hint, ", "))
		}
		return 0, fmt.Errorf("%w: sensor %s", util.ErrNotFound, name)
	case 1:
		return ids[0], nil
	default:
		return 0, fmt.Errorf("%w: %d sensors named %s", util.ErrAmbiguous, len(ids), name)
	}
}

// Suggest returns up to limit candidates closest to name by edit distance.
// Candidates further away than half the name's length are ignored.
func Suggest(name string, candidates []string, limit int) []string {
	type scored struct {
		name string
		dist int
	}

	maxDist := len(name)/2 + 1
	var matches []scored
	for _, c := range candidates {
		if d := levenshtein.ComputeDistance(name, c); d <= maxDist {
			matches = append(matches, scored{c, d})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].dist != matches[j].dist {
			return matches[i].dist < matches[j].dist
		}
		return matches[i].name < matches[j].name
	})

	var out []string
	for i := 0; i < len(matches) && i < limit; i++ {
		out = append(out, matches[i].name)
	}
	return out
}

// MovePlan describes reassigning statistics from a renamed sensor
type MovePlan struct {
	OldName string
	NewName string
	OldID   int64
	NewID   int64

	// Rows per table that would move (or moved, when applied)
	Rows map[string]int64
}

// MoveTables are the tables whose metadata_id is reassigned
var MoveTables = []string{TableStatistics, TableStatisticsShortTerm}

// PlanMove resolves both sensors and verifies that the old sensor's last
// statistics are strictly older than the new sensor's first ones.
func (d *DB) PlanMove(ctx context.Context, oldName, newName string) (*MovePlan, error) {
	oldID, err := d.StatisticID(ctx, oldName)
	if err != nil {
		return nil, err
	}
	newID, err := d.StatisticID(ctx, newName)
	if err != nil {
		return nil, err
	}
	if oldID == newID {
		return nil, fmt.Errorf("%w: old and new sensor have the same id %d", util.ErrInvalidConfig, oldID)
	}

	oldCreated, oldStart, err := d.edgeTimestamps(ctx, oldID, "DESC")
	if err != nil {
		return nil, fmt.Errorf("old sensor %s: %w", oldName, err)
	}
	newCreated, newStart, err := d.edgeTimestamps(ctx, newID, "ASC")
	if err != nil {
		return nil, fmt.Errorf("new sensor %s: %w", newName, err)
	}

	if newCreated <= oldCreated {
		return nil, fmt.Errorf("%w: first created_ts %v of %s is not after last created_ts %v of %s",
			util.ErrOrdering, newCreated, newName, oldCreated, oldName)
	}
	if newStart <= oldStart {
		return nil, fmt.Errorf("%w: first start_ts %v of %s is not after last start_ts %v of %s",
			util.ErrOrdering, newStart, newName, oldStart, oldName)
	}

	plan := &MovePlan{OldName: oldName, NewName: newName, OldID: oldID, NewID: newID, Rows: map[string]int64{}}
	for _, table := range MoveTables {
		var n int64
		q := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE metadata_id = ?", quoteIdent(table))
		if err := d.db.QueryRowContext(ctx, q, oldID).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count rows in %s: %w", table, err)
		}
		plan.Rows[table] = n
	}
	return plan, nil
}

// ApplyMove reassigns the old sensor's rows to the new sensor in one transaction
func (d *DB) ApplyMove(ctx context.Context, plan *MovePlan) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range MoveTables {
		q := fmt.Sprintf("UPDATE %s SET metadata_id = ? WHERE metadata_id = ?", quoteIdent(table))
		res, err := tx.ExecContext(ctx, q, plan.NewID, plan.OldID)
		if err != nil {
			return fmt.Errorf("failed to update %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		plan.Rows[table] = n
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// edgeTimestamps returns created_ts/start_ts of the newest (DESC) or
// oldest (ASC) statistics row of a sensor.
func (d *DB) edgeTimestamps(ctx context.Context, id int64, order string) (float64, float64, error) {
	q := fmt.Sprintf(`SELECT created_ts, start_ts FROM statistics
		WHERE metadata_id = ? ORDER BY created_ts %s LIMIT 1`, order)

	var created, start float64
	err := d.db.QueryRowContext(ctx, q, id).Scan(&created, &start)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, fmt.Errorf("%w: no statistics rows", util.ErrNotFound)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read statistics timestamps: %w", err)
	}
	return created, start, nil
}
