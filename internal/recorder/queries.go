package recorder

import (
	"context"
	"fmt"
	"strings"
)

// metadataTables maps metadata tables to their id and name columns
var metadataTables = map[string][2]string{
	TableStatesMeta:     {"metadata_id", "entity_id"},
	TableStatisticsMeta: {"id", "statistic_id"},
}

// MetadataTables returns the metadata tables known to the extractor
func MetadataTables() []string {
	return []string{TableStatesMeta, TableStatisticsMeta}
}

// StreamMetadata streams every column of a metadata table for rows whose
// name matches the LIKE pattern, ordered by id.
func (d *DB) StreamMetadata(ctx context.Context, table, pattern string, fn RowFunc) error {
	cols, ok := metadataTables[table]
	if !ok {
		return fmt.Errorf("unknown metadata table %s", table)
	}
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s LIKE ? ORDER BY %s",
		quoteIdent(table), quoteIdent(cols[1]), quoteIdent(cols[0]))
	return d.Stream(ctx, query, []any{pattern}, fn)
}

// StreamStates streams (state, last_updated_ts, metadata_id) for the given
// source ids. cutoff > 0 excludes rows at or after it.
func (d *DB) StreamStates(ctx context.Context, ids []int64, cutoff float64, fn RowFunc) error {
	if len(ids) == 0 {
		return nil
	}
	marks, args := placeholders(ids)
	query := fmt.Sprintf(`SELECT state, last_updated_ts, metadata_id FROM %s WHERE metadata_id IN (%s)`,
		TableStates, marks)
	if cutoff > 0 {
		query += " AND last_updated_ts < ?"
		args = append(args, cutoff)
	}
	query += " ORDER BY last_updated_ts, state_id"
	return d.Stream(ctx, query, args, fn)
}

// TableQuery describes a generic table extraction
type TableQuery struct {
	Table      string
	Columns    []string
	IDColumn   string
	TimeColumn string // optional cutoff column
	IDs        []int64
	Cutoff     float64
}

// StreamTable streams the listed columns of rows whose id column is in IDs
func (d *DB) StreamTable(ctx context.Context, q TableQuery, fn RowFunc) error {
	if len(q.IDs) == 0 {
		return nil
	}
	quoted := make([]string, len(q.Columns))
	for i, c := range q.Columns {
		quoted[i] = quoteIdent(c)
	}
	marks, args := placeholders(q.IDs)
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (%s)",
		strings.Join(quoted, ", "), quoteIdent(q.Table), quoteIdent(q.IDColumn), marks)
	if q.Cutoff > 0 && q.TimeColumn != "" {
		query += fmt.Sprintf(" AND %s < ?", quoteIdent(q.TimeColumn))
		args = append(args, q.Cutoff)
	}
	query += " ORDER BY rowid"
	return d.Stream(ctx, query, args, fn)
}

// EntityIDs returns the states_meta entity_id of each id that exists
func (d *DB) EntityIDs(ctx context.Context, ids []int64) (map[int64]string, error) {
	out := make(map[int64]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	marks, args := placeholders(ids)
	query := fmt.Sprintf("SELECT metadata_id, entity_id FROM %s WHERE metadata_id IN (%s)", TableStatesMeta, marks)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to look up entity ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("failed to scan entity id: %w", err)
		}
		out[id] = name
	}
	return out, rows.Err()
}
