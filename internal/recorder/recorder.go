package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/franz/history-restorer/internal/util"
	_ "modernc.org/sqlite" // SQLite driver
)

// Home Assistant recorder tables used by the restorer
const (
	TableStates              = "states"
	TableStatesMeta          = "states_meta"
	TableStatistics          = "statistics"
	TableStatisticsShortTerm = "statistics_short_term"
	TableStatisticsMeta      = "statistics_meta"
)

// DB is a connection to a recorder database
type DB struct {
	db   *sql.DB
	path string
}

// OpenReadOnly opens a restored snapshot database without ever writing to it
func OpenReadOnly(path string) (*DB, error) {
	return open(path, "ro&immutable=1")
}

// Open opens a recorder database for modification (move-data)
func Open(path string) (*DB, error) {
	return open(path, "rw")
}

func open(path, mode string) (*DB, error) {
	if _, ok := util.FileSize(path); !ok {
		return nil, fmt.Errorf("%w: database %s", util.ErrNotFound, path)
	}

	dsn := fmt.Sprintf("file:%s?mode=%s&_pragma=busy_timeout(5000)", (&url.URL{Path: path}).EscapedPath(), mode)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	return &DB{db: db, path: path}, nil
}

// Wrap uses an existing connection (tests inject sqlmock here)
func Wrap(db *sql.DB, path string) *DB {
	return &DB{db: db, path: path}
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.db.Close()
}

// Path returns the database file path
func (d *DB) Path() string {
	return d.path
}

// QuickCheck runs PRAGMA quick_check
func (d *DB) QuickCheck(ctx context.Context) error {
	var result string
	if err := d.db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("quick check query failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("quick check failed: %s", result)
	}
	return nil
}

// HasTable reports whether a table exists
func (d *DB) HasTable(ctx context.Context, table string) (bool, error) {
	var count int
	err := d.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to look up table %s: %w", table, err)
	}
	return count > 0, nil
}

// TableSchema returns the CREATE statements of a table and its indexes,
// ordered by name so the text is stable across snapshots.
func (d *DB) TableSchema(ctx context.Context, table string) (string, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT sql FROM sqlite_master
		WHERE tbl_name = ? AND sql IS NOT NULL
		ORDER BY CASE type WHEN 'table' THEN 0 ELSE 1 END, name
	`, table)
	if err != nil {
		return "", fmt.Errorf("failed to read schema of %s: %w", table, err)
	}
	defer rows.Close()

	var parts []string
	for rows.Next() {
		var stmt string
		if err := rows.Scan(&stmt); err != nil {
			return "", fmt.Errorf("failed to scan schema of %s: %w", table, err)
		}
		parts = append(parts, strings.TrimSpace(stmt)+";")
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("%w: table %s", util.ErrNotFound, table)
	}
	return strings.Join(parts, "\n") + "\n", nil
}

// Column is one column of a table as reported by PRAGMA table_info
type Column struct {
	Name string
	Type string // declared type, may be empty
}

// TableInfo returns the columns of a table in declaration order
func (d *DB) TableInfo(ctx context.Context, table string) ([]Column, error) {
	rows, err := d.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("failed to get columns for table %s: %w", table, err)
	}
	defer rows.Close()

	var columns []Column
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column of %s: %w", table, err)
		}
		columns = append(columns, Column{Name: name, Type: typ})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: table %s", util.ErrNotFound, table)
	}
	return columns, nil
}

// TableColumns returns column names in declaration order
func (d *DB) TableColumns(ctx context.Context, table string) ([]string, error) {
	info, err := d.TableInfo(ctx, table)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(info))
	for i, c := range info {
		names[i] = c.Name
	}
	return names, nil
}

// RowFunc receives one row rendered as text. null[i] is true for SQL NULL.
type RowFunc func(values []string, null []bool) error

// Stream runs a read query and hands every row to fn as text.
// Floats are rendered without exponent so timestamps stay readable.
func (d *DB) Stream(ctx context.Context, query string, args []any, fn RowFunc) error {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("failed to read columns: %w", err)
	}

	raw := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	values := make([]string, len(cols))
	null := make([]bool, len(cols))

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("failed to scan row: %w", err)
		}
		for i, v := range raw {
			values[i], null[i] = FormatValue(v)
		}
		if err := fn(values, null); err != nil {
			return err
		}
	}
	return rows.Err()
}

// FormatValue renders a scanned SQLite value as text
func FormatValue(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", true
	case int64:
		return strconv.FormatInt(x, 10), false
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), false
	case bool:
		if x {
			return "1", false
		}
		return "0", false
	case []byte:
		return string(x), false
	case string:
		return x, false
	case time.Time:
		// modernc decodes DATETIME columns; render them the way the recorder stores them
		return x.UTC().Format("2006-01-02 15:04:05.000000"), false
	default:
		return fmt.Sprint(x), false
	}
}

// quoteIdent quotes an SQL identifier
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// placeholders returns "?, ?, ?" with args for ids
func placeholders(ids []int64) (string, []any) {
	marks := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		marks[i] = "?"
		args[i] = id
	}
	return strings.Join(marks, ", "), args
}
