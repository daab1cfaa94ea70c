package reconcile

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/franz/history-restorer/internal/util"
)

// FieldSeparator separates columns in table extracts
const FieldSeparator = '|'

var numericLiteral = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

// TableCopyConfig configures a TableCopier
type TableCopyConfig struct {
	Table    string
	Columns  []string
	Types    []string // declared column types; nil when unknown
	IDColumn string
	Remap    IdentifierMap
}

// TableCopier re-emits purged rows of a wide table verbatim, rewriting only
// the identifier column. Rows are restored by primary key, so statements
// use INSERT OR REPLACE.
type TableCopier struct {
	table   string
	columns []string
	text    []bool // column has TEXT affinity
	idIndex int
	remap   IdentifierMap
	prefix  string
	stats   Stats
}

// NewTableCopier validates the column layout and builds the statement prefix
func NewTableCopier(cfg TableCopyConfig) (*TableCopier, error) {
	if cfg.Table == "" {
		return nil, fmt.Errorf("%w: table name is required", util.ErrInvalidConfig)
	}
	if len(cfg.Columns) == 0 {
		return nil, fmt.Errorf("%w: table %s has no columns", util.ErrInvalidConfig, cfg.Table)
	}

	idIndex := -1
	for i, col := range cfg.Columns {
		if col == cfg.IDColumn {
			idIndex = i
			break
		}
	}
	if idIndex < 0 {
		return nil, fmt.Errorf("%w: id column %q not found in table %s", util.ErrInvalidConfig, cfg.IDColumn, cfg.Table)
	}

	if cfg.Types != nil && len(cfg.Types) != len(cfg.Columns) {
		return nil, fmt.Errorf("%w: table %s has %d columns but %d types", util.ErrInvalidConfig, cfg.Table, len(cfg.Columns), len(cfg.Types))
	}
	text := make([]bool, len(cfg.Columns))
	for i, typ := range cfg.Types {
		text[i] = TextAffinity(typ)
	}

	quoted := make([]string, len(cfg.Columns))
	for i, col := range cfg.Columns {
		quoted[i] = QuoteIdent(col)
	}

	return &TableCopier{
		table:   cfg.Table,
		columns: append([]string(nil), cfg.Columns...),
		text:    text,
		idIndex: idIndex,
		remap:   cfg.Remap,
		prefix:  fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (", QuoteIdent(cfg.Table), strings.Join(quoted, ", ")),
	}, nil
}

// Stats returns the counters accumulated so far
func (c *TableCopier) Stats() Stats {
	return c.stats
}

// Process handles one escaped, pipe-separated row
func (c *TableCopier) Process(line string, out Emitter) error {
	c.stats.Records++

	fields, null := util.SplitFields(line, FieldSeparator)
	if len(fields) != len(c.columns) {
		return c.malformed(out, line, fmt.Sprintf("expected %d fields, got %d", len(c.columns), len(fields)))
	}

	src, err := strconv.ParseInt(strings.TrimSpace(fields[c.idIndex]), 10, 64)
	if err != nil {
		return c.malformed(out, line, fmt.Sprintf("non-integer %s %q", c.columns[c.idIndex], fields[c.idIndex]))
	}

	remap, ok := c.remap.Lookup(src)
	if !ok {
		return c.malformed(out, line, fmt.Sprintf("unrecognized %s %d", c.columns[c.idIndex], src))
	}
	dest, keep := remap.Resolve(src)
	if !keep {
		c.stats.Dropped++
		return nil
	}

	values := make([]string, len(fields))
	for i, f := range fields {
		if i == c.idIndex {
			values[i] = strconv.FormatInt(dest, 10)
			continue
		}
		values[i] = sqlLiteral(f, null[i], c.text[i])
	}

	if err := out.Statement(c.prefix + strings.Join(values, ", ") + ");"); err != nil {
		return err
	}
	c.stats.Statements++
	return nil
}

func (c *TableCopier) malformed(out Emitter, line, reason string) error {
	c.stats.Malformed++
	msg := fmt.Errorf("%w: %s (%s)", util.ErrMalformed, line, reason).Error()
	if err := out.Comment(sanitizeComment(msg)); err != nil {
		return err
	}
	c.stats.Comments++
	return nil
}

// sqlLiteral renders an extracted field. NULL stays NULL; in a column
// without TEXT affinity the empty string is NULL and numbers pass through
// unchanged. Everything else becomes a quoted string.
func sqlLiteral(field string, null, text bool) string {
	if null {
		return "NULL"
	}
	if !text {
		if field == "" {
			return "NULL"
		}
		if numericLiteral.MatchString(field) {
			return field
		}
	}
	return "'" + strings.ReplaceAll(field, "'", "''") + "'"
}

// TextAffinity applies the SQLite affinity rules to a declared column type
func TextAffinity(declared string) bool {
	t := strings.ToUpper(declared)
	if strings.Contains(t, "INT") {
		return false
	}
	return strings.Contains(t, "CHAR") || strings.Contains(t, "CLOB") || strings.Contains(t, "TEXT")
}

// QuoteIdent quotes an SQL identifier
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
