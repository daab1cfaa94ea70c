package reconcile

import (
	"errors"
	"strings"
	"testing"

	"github.com/franz/history-restorer/internal/util"
)

var statisticsColumns = []string{"id", "created_ts", "metadata_id", "start_ts", "mean", "min", "max", "last_reset_ts", "state", "sum"}

func newTestCopier(t *testing.T, entries map[int64]Remap) *TableCopier {
	t.Helper()

	c, err := NewTableCopier(TableCopyConfig{
		Table:    "statistics",
		Columns:  statisticsColumns,
		IDColumn: "metadata_id",
		Remap:    NewIdentifierMap(entries),
	})
	if err != nil {
		t.Fatalf("NewTableCopier failed: %v", err)
	}
	return c
}

func TestTableCopierRemapsIdentifierColumn(t *testing.T) {
	c := newTestCopier(t, map[int64]Remap{7: RemapToID(42), 8: KeepID()})
	out := &captureEmitter{}

	c.Process("1|1700003600.5|7|1700000000.0||||||12.5", out)
	c.Process("2|1700003600.5|8|1700000000.0|1.5|1|2|||3", out)

	stmts := out.statements()
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %v", out.lines)
	}

	want := `INSERT OR REPLACE INTO "statistics" ("id", "created_ts", "metadata_id", "start_ts", "mean", "min", "max", "last_reset_ts", "state", "sum") VALUES (1, 1700003600.5, 42, 1700000000.0, NULL, NULL, NULL, NULL, NULL, 12.5);`
	if stmts[0] != want {
		t.Errorf("unexpected statement\n got: %s\nwant: %s", stmts[0], want)
	}
	if !strings.Contains(stmts[1], "VALUES (2, 1700003600.5, 8, 1700000000.0, 1.5, 1, 2, NULL, NULL, 3);") {
		t.Errorf("kept row changed: %s", stmts[1])
	}
	if len(out.comments()) != 0 {
		t.Errorf("unexpected comments: %v", out.comments())
	}
}

func TestTableCopierDropProducesNoOutput(t *testing.T) {
	c := newTestCopier(t, map[int64]Remap{9: DropID()})
	out := &captureEmitter{}

	for i := 0; i < 3; i++ {
		c.Process("1|2|9|3|4|5|6|7|8|9", out)
	}

	if len(out.lines) != 0 {
		t.Errorf("dropped rows produced output: %v", out.lines)
	}
	if c.Stats().Dropped != 3 {
		t.Errorf("expected Dropped=3, got %d", c.Stats().Dropped)
	}
}

func TestTableCopierMalformedRows(t *testing.T) {
	c := newTestCopier(t, map[int64]Remap{7: KeepID()})

	tests := []struct {
		line   string
		reason string
	}{
		{"1|2|3", "expected 10 fields"},
		{"1|2|x|3|4|5|6|7|8|9", "non-integer metadata_id"},
		{"1|2|999|3|4|5|6|7|8|9", "unrecognized metadata_id 999"},
	}

	for _, tt := range tests {
		out := &captureEmitter{}
		if err := c.Process(tt.line, out); err != nil {
			t.Fatalf("Process failed: %v", err)
		}
		if len(out.lines) != 1 || !strings.HasPrefix(out.lines[0], "-- "+util.ErrMalformed.Error()+": ") || !strings.Contains(out.lines[0], tt.reason) {
			t.Errorf("%s: expected comment with %q, got %v", tt.line, tt.reason, out.lines)
		}
	}
}

func TestNewTableCopierRequiresIDColumn(t *testing.T) {
	_, err := NewTableCopier(TableCopyConfig{
		Table:    "statistics",
		Columns:  []string{"id", "state"},
		IDColumn: "metadata_id",
	})
	if !errors.Is(err, util.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestTableCopierUnescapesFields(t *testing.T) {
	c, err := NewTableCopier(TableCopyConfig{
		Table:    "states",
		Columns:  []string{"state_id", "metadata_id", "state", "attributes"},
		IDColumn: "metadata_id",
		Remap:    NewIdentifierMap(map[int64]Remap{7: KeepID()}),
	})
	if err != nil {
		t.Fatalf("NewTableCopier failed: %v", err)
	}
	out := &captureEmitter{}

	line := strings.Join([]string{"1", "7", util.EscapeField("on|off", '|'), util.NullField}, "|")
	if err := c.Process(line, out); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	stmts := out.statements()
	if len(stmts) != 1 {
		t.Fatalf("expected 1 statement, got %v", out.lines)
	}
	if !strings.HasSuffix(stmts[0], "VALUES (1, 7, 'on|off', NULL);") {
		t.Errorf("escaped separator not restored: %s", stmts[0])
	}
	if c.Stats().Malformed != 0 {
		t.Errorf("row with a separator in a value counted as malformed")
	}
}

func TestTableCopierQuotesTextColumns(t *testing.T) {
	c, err := NewTableCopier(TableCopyConfig{
		Table:    "states",
		Columns:  []string{"state_id", "metadata_id", "state", "last_updated_ts"},
		Types:    []string{"INTEGER", "INTEGER", "VARCHAR(255)", "FLOAT"},
		IDColumn: "metadata_id",
		Remap:    NewIdentifierMap(map[int64]Remap{7: KeepID()}),
	})
	if err != nil {
		t.Fatalf("NewTableCopier failed: %v", err)
	}
	out := &captureEmitter{}

	c.Process("1|7|0123|1700000000.5", out)
	c.Process(`2|7||\N`, out)

	stmts := out.statements()
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %v", out.lines)
	}
	if !strings.HasSuffix(stmts[0], "VALUES (1, 7, '0123', 1700000000.5);") {
		t.Errorf("text column not quoted: %s", stmts[0])
	}
	if !strings.HasSuffix(stmts[1], "VALUES (2, 7, '', NULL);") {
		t.Errorf("empty text or NULL mishandled: %s", stmts[1])
	}
}

func TestNewTableCopierChecksTypes(t *testing.T) {
	_, err := NewTableCopier(TableCopyConfig{
		Table:    "statistics",
		Columns:  []string{"id", "metadata_id"},
		Types:    []string{"INTEGER"},
		IDColumn: "metadata_id",
	})
	if !errors.Is(err, util.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestTextAffinity(t *testing.T) {
	tests := map[string]bool{
		"TEXT":         true,
		"VARCHAR(255)": true,
		"CHAR(0)":      true,
		"CLOB":         true,
		"INTEGER":      false,
		"CHARINT":      false,
		"FLOAT":        false,
		"DATETIME":     false,
		"":             false,
	}
	for typ, want := range tests {
		if got := TextAffinity(typ); got != want {
			t.Errorf("TextAffinity(%q) = %v, want %v", typ, got, want)
		}
	}
}

func TestSQLLiteral(t *testing.T) {
	tests := map[string]string{
		"":         "NULL",
		"12":       "12",
		"-1.5e3":   "-1.5e3",
		".5":       ".5",
		"kWh":      "'kWh'",
		"it's":     "'it''s'",
		"NaN":      "'NaN'",
		"Infinity": "'Infinity'",
	}
	for in, want := range tests {
		if got := sqlLiteral(in, false, false); got != want {
			t.Errorf("sqlLiteral(%q) = %s, want %s", in, got, want)
		}
	}

	if got := sqlLiteral("12", false, true); got != "'12'" {
		t.Errorf("text column: got %s", got)
	}
	if got := sqlLiteral("", true, true); got != "NULL" {
		t.Errorf("NULL text: got %s", got)
	}
}
