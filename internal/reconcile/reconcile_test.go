package reconcile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/franz/history-restorer/internal/util"
)

// captureEmitter records output lines the way the SQL writer renders them
type captureEmitter struct {
	lines []string
	fail  error
}

func (c *captureEmitter) Comment(text string) error {
	if c.fail != nil {
		return c.fail
	}
	c.lines = append(c.lines, "-- "+text)
	return nil
}

func (c *captureEmitter) Statement(sql string) error {
	if c.fail != nil {
		return c.fail
	}
	c.lines = append(c.lines, sql)
	return nil
}

func (c *captureEmitter) statements() []string {
	var out []string
	for _, l := range c.lines {
		if !strings.HasPrefix(l, "--") {
			out = append(out, l)
		}
	}
	return out
}

func (c *captureEmitter) comments() []string {
	var out []string
	for _, l := range c.lines {
		if strings.HasPrefix(l, "--") {
			out = append(out, l)
		}
	}
	return out
}

func newTestReconciler(entries map[int64]Remap) *Reconciler {
	return New(Config{
		IdentifierMap: NewIdentifierMap(entries),
		Names:         map[int64]string{164: "sensor.energy_total"},
	})
}

func TestProcessEmitsStatementForMappedRecord(t *testing.T) {
	r := newTestReconciler(map[int64]Remap{313: RemapToID(164)})
	out := &captureEmitter{}

	if err := r.Process(`"12.3456","1700000000","313"`, out); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	stmts := out.statements()
	if len(stmts) != 1 {
		t.Fatalf("expected 1 statement, got %d: %v", len(stmts), out.lines)
	}

	start := 1700000000 - (1700000000 % 3600)
	expected := fmt.Sprintf("INSERT OR IGNORE INTO statistics (state, sum, metadata_id, created_ts, start_ts) VALUES (12.3456, 12.3456, 164, %d.0000, %d.0000);",
		start+3600, start)
	if stmts[0] != expected {
		t.Errorf("unexpected statement\n got: %s\nwant: %s", stmts[0], expected)
	}

	// The diagnostic comment documents the statement that follows it
	if len(out.lines) != 2 || !strings.HasPrefix(out.lines[0], "-- sensor.energy_total 2023-11-14 22:00:00 12.3456") {
		t.Errorf("unexpected output: %v", out.lines)
	}
}

func TestProcessSameHourKeepsFirstInInputOrder(t *testing.T) {
	r := newTestReconciler(map[int64]Remap{313: RemapToID(164)})
	out := &captureEmitter{}

	r.Process(`"0","1000","313"`, out)
	r.Process(`"7","100","313"`, out)

	stmts := out.statements()
	if len(stmts) != 1 {
		t.Fatalf("expected 1 statement, got %d", len(stmts))
	}
	if !strings.Contains(stmts[0], "VALUES (0.0000, 0.0000, 164,") {
		t.Errorf("expected first record to win, got %s", stmts[0])
	}
	if r.Stats().Duplicates != 1 {
		t.Errorf("expected 1 duplicate, got %d", r.Stats().Duplicates)
	}
}

func TestProcessUnexpectedStartValue(t *testing.T) {
	t.Run("zero start", func(t *testing.T) {
		r := newTestReconciler(map[int64]Remap{313: RemapToID(164)})
		out := &captureEmitter{}
		r.Process(`"0.0","3600","313"`, out)
		r.Process(`"4.0","7200","313"`, out)

		for _, c := range out.comments() {
			if strings.Contains(c, "unexpected value") {
				t.Errorf("unexpected warning: %s", c)
			}
		}
	})

	t.Run("non-zero start", func(t *testing.T) {
		r := newTestReconciler(map[int64]Remap{313: RemapToID(164), 314: RemapToID(165)})
		out := &captureEmitter{}
		r.Process(`"5.0","3600","313"`, out)
		r.Process(`"6.0","7200","313"`, out)
		r.Process(`"7.0","10800","313"`, out)
		r.Process(`"0","10800","314"`, out)

		warnings := 0
		for _, c := range out.comments() {
			if strings.Contains(c, "unexpected value") {
				warnings++
				if !strings.Contains(c, "(id 164)") {
					t.Errorf("warning does not reference id 164: %s", c)
				}
			}
		}
		if warnings != 1 {
			t.Errorf("expected exactly 1 warning, got %d", warnings)
		}
		if r.Stats().Warnings != 1 {
			t.Errorf("expected Warnings=1, got %d", r.Stats().Warnings)
		}
	})

	t.Run("rounds to zero", func(t *testing.T) {
		r := newTestReconciler(map[int64]Remap{313: RemapToID(164)})
		out := &captureEmitter{}
		r.Process(`"0.00001","3600","313"`, out)
		if r.Stats().Warnings != 0 {
			t.Errorf("value rendering as 0.0000 should not warn")
		}
	})
}

func TestProcessUnmappedIdentifier(t *testing.T) {
	r := newTestReconciler(map[int64]Remap{313: RemapToID(164)})
	out := &captureEmitter{}

	if err := r.Process(`"1.0","1700000000","999"`, out); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if len(out.statements()) != 0 {
		t.Errorf("expected no statements, got %v", out.statements())
	}
	comments := out.comments()
	if len(comments) != 1 || !strings.Contains(comments[0], "malformed line") {
		t.Errorf("expected one malformed comment, got %v", comments)
	}
	if r.Stats().Malformed != 1 {
		t.Errorf("expected Malformed=1, got %d", r.Stats().Malformed)
	}
}

func TestProcessMalformedLines(t *testing.T) {
	lines := []string{
		`"unavailable","1700000000","313"`,
		`"1.0","yesterday","313"`,
		`"1.0","1700000000","abc"`,
		`"1.0","1700000000"`,
		`"1.0","1700000000","313","extra"`,
		`"NaN","1700000000","313"`,
		`"1.0,"1700000000","313"`,
		`"1.0","-1","313"`,
		`"1.0","0","313"`,
		`"1.0","1e19","313"`,
	}

	for _, line := range lines {
		t.Run(line, func(t *testing.T) {
			r := newTestReconciler(map[int64]Remap{313: RemapToID(164)})
			out := &captureEmitter{}
			if err := r.Process(line, out); err != nil {
				t.Fatalf("Process failed: %v", err)
			}
			if len(out.lines) != 1 || !strings.HasPrefix(out.lines[0], "-- "+util.ErrMalformed.Error()+": ") {
				t.Errorf("expected single malformed comment, got %v", out.lines)
			}
		})
	}
}

func TestProcessDropAndKeep(t *testing.T) {
	r := New(Config{IdentifierMap: NewIdentifierMap(map[int64]Remap{
		10: DropID(),
		20: KeepID(),
	})})
	out := &captureEmitter{}

	r.Process(`"0","3600","10"`, out)
	if len(out.lines) != 0 {
		t.Fatalf("dropped identifier produced output: %v", out.lines)
	}

	r.Process(`"0","3600","20"`, out)
	stmts := out.statements()
	if len(stmts) != 1 || !strings.Contains(stmts[0], ", 20, ") {
		t.Errorf("expected kept identifier 20, got %v", stmts)
	}
	if !strings.HasPrefix(out.lines[0], "-- statistic 20 ") {
		t.Errorf("expected fallback name in comment, got %s", out.lines[0])
	}
	if r.Stats().Dropped != 1 {
		t.Errorf("expected Dropped=1, got %d", r.Stats().Dropped)
	}
}

func TestProcessAtMostOneStatementPerBucket(t *testing.T) {
	r := New(Config{IdentifierMap: NewIdentifierMap(map[int64]Remap{
		1: RemapToID(100),
		2: RemapToID(100),
		3: RemapToID(200),
	})})
	out := &captureEmitter{}

	for i := 0; i < 500; i++ {
		ts := 1700000000 + i*397
		src := 1 + i%3
		r.Process(fmt.Sprintf(`"%d","%d","%d"`, i, ts, src), out)
	}

	seen := make(map[string]bool)
	for _, stmt := range out.statements() {
		// key on metadata_id + start_ts
		open := strings.Index(stmt, "VALUES (")
		parts := strings.Split(strings.TrimSuffix(stmt[open+8:], ");"), ", ")
		key := parts[2] + "@" + parts[4]
		if seen[key] {
			t.Fatalf("duplicate statement for %s", key)
		}
		seen[key] = true
	}
	if len(seen) == 0 {
		t.Fatal("no statements emitted")
	}
}

func TestProcessPropagatesWriteErrors(t *testing.T) {
	r := newTestReconciler(map[int64]Remap{313: RemapToID(164)})
	boom := errors.New("disk full")
	out := &captureEmitter{fail: boom}

	if err := r.Process(`"0","3600","313"`, out); !errors.Is(err, boom) {
		t.Errorf("expected write error, got %v", err)
	}
}

func TestProcessFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "merged.csv")
	content := "\"0\",\"3600\",\"313\"\r\n\n\"1\",\"7200\",\"313\"\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	r := newTestReconciler(map[int64]Remap{313: RemapToID(164)})
	out := &captureEmitter{}
	lines := 0
	if err := ProcessFile(path, r, out, func() { lines++ }); err != nil {
		t.Fatalf("ProcessFile failed: %v", err)
	}

	if lines != 2 {
		t.Errorf("expected 2 processed lines, got %d", lines)
	}
	if r.Stats().Statements != 2 {
		t.Errorf("expected 2 statements, got %d", r.Stats().Statements)
	}
}

func TestBucketStart(t *testing.T) {
	tests := []struct {
		ts   float64
		want int64
	}{
		{0, 0},
		{100, 0},
		{3599.9, 0},
		{3600, 3600},
		{1700000000, 1699999200},
		{1700000000.75, 1699999200},
		{-1, -3600},
		{-3600, -3600},
		{-3601, -7200},
	}
	for _, tt := range tests {
		if got := BucketStart(tt.ts, 3600); got != tt.want {
			t.Errorf("BucketStart(%v) = %d, want %d", tt.ts, got, tt.want)
		}
	}
}

func TestFormatNumber(t *testing.T) {
	tests := map[float64]string{
		12.3456:    "12.3456",
		0:          "0.0000",
		1.23456789: "1.2346",
		-2.5:       "-2.5000",
		1699999200: "1699999200.0000",
	}
	for in, want := range tests {
		if got := FormatNumber(in); got != want {
			t.Errorf("FormatNumber(%v) = %q, want %q", in, got, want)
		}
	}
}
