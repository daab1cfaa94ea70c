package reconcile

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultInterval is the bucket width in seconds (one hour)
const DefaultInterval int64 = 3600

// DefaultTable is the destination aggregation table
const DefaultTable = "statistics"

// Emitter receives the reconciled output in emission order.
// Comments document the statement that follows them.
type Emitter interface {
	Comment(text string) error
	Statement(sql string) error
}

// LineProcessor consumes one merged line at a time
type LineProcessor interface {
	Process(line string, out Emitter) error
}

// Stats counts what a reconciliation produced
type Stats struct {
	Records    int // lines read
	Statements int // SQL statements emitted
	Comments   int // diagnostic comments emitted
	Malformed  int // lines skipped as unparseable or unmapped
	Dropped    int // lines discarded by a drop mapping
	Duplicates int // lines skipped because their bucket was already emitted
	Warnings   int // anomalous start values
}

// Add accumulates other into s
func (s *Stats) Add(other Stats) {
	s.Records += other.Records
	s.Statements += other.Statements
	s.Comments += other.Comments
	s.Malformed += other.Malformed
	s.Dropped += other.Dropped
	s.Duplicates += other.Duplicates
	s.Warnings += other.Warnings
}

// ProcessFile streams a merged file line by line through p.
// onLine is called after every line (progress reporting) and may be nil.
func ProcessFile(path string, p LineProcessor, out Emitter, onLine func()) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open merged file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		if err := p.Process(line, out); err != nil {
			return err
		}
		if onLine != nil {
			onLine()
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return nil
}

// FormatNumber renders a float as a fixed 4-decimal literal.
// Decimal rounding keeps the text stable across reruns.
func FormatNumber(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(4)
}

// isApproxZero reports whether v renders as 0.0000
func isApproxZero(v float64) bool {
	return decimal.NewFromFloat(v).Round(4).IsZero()
}

// sanitizeComment keeps a diagnostic on a single line
func sanitizeComment(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
