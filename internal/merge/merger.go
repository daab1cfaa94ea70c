package merge

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/franz/history-restorer/internal/util"
	"github.com/tidwall/btree"
)

// Format describes how to find the numeric sort key in a line
type Format struct {
	Delimiter rune
	KeyField  int  // 1-based
	Quoted    bool // fields may be double-quoted (CSV); otherwise backslash-escaped
}

var (
	// StatesFormat is the per-sensor extract: "state","last_updated_ts","metadata_id"
	StatesFormat = Format{Delimiter: ',', KeyField: 2, Quoted: true}

	// TableFormat is the generic table extract, keyed by row id
	TableFormat = Format{Delimiter: '|', KeyField: 1}
)

// Result summarises one merge
type Result struct {
	Inputs     int // input files read
	Missing    int // input files that did not exist
	Lines      int // non-empty lines read
	Unique     int // lines written
	Duplicates int // exact duplicate lines dropped
	Unkeyed    int // lines whose key did not parse (sorted first)
}

type entry struct {
	key  float64
	line string
}

func less(a, b entry) bool {
	if a.key != b.key {
		return a.key < b.key
	}
	return a.line < b.line
}

// Merge concatenates inputs (in the given order), removes byte-identical
// lines, sorts ascending by the format's key and atomically writes output.
// Missing inputs are skipped: a snapshot whose extraction failed simply
// contributes nothing.
func Merge(inputs []string, output string, format Format) (*Result, error) {
	result := &Result{}
	tree := btree.NewBTreeG[entry](less)

	for _, path := range inputs {
		if _, ok := util.FileSize(path); !ok {
			result.Missing++
			util.WarnLog("Merge input missing, skipping: %s", path)
			continue
		}
		if err := readInto(tree, path, format, result); err != nil {
			return nil, err
		}
		result.Inputs++
	}

	out, err := util.CreateAtomic(output)
	if err != nil {
		return nil, err
	}

	w := bufio.NewWriter(out)
	var writeErr error
	tree.Scan(func(e entry) bool {
		if _, writeErr = w.WriteString(e.line); writeErr != nil {
			return false
		}
		if writeErr = w.WriteByte('\n'); writeErr != nil {
			return false
		}
		result.Unique++
		return true
	})
	if writeErr == nil {
		writeErr = w.Flush()
	}
	if writeErr != nil {
		out.Abort()
		return nil, fmt.Errorf("failed to write %s: %w", output, writeErr)
	}
	if err := out.Commit(); err != nil {
		return nil, err
	}

	result.Duplicates = result.Lines - result.Unique
	return result, nil
}

func readInto(tree *btree.BTreeG[entry], path string, format Format, result *Result) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		result.Lines++

		key, ok := SortKey(line, format)
		if !ok {
			result.Unkeyed++
			key = math.Inf(-1)
		}
		tree.Set(entry{key: key, line: line})
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return nil
}

// SortKey extracts the numeric key field of a line
func SortKey(line string, format Format) (float64, bool) {
	var fields []string
	if format.Quoted {
		r := csv.NewReader(strings.NewReader(line))
		r.Comma = format.Delimiter
		r.FieldsPerRecord = -1
		var err error
		if fields, err = r.Read(); err != nil {
			return 0, false
		}
	} else {
		fields, _ = util.SplitFields(line, format.Delimiter)
	}

	if format.KeyField < 1 || format.KeyField > len(fields) {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(fields[format.KeyField-1]), 64)
	if err != nil || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}
