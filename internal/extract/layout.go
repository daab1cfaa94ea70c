package extract

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Kind identifies what a dataset holds
type Kind string

const (
	KindMeta   Kind = "meta"   // metadata rows, pipe separated
	KindSchema Kind = "schema" // CREATE statements of one table
	KindStates Kind = "states" // raw states of one sensor, quoted CSV
	KindTable  Kind = "table"  // generic table rows, pipe separated
)

// Dataset is one logical extract, produced once per snapshot
type Dataset struct {
	Kind Kind
	Name string
}

func (d Dataset) String() string {
	return string(d.Kind) + ":" + d.Name
}

// FileName returns the deterministic file name of the dataset
func (d Dataset) FileName() string {
	name := sanitize(d.Name)
	switch d.Kind {
	case KindSchema:
		return fmt.Sprintf("schema_%s.sql", name)
	case KindStates:
		return fmt.Sprintf("states_%s.csv", name)
	case KindTable:
		return fmt.Sprintf("table_%s.psv", name)
	default:
		return fmt.Sprintf("meta_%s.psv", name)
	}
}

// Checked reports whether the consistency checker compares this dataset
func (d Dataset) Checked() bool {
	return d.Kind == KindMeta || d.Kind == KindSchema
}

// Merged reports whether the merger combines this dataset
func (d Dataset) Merged() bool {
	return d.Kind == KindStates || d.Kind == KindTable
}

// SnapshotDir returns the directory holding one snapshot's extracts
func SnapshotDir(workDir, snapshotID string) string {
	return filepath.Join(workDir, "extract", snapshotID)
}

// Path returns the extract file of a dataset in one snapshot
func Path(workDir, snapshotID string, d Dataset) string {
	return filepath.Join(SnapshotDir(workDir, snapshotID), d.FileName())
}

// MergedPath returns the merged file of a dataset
func MergedPath(workDir string, d Dataset) string {
	return filepath.Join(workDir, "merged", d.FileName())
}

// sanitize keeps dataset names usable as file names
func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, name)
}
