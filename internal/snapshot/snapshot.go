// Package snapshot resolves backup snapshots to restored recorder databases.
package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/franz/history-restorer/internal/util"
)

// DefaultDBName is the recorder database file name inside a snapshot directory
const DefaultDBName = "home-assistant_v2.db"

// Snapshot is a restored backup: an opaque id and the path of its database
type Snapshot struct {
	ID   string
	Path string
}

// Present reports whether the snapshot database exists
func (s Snapshot) Present() bool {
	_, ok := util.FileSize(s.Path)
	return ok
}

// Store lists snapshots in chronological order and resolves their paths
type Store struct {
	dir    string
	dbName string
	ids    []string
}

// NewStore creates a store rooted at dir. With no ids, every subdirectory
// of dir is a snapshot, ordered by name.
func NewStore(dir, dbName string, ids []string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: snapshot directory not set", util.ErrInvalidConfig)
	}
	if dbName == "" {
		dbName = DefaultDBName
	}

	if len(ids) == 0 {
		discovered, err := discover(dir)
		if err != nil {
			return nil, err
		}
		ids = discovered
	}

	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || id != filepath.Base(id) {
			return nil, fmt.Errorf("%w: invalid snapshot id %q", util.ErrInvalidConfig, id)
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: duplicate snapshot id %q", util.ErrInvalidConfig, id)
		}
		seen[id] = true
	}

	return &Store{dir: dir, dbName: dbName, ids: append([]string(nil), ids...)}, nil
}

// discover lists the subdirectories of dir sorted by name
func discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: snapshot directory %s", util.ErrNotFound, dir)
		}
		return nil, fmt.Errorf("failed to list snapshot directory: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Dir returns the snapshot root directory
func (s *Store) Dir() string {
	return s.dir
}

// IDs returns snapshot ids oldest first
func (s *Store) IDs() []string {
	return append([]string(nil), s.ids...)
}

// Resolve returns the snapshot for id
func (s *Store) Resolve(id string) Snapshot {
	return Snapshot{ID: id, Path: filepath.Join(s.dir, id, s.dbName)}
}

// Snapshots returns all snapshots oldest first
func (s *Store) Snapshots() []Snapshot {
	out := make([]Snapshot, len(s.ids))
	for i, id := range s.ids {
		out[i] = s.Resolve(id)
	}
	return out
}
