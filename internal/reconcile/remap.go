package reconcile

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/franz/history-restorer/internal/util"
)

// RemapKind tags what happens to a source identifier
type RemapKind int

const (
	// Keep passes the identifier through unchanged
	Keep RemapKind = iota
	// RemapTo replaces the identifier with Remap.To
	RemapTo
	// Drop discards every record carrying the identifier, without a diagnostic
	Drop
)

// Remap is the outcome configured for one source identifier
type Remap struct {
	Kind RemapKind
	To   int64
}

// KeepID returns a Remap that keeps the source identifier
func KeepID() Remap { return Remap{Kind: Keep} }

// RemapToID returns a Remap that rewrites the source identifier to id
func RemapToID(id int64) Remap { return Remap{Kind: RemapTo, To: id} }

// DropID returns a Remap that discards the record
func DropID() Remap { return Remap{Kind: Drop} }

// ParseRemap parses the configuration form: "keep", "drop" or a destination id
func ParseRemap(s string) (Remap, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "keep":
		return KeepID(), nil
	case "drop":
		return DropID(), nil
	}

	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return Remap{}, fmt.Errorf("%w: remap target %q is neither keep, drop nor an integer id", util.ErrInvalidConfig, s)
	}
	return RemapToID(id), nil
}

// Resolve returns the destination identifier for src.
// ok is false when the record must be dropped.
func (r Remap) Resolve(src int64) (dest int64, ok bool) {
	switch r.Kind {
	case Keep:
		return src, true
	case RemapTo:
		return r.To, true
	default:
		return 0, false
	}
}

func (r Remap) String() string {
	switch r.Kind {
	case Keep:
		return "keep"
	case RemapTo:
		return strconv.FormatInt(r.To, 10)
	default:
		return "drop"
	}
}

// IdentifierMap maps source identifiers to their Remap outcome.
// It is immutable once built.
type IdentifierMap struct {
	entries map[int64]Remap
}

// NewIdentifierMap copies entries into a new map
func NewIdentifierMap(entries map[int64]Remap) IdentifierMap {
	m := IdentifierMap{entries: make(map[int64]Remap, len(entries))}
	for k, v := range entries {
		m.entries[k] = v
	}
	return m
}

// ParseIdentifierMap builds a map from configuration strings ("313" -> "164")
func ParseIdentifierMap(raw map[string]string) (IdentifierMap, error) {
	entries := make(map[int64]Remap, len(raw))
	for k, v := range raw {
		src, err := strconv.ParseInt(strings.TrimSpace(k), 10, 64)
		if err != nil {
			return IdentifierMap{}, fmt.Errorf("%w: remap source %q is not an integer id", util.ErrInvalidConfig, k)
		}
		r, err := ParseRemap(v)
		if err != nil {
			return IdentifierMap{}, err
		}
		entries[src] = r
	}
	return IdentifierMap{entries: entries}, nil
}

// Lookup returns the outcome for src and whether it is mapped at all
func (m IdentifierMap) Lookup(src int64) (Remap, bool) {
	r, ok := m.entries[src]
	return r, ok
}

// Merge returns a new map with other's entries overriding m's
func (m IdentifierMap) Merge(other IdentifierMap) IdentifierMap {
	out := NewIdentifierMap(m.entries)
	for k, v := range other.entries {
		out.entries[k] = v
	}
	return out
}

// SourceIDs returns every mapped source identifier in ascending order
func (m IdentifierMap) SourceIDs() []int64 {
	ids := make([]int64, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of mapped identifiers
func (m IdentifierMap) Len() int {
	return len(m.entries)
}
