package reconcile

import (
	"errors"
	"reflect"
	"testing"

	"github.com/franz/history-restorer/internal/util"
)

func TestParseRemap(t *testing.T) {
	tests := []struct {
		in   string
		want Remap
	}{
		{"keep", KeepID()},
		{" DROP ", DropID()},
		{"164", RemapToID(164)},
	}
	for _, tt := range tests {
		got, err := ParseRemap(tt.in)
		if err != nil {
			t.Fatalf("ParseRemap(%q) failed: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseRemap(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if _, err := ParseRemap("discard"); !errors.Is(err, util.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestRemapResolve(t *testing.T) {
	if dest, ok := KeepID().Resolve(5); !ok || dest != 5 {
		t.Errorf("keep: got %d, %v", dest, ok)
	}
	if dest, ok := RemapToID(9).Resolve(5); !ok || dest != 9 {
		t.Errorf("remap: got %d, %v", dest, ok)
	}
	if _, ok := DropID().Resolve(5); ok {
		t.Error("drop should not resolve")
	}
}

func TestParseIdentifierMap(t *testing.T) {
	m, err := ParseIdentifierMap(map[string]string{"313": "164", "400": "keep", "401": "drop"})
	if err != nil {
		t.Fatalf("ParseIdentifierMap failed: %v", err)
	}

	if got := m.SourceIDs(); !reflect.DeepEqual(got, []int64{313, 400, 401}) {
		t.Errorf("SourceIDs = %v", got)
	}
	if r, ok := m.Lookup(313); !ok || r != RemapToID(164) {
		t.Errorf("Lookup(313) = %v, %v", r, ok)
	}
	if _, ok := m.Lookup(999); ok {
		t.Error("Lookup(999) should miss")
	}

	if _, err := ParseIdentifierMap(map[string]string{"abc": "1"}); !errors.Is(err, util.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestIdentifierMapIsImmutable(t *testing.T) {
	entries := map[int64]Remap{1: KeepID()}
	m := NewIdentifierMap(entries)
	entries[2] = DropID()

	if m.Len() != 1 {
		t.Errorf("map changed through caller's entries: len %d", m.Len())
	}

	merged := m.Merge(NewIdentifierMap(map[int64]Remap{1: DropID(), 3: RemapToID(4)}))
	if r, _ := m.Lookup(1); r != KeepID() {
		t.Error("Merge modified the receiver")
	}
	if r, _ := merged.Lookup(1); r != DropID() {
		t.Error("Merge did not override")
	}
	if merged.Len() != 2 {
		t.Errorf("expected merged len 2, got %d", merged.Len())
	}
}
