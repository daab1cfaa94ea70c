package sqlout

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/franz/history-restorer/internal/util"
)

func TestWriterPreservesOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "restore.sql")

	w, err := Create(path)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	w.Comment("sensor.energy 2023-11-14 22:00:00 1.0000")
	w.Statement("INSERT OR IGNORE INTO statistics VALUES (1);")
	w.Blank()
	w.Comment("multi\nline")
	w.Statement("COMMIT;")

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("script visible before Close")
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read script: %v", err)
	}

	expected := "-- sensor.energy 2023-11-14 22:00:00 1.0000\n" +
		"INSERT OR IGNORE INTO statistics VALUES (1);\n" +
		"\n" +
		"-- multi line\n" +
		"COMMIT;\n"
	if string(data) != expected {
		t.Errorf("unexpected content:\n%s", data)
	}

	if w.Statements() != 2 || w.Comments() != 2 {
		t.Errorf("expected 2 statements and 2 comments, got %d and %d", w.Statements(), w.Comments())
	}
}

func TestWriterWriteAfterClose(t *testing.T) {
	w, err := Create(filepath.Join(t.TempDir(), "restore.sql"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	w.Close()

	if err := w.Statement("SELECT 1;"); !errors.Is(err, util.ErrWriteFailed) {
		t.Errorf("expected ErrWriteFailed, got %v", err)
	}
}

func TestWriterAbort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "restore.sql")
	w, err := Create(path)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	w.Statement("SELECT 1;")
	w.Abort()

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("aborted script should not exist")
	}
	if _, err := os.Stat(path + util.PartSuffix); !os.IsNotExist(err) {
		t.Error("aborted .part should be removed")
	}
}

func TestCreateFailsOnUnwritableDirectory(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0644); err != nil {
		t.Fatal(err)
	}

	// A regular file where a directory is expected
	_, err := Create(filepath.Join(blocker, "restore.sql"))
	if !errors.Is(err, util.ErrWriteFailed) {
		t.Errorf("expected ErrWriteFailed, got %v", err)
	}
}
