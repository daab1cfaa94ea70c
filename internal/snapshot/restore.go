package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/franz/history-restorer/internal/util"
)

// Restorer makes a snapshot's database available at its path
type Restorer interface {
	Restore(ctx context.Context, snap Snapshot) error
}

// CommandRestorer runs an external command once per snapshot.
// Placeholders {id}, {dir} and {path} are replaced in every argument.
type CommandRestorer struct {
	Command string
}

// Restore runs the command and checks that the database appeared.
// Any failure is fatal and wraps ErrRestoreFailed.
func (r *CommandRestorer) Restore(ctx context.Context, snap Snapshot) error {
	args := strings.Fields(r.Command)
	if len(args) == 0 {
		return fmt.Errorf("%w: no restore command configured", util.ErrInvalidConfig)
	}

	dir := filepath.Dir(snap.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: snapshot %s: %v", util.ErrRestoreFailed, snap.ID, err)
	}

	replacer := strings.NewReplacer("{id}", snap.ID, "{dir}", dir, "{path}", snap.Path)
	for i, a := range args {
		args[i] = replacer.Replace(a)
	}

	util.DebugLog("Restoring snapshot %s: %s", snap.ID, strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%w: snapshot %s: exit code %d (output: %s)",
				util.ErrRestoreFailed, snap.ID, exitErr.ExitCode(), strings.TrimSpace(string(output)))
		}
		return fmt.Errorf("%w: snapshot %s: %v", util.ErrRestoreFailed, snap.ID, err)
	}

	if !snap.Present() {
		return fmt.Errorf("%w: snapshot %s: command succeeded but %s is missing",
			util.ErrRestoreFailed, snap.ID, snap.Path)
	}
	return nil
}

// RestoreMissing restores every snapshot whose database is absent.
// It stops at the first failure. onRestored is called after each success.
func RestoreMissing(ctx context.Context, snaps []Snapshot, r Restorer, onRestored func(Snapshot)) (int, error) {
	restored := 0
	for _, snap := range snaps {
		if snap.Present() {
			util.DebugLog("Snapshot %s already restored", snap.ID)
			continue
		}
		if r == nil {
			return restored, fmt.Errorf("%w: snapshot %s is missing and no restore command is configured",
				util.ErrRestoreFailed, snap.ID)
		}
		if err := r.Restore(ctx, snap); err != nil {
			return restored, err
		}
		restored++
		if onRestored != nil {
			onRestored(snap)
		}
	}
	return restored, nil
}
