package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/franz/history-restorer/internal/config"
	"github.com/franz/history-restorer/internal/recorder"
	"github.com/franz/history-restorer/internal/snapshot"
	"github.com/franz/history-restorer/internal/store"
	"github.com/franz/history-restorer/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks on the environment and configuration",
	Long: `Run diagnostic checks to ensure hsr can operate correctly.

This command checks:
- Configuration validity
- SQLite version
- State database accessibility and integrity
- Snapshot databases (present and passing PRAGMA quick_check)
- Restore command availability
- Work and output directories (writable)
- Disk space in the work directory

Use this command to troubleshoot issues before running hsr operations.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

type checkResult struct {
	name    string
	message string
	error   bool
	warning bool
}

func runDoctor(cmd *cobra.Command, args []string) error {
	util.InfoLog("=== HSR Doctor - System Diagnostics ===")
	util.InfoLog("")

	results := []checkResult{}

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		results = append(results, checkResult{name: "Configuration", error: true, message: err.Error()})
	} else {
		results = append(results, checkResult{name: "Configuration", message: "valid"})
	}

	results = append(results, checkSQLite())
	results = append(results, checkDatabase(viper.GetString("db")))

	if cfg != nil {
		results = append(results, checkSnapshots(context.Background(), cfg)...)
		if cfg.Snapshots.RestoreCommand != "" {
			results = append(results, checkRestoreCommand(cfg.Snapshots.RestoreCommand))
		}
		results = append(results, checkWritableDir("Work directory", cfg.WorkDir))
		results = append(results, checkWritableDir("Output directory", filepath.Dir(cfg.Output)))
		results = append(results, checkDiskSpace(cfg.WorkDir, "work"))
	}

	// Print results
	util.InfoLog("")
	util.InfoLog("=== Diagnostic Results ===")
	util.InfoLog("")

	hasErrors := false
	hasWarnings := false

	for _, r := range results {
		symbol := "✓"
		if r.error {
			symbol = "✗"
			hasErrors = true
		} else if r.warning {
			symbol = "⚠"
			hasWarnings = true
		}

		line := fmt.Sprintf("[%s] %s", symbol, r.name)
		if r.message != "" {
			line += fmt.Sprintf(": %s", r.message)
		}

		if r.error {
			util.ErrorLog("%s", line)
		} else if r.warning {
			util.WarnLog("%s", line)
		} else {
			util.SuccessLog("%s", line)
		}
	}

	// Summary
	util.InfoLog("")
	if hasErrors {
		util.ErrorLog("❌ Some critical checks failed. Please resolve errors before running hsr.")
		return fmt.Errorf("system diagnostics failed")
	} else if hasWarnings {
		util.WarnLog("⚠️  Some checks produced warnings. Review them before proceeding.")
	} else {
		util.SuccessLog("✅ All checks passed! System is ready for hsr operations.")
	}

	return nil
}

// checkSQLite verifies SQLite version
func checkSQLite() checkResult {
	// modernc.org/sqlite is linked in; no external sqlite is needed
	version := store.SQLiteVersion()
	if version == "" {
		return checkResult{
			name:    "SQLite",
			error:   true,
			message: "unable to determine version",
		}
	}

	return checkResult{
		name:    "SQLite",
		message: fmt.Sprintf("version %s (built-in)", version),
	}
}

// checkDatabase verifies state database accessibility
func checkDatabase(dbPath string) checkResult {
	if dbPath == "" {
		return checkResult{
			name:    "State database",
			warning: true,
			message: "no database path specified (use --db flag or config)",
		}
	}

	info, err := os.Stat(dbPath)
	if err != nil {
		if os.IsNotExist(err) {
			return checkResult{
				name:    "State database",
				message: fmt.Sprintf("%s (will be created on first run)", dbPath),
			}
		}
		return checkResult{
			name:    "State database",
			error:   true,
			message: fmt.Sprintf("cannot access %s: %v", dbPath, err),
		}
	}

	if !info.Mode().IsRegular() {
		return checkResult{
			name:    "State database",
			error:   true,
			message: fmt.Sprintf("%s is not a regular file", dbPath),
		}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return checkResult{
			name:    "State database",
			error:   true,
			message: fmt.Sprintf("cannot open %s: %v", dbPath, err),
		}
	}
	defer db.Close()

	if err := db.CheckIntegrity(); err != nil {
		return checkResult{
			name:    "State database",
			error:   true,
			message: fmt.Sprintf("integrity check failed: %v", err),
		}
	}

	totals, _ := db.ArtifactTotals()
	files := int64(0)
	for _, t := range totals {
		files += t[0]
	}

	return checkResult{
		name:    "State database",
		message: fmt.Sprintf("%s (%s, %d files recorded)", dbPath, util.FormatBytes(info.Size()), files),
	}
}

// checkSnapshots opens every snapshot database and runs a quick check.
// A missing database is a warning: extraction skips it.
func checkSnapshots(ctx context.Context, cfg *config.Config) []checkResult {
	snaps, err := cfg.SnapshotStore()
	if err != nil {
		return []checkResult{{name: "Snapshots", error: true, message: err.Error()}}
	}
	if len(snaps.IDs()) == 0 {
		return []checkResult{{name: "Snapshots", error: true, message: fmt.Sprintf("no snapshots in %s", snaps.Dir())}}
	}

	var results []checkResult
	for _, s := range snaps.Snapshots() {
		results = append(results, checkSnapshot(ctx, s))
	}
	return results
}

func checkSnapshot(ctx context.Context, s snapshot.Snapshot) checkResult {
	name := fmt.Sprintf("Snapshot %s", s.ID)
	if !s.Present() {
		return checkResult{name: name, warning: true, message: fmt.Sprintf("no database at %s (restore it or it is skipped)", s.Path)}
	}

	db, err := recorder.OpenReadOnly(s.Path)
	if err != nil {
		return checkResult{name: name, error: true, message: err.Error()}
	}
	defer db.Close()

	if err := db.QuickCheck(ctx); err != nil {
		return checkResult{name: name, error: true, message: fmt.Sprintf("quick_check failed: %v", err)}
	}

	size, _ := util.FileSize(s.Path)
	return checkResult{name: name, message: fmt.Sprintf("%s (%s)", s.Path, util.FormatBytes(size))}
}

// checkRestoreCommand verifies the restore program can be found
func checkRestoreCommand(command string) checkResult {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return checkResult{name: "Restore command", warning: true, message: "empty"}
	}
	path, err := exec.LookPath(fields[0])
	if err != nil {
		return checkResult{
			name:    "Restore command",
			error:   true,
			message: fmt.Sprintf("%s not found in PATH", fields[0]),
		}
	}
	return checkResult{name: "Restore command", message: path}
}

// checkWritableDir verifies a directory exists (creating it if needed) and is writable
func checkWritableDir(name, path string) checkResult {
	if path == "" {
		path = "."
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(path, 0755); err != nil {
				return checkResult{
					name:    name,
					error:   true,
					message: fmt.Sprintf("cannot create %s: %v", path, err),
				}
			}
			return checkResult{
				name:    name,
				message: fmt.Sprintf("%s (created)", path),
			}
		}
		return checkResult{
			name:    name,
			error:   true,
			message: fmt.Sprintf("cannot access %s: %v", path, err),
		}
	}

	if !info.IsDir() {
		return checkResult{
			name:    name,
			error:   true,
			message: fmt.Sprintf("%s is not a directory", path),
		}
	}

	// Check write permission by creating a temp file
	testFile := filepath.Join(path, ".hsr_write_test")
	f, err := os.Create(testFile)
	if err != nil {
		return checkResult{
			name:    name,
			error:   true,
			message: fmt.Sprintf("cannot write to %s: %v", path, err),
		}
	}
	f.Close()
	os.Remove(testFile)

	return checkResult{
		name:    name,
		message: fmt.Sprintf("%s (writable)", path),
	}
}

// checkDiskSpace verifies available disk space
func checkDiskSpace(path string, label string) checkResult {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return checkResult{
			name:    fmt.Sprintf("Disk space (%s)", label),
			warning: true,
			message: fmt.Sprintf("cannot determine disk space: %v", err),
		}
	}

	availBytes := stat.Bavail * uint64(stat.Bsize)

	// Extracts and merged files are a few times the sensor history; warn under 1GB
	warning := availBytes < 1<<30
	msg := fmt.Sprintf("%s available", util.FormatBytes(int64(availBytes)))
	if warning {
		msg += " (low space!)"
	}

	return checkResult{
		name:    fmt.Sprintf("Disk space (%s)", label),
		warning: warning,
		message: msg,
	}
}
