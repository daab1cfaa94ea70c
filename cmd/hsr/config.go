package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/franz/history-restorer/internal/config"
	"github.com/franz/history-restorer/internal/pipeline"
	"github.com/franz/history-restorer/internal/report"
	"github.com/franz/history-restorer/internal/store"
	"github.com/franz/history-restorer/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Show every configuration key with the value hsr will use.

Values are resolved with this precedence:
1. Command-line flag (if set)
2. Environment variable (HSR_*, including values from .env)
3. Config file
4. Default value

The configuration is validated; problems are listed and fail the command.`,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	keys := viper.AllKeys()
	sort.Strings(keys)

	out := cmd.OutOrStdout()
	for _, key := range keys {
		fmt.Fprintf(out, "%s = %v\n", key, viper.Get(key))
	}

	if _, err := config.Load(viper.GetViper()); err != nil {
		return err
	}
	util.SuccessLog("Configuration is valid")
	return nil
}

// session bundles what every pipeline command opens
type session struct {
	cfg      *config.Config
	ledger   *store.Store
	logger   *report.EventLogger
	pipeline *pipeline.Pipeline
}

// loadConfig decodes and validates the configuration
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newEventLogger creates the JSONL event log, falling back to a no-op logger
func newEventLogger(cfg *config.Config) *report.EventLogger {
	level := report.ParseLevel(cfg.Events.Level)
	if util.IsQuiet() {
		level = report.LevelWarning
	} else if util.IsVerbose() {
		level = report.LevelDebug
	}

	logger, err := report.NewEventLogger(cfg.EventDir(), level, report.NewRunID())
	if err != nil {
		util.WarnLog("Failed to create event logger: %v", err)
		return report.NullLogger()
	}
	util.DebugLog("Event log: %s", logger.Path())
	return logger
}

// openSession loads the configuration and opens the ledger, event log and pipeline
func openSession() (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	util.DebugLog("Opening database: %s", cfg.DB)
	ledger, err := store.Open(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	logger := newEventLogger(cfg)

	p, err := pipeline.New(cfg, pipeline.Options{Ledger: ledger, Logger: logger})
	if err != nil {
		logger.Close()
		ledger.Close()
		return nil, err
	}

	return &session{cfg: cfg, ledger: ledger, logger: logger, pipeline: p}, nil
}

// track runs fn as one recorded command
func (s *session) track(command string, fn func(run *store.Run) error) error {
	return pipeline.Track(s.ledger, s.logger, command, fn)
}

func (s *session) Close() {
	s.logger.Close()
	s.ledger.Close()
}

// snapshotIDs renders a snapshot id list for log lines
func snapshotIDs(ids []string) string {
	if len(ids) == 0 {
		return "(none)"
	}
	return strings.Join(ids, ", ")
}
