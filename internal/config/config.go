// Package config decodes and validates the restorer configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/franz/history-restorer/internal/extract"
	"github.com/franz/history-restorer/internal/reconcile"
	"github.com/franz/history-restorer/internal/snapshot"
	"github.com/franz/history-restorer/internal/util"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable (HSR_WORK_DIR, ...)
const EnvPrefix = "HSR"

// Config is the complete restorer configuration
type Config struct {
	DB        string            `mapstructure:"db"`
	WorkDir   string            `mapstructure:"work_dir"`
	Output    string            `mapstructure:"output"`
	Cutoff    string            `mapstructure:"cutoff"`
	Interval  int64             `mapstructure:"interval"`
	DestTable string            `mapstructure:"dest_table"`
	Snapshots SnapshotConfig    `mapstructure:"snapshots"`
	Metadata  MetadataConfig    `mapstructure:"metadata"`
	Sensors   []SensorConfig    `mapstructure:"sensors"`
	Remap     map[string]string `mapstructure:"remap"`
	Tables    []TableConfig     `mapstructure:"tables"`
	Events    EventConfig       `mapstructure:"events"`
}

// SnapshotConfig locates the restored snapshots
type SnapshotConfig struct {
	Dir            string   `mapstructure:"dir"`
	DBName         string   `mapstructure:"db_name"`
	IDs            []string `mapstructure:"ids"`
	RestoreCommand string   `mapstructure:"restore_command"`
}

// MetadataConfig selects what the consistency checker compares
type MetadataConfig struct {
	Pattern      string   `mapstructure:"pattern"`
	SchemaTables []string `mapstructure:"schema_tables"`
}

// SensorConfig maps the states of one sensor onto a destination statistic
type SensorConfig struct {
	Name      string  `mapstructure:"name"`
	SourceIDs []int64 `mapstructure:"source_ids"`
	DestID    int64   `mapstructure:"dest_id"`
	DestName  string  `mapstructure:"dest_name"`
}

// TableConfig copies rows of a wide table, remapping one identifier column
type TableConfig struct {
	Name       string            `mapstructure:"name"`
	IDColumn   string            `mapstructure:"id_column"`
	TimeColumn string            `mapstructure:"time_column"`
	Columns    []string          `mapstructure:"columns"`
	Remap      map[string]string `mapstructure:"remap"`
}

// EventConfig controls the JSONL event log
type EventConfig struct {
	Dir   string `mapstructure:"dir"`
	Level string `mapstructure:"level"`
}

// defaults are registered so environment variables override them
var defaults = map[string]any{
	"db":                        "hsr-state.db",
	"work_dir":                  "work",
	"output":                    "restore.sql",
	"cutoff":                    "",
	"interval":                  reconcile.DefaultInterval,
	"dest_table":                reconcile.DefaultTable,
	"snapshots.dir":             "snapshots",
	"snapshots.db_name":         snapshot.DefaultDBName,
	"snapshots.restore_command": "",
	"metadata.pattern":          extract.DefaultPattern,
	"metadata.schema_tables":    []string{"states", "states_meta", "statistics", "statistics_meta"},
	"events.dir":                "",
	"events.level":              "info",
}

// Bind registers defaults and environment lookup on v
func Bind(v *viper.Viper) {
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// LoadDotEnv loads KEY=VALUE pairs from path into the environment.
// A missing file is not an error; existing variables are not overridden.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load decodes v into a validated Config
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for contradictions
func (c *Config) Validate() error {
	var problems []string

	if c.WorkDir == "" {
		problems = append(problems, "work_dir is required")
	}
	if c.Interval <= 0 {
		problems = append(problems, "interval must be positive")
	}
	if _, err := c.CutoffEpoch(); err != nil {
		problems = append(problems, err.Error())
	}

	seenSensors := make(map[string]bool)
	seenSources := make(map[int64]string)
	for i, s := range c.Sensors {
		if s.Name == "" {
			problems = append(problems, fmt.Sprintf("sensors[%d]: name is required", i))
			continue
		}
		if seenSensors[s.Name] {
			problems = append(problems, fmt.Sprintf("sensor %s listed twice", s.Name))
		}
		seenSensors[s.Name] = true
		if len(s.SourceIDs) == 0 {
			problems = append(problems, fmt.Sprintf("sensor %s: source_ids is empty", s.Name))
		}
		for _, id := range s.SourceIDs {
			if other, ok := seenSources[id]; ok && other != s.Name {
				problems = append(problems, fmt.Sprintf("source id %d used by both %s and %s", id, other, s.Name))
			}
			seenSources[id] = s.Name
		}
	}

	if _, err := reconcile.ParseIdentifierMap(c.Remap); err != nil {
		problems = append(problems, err.Error())
	}

	seenTables := make(map[string]bool)
	for i, t := range c.Tables {
		if t.Name == "" || t.IDColumn == "" {
			problems = append(problems, fmt.Sprintf("tables[%d]: name and id_column are required", i))
			continue
		}
		if seenTables[t.Name] {
			problems = append(problems, fmt.Sprintf("table %s listed twice", t.Name))
		}
		seenTables[t.Name] = true
		if _, err := c.TableRemap(t); err != nil {
			problems = append(problems, fmt.Sprintf("table %s: %v", t.Name, err))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", util.ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// CutoffEpoch parses the cutoff as epoch seconds, RFC 3339 or a date.
// An empty cutoff returns 0 (no cutoff).
func (c *Config) CutoffEpoch() (float64, error) {
	s := strings.TrimSpace(c.Cutoff)
	if s == "" {
		return 0, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return float64(t.Unix()), nil
		}
	}
	return 0, fmt.Errorf("cutoff %q is neither epoch seconds nor a date", c.Cutoff)
}

// IdentifierMap builds the hourly reconciler map: every sensor source id
// maps to the sensor's destination, then explicit remap entries override.
func (c *Config) IdentifierMap() (reconcile.IdentifierMap, error) {
	entries := make(map[int64]reconcile.Remap)
	for _, s := range c.Sensors {
		for _, id := range s.SourceIDs {
			if s.DestID == 0 || s.DestID == id {
				entries[id] = reconcile.KeepID()
			} else {
				entries[id] = reconcile.RemapToID(s.DestID)
			}
		}
	}
	explicit, err := reconcile.ParseIdentifierMap(c.Remap)
	if err != nil {
		return reconcile.IdentifierMap{}, err
	}
	return reconcile.NewIdentifierMap(entries).Merge(explicit), nil
}

// DestinationNames maps destination ids to the names used in comments
func (c *Config) DestinationNames() map[int64]string {
	names := make(map[int64]string)
	for _, s := range c.Sensors {
		name := s.DestName
		if name == "" {
			name = s.Name
		}
		if s.DestID != 0 {
			names[s.DestID] = name
			continue
		}
		for _, id := range s.SourceIDs {
			names[id] = name
		}
	}
	return names
}

// TableRemap returns a table's identifier map; without its own entries the
// global remap applies.
func (c *Config) TableRemap(t TableConfig) (reconcile.IdentifierMap, error) {
	if len(t.Remap) > 0 {
		return reconcile.ParseIdentifierMap(t.Remap)
	}
	return reconcile.ParseIdentifierMap(c.Remap)
}

// ExtractConfig translates the configuration for the extractor
func (c *Config) ExtractConfig() (extract.Config, error) {
	cutoff, err := c.CutoffEpoch()
	if err != nil {
		return extract.Config{}, fmt.Errorf("%w: %v", util.ErrInvalidConfig, err)
	}

	cfg := extract.Config{
		WorkDir:      c.WorkDir,
		Pattern:      c.Metadata.Pattern,
		SchemaTables: c.Metadata.SchemaTables,
		Cutoff:       cutoff,
	}
	for _, s := range c.Sensors {
		cfg.Sensors = append(cfg.Sensors, extract.Sensor{Name: s.Name, SourceIDs: s.SourceIDs})
	}
	for _, t := range c.Tables {
		m, err := c.TableRemap(t)
		if err != nil {
			return extract.Config{}, err
		}
		cfg.Tables = append(cfg.Tables, extract.Table{
			Name:       t.Name,
			IDColumn:   t.IDColumn,
			TimeColumn: t.TimeColumn,
			IDs:        m.SourceIDs(),
		})
	}
	return cfg, nil
}

// SnapshotStore opens the configured snapshot directory
func (c *Config) SnapshotStore() (*snapshot.Store, error) {
	return snapshot.NewStore(c.Snapshots.Dir, c.Snapshots.DBName, c.Snapshots.IDs)
}

// Restorer returns the configured restore command, or nil
func (c *Config) Restorer() snapshot.Restorer {
	if strings.TrimSpace(c.Snapshots.RestoreCommand) == "" {
		return nil
	}
	return &snapshot.CommandRestorer{Command: c.Snapshots.RestoreCommand}
}

// EventDir returns where event logs are written
func (c *Config) EventDir() string {
	if c.Events.Dir != "" {
		return c.Events.Dir
	}
	return filepath.Join(c.WorkDir, "events")
}

// EnsureDirs creates the work directory
func (c *Config) EnsureDirs() error {
	if err := os.MkdirAll(c.WorkDir, 0755); err != nil {
		return fmt.Errorf("failed to create work directory: %w", err)
	}
	return nil
}
