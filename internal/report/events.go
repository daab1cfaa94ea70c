package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventRun       EventType = "run"
	EventRestore   EventType = "restore"
	EventExtract   EventType = "extract"
	EventSkip      EventType = "skip"
	EventCheck     EventType = "check"
	EventMerge     EventType = "merge"
	EventReconcile EventType = "reconcile"
	EventOutput    EventType = "output"
	EventError     EventType = "error"
)

// EventLevel represents the severity level
type EventLevel string

const (
	LevelDebug   EventLevel = "debug"
	LevelInfo    EventLevel = "info"
	LevelWarning EventLevel = "warning"
	LevelError   EventLevel = "error"
)

// levelPriority maps event levels to numeric priorities for comparison
var levelPriority = map[EventLevel]int{
	LevelDebug:   0,
	LevelInfo:    1,
	LevelWarning: 2,
	LevelError:   3,
}

// ParseLevel converts a config string to an EventLevel, defaulting to info
func ParseLevel(s string) EventLevel {
	level := EventLevel(s)
	if _, ok := levelPriority[level]; ok {
		return level
	}
	return LevelInfo
}

// Event represents a single event in the pipeline
type Event struct {
	Timestamp  time.Time         `json:"ts"`
	RunID      string            `json:"run_id"`
	Level      EventLevel        `json:"level"`
	Event      EventType         `json:"event"`
	Snapshot   string            `json:"snapshot,omitempty"`
	Dataset    string            `json:"dataset,omitempty"`
	Path       string            `json:"path,omitempty"`
	Rows       int64             `json:"rows,omitempty"`
	Statements int               `json:"statements,omitempty"`
	Malformed  int               `json:"malformed,omitempty"`
	Warnings   int               `json:"warnings,omitempty"`
	Bytes      int64             `json:"bytes,omitempty"`
	Duration   int64             `json:"duration_ms,omitempty"` // in milliseconds
	Reason     string            `json:"reason,omitempty"`
	Error      string            `json:"error,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// EventLogger writes events to a JSONL file
type EventLogger struct {
	file     *os.File
	encoder  *json.Encoder
	mu       sync.Mutex
	path     string
	runID    string
	minLevel EventLevel
}

// NewRunID returns a fresh run identifier
func NewRunID() string {
	return uuid.NewString()
}

// NewEventLogger creates a new event logger with a minimum log level
// minLevel determines which events are written (e.g., LevelInfo skips LevelDebug)
func NewEventLogger(outputDir string, minLevel EventLevel, runID string) (*EventLogger, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	if runID == "" {
		runID = NewRunID()
	}

	// Timestamp plus run id prefix keeps concurrent runs apart
	timestamp := time.Now().Format("20060102-150405")
	filename := fmt.Sprintf("events-%s-%.8s.jsonl", timestamp, runID)
	path := filepath.Join(outputDir, filename)

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create event log: %w", err)
	}

	return &EventLogger{
		file:     file,
		encoder:  json.NewEncoder(file),
		path:     path,
		runID:    runID,
		minLevel: minLevel,
	}, nil
}

// Log writes an event to the JSONL file
func (l *EventLogger) Log(event *Event) error {
	if l == nil || l.file == nil {
		return nil // Silently ignore if logger not initialized
	}

	if levelPriority[event.Level] < levelPriority[l.minLevel] {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.RunID == "" {
		event.RunID = l.runID
	}

	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	return nil
}

func levelFor(err error, ok EventLevel) (EventLevel, string) {
	if err != nil {
		return LevelError, err.Error()
	}
	return ok, ""
}

// LogRun logs the start or end of a command
func (l *EventLogger) LogRun(command, phase string, err error) error {
	level, errMsg := levelFor(err, LevelInfo)
	return l.Log(&Event{
		Level:  level,
		Event:  EventRun,
		Reason: phase,
		Error:  errMsg,
		Extra:  map[string]string{"command": command},
	})
}

// LogRestore logs a snapshot restore
func (l *EventLogger) LogRestore(snapshotID, path string, duration time.Duration, err error) error {
	level, errMsg := levelFor(err, LevelInfo)
	return l.Log(&Event{
		Level:    level,
		Event:    EventRestore,
		Snapshot: snapshotID,
		Path:     path,
		Duration: duration.Milliseconds(),
		Error:    errMsg,
	})
}

// LogExtract logs one extracted artifact
func (l *EventLogger) LogExtract(snapshotID, dataset, path string, rows, bytes int64, duration time.Duration, err error) error {
	level, errMsg := levelFor(err, LevelInfo)
	return l.Log(&Event{
		Level:    level,
		Event:    EventExtract,
		Snapshot: snapshotID,
		Dataset:  dataset,
		Path:     path,
		Rows:     rows,
		Bytes:    bytes,
		Duration: duration.Milliseconds(),
		Error:    errMsg,
	})
}

// LogSkip logs an artifact that was already complete
func (l *EventLogger) LogSkip(snapshotID, dataset, path, reason string) error {
	return l.Log(&Event{
		Level:    LevelDebug,
		Event:    EventSkip,
		Snapshot: snapshotID,
		Dataset:  dataset,
		Path:     path,
		Reason:   reason,
	})
}

// LogDivergence logs a metadata or schema difference between two snapshots
func (l *EventLogger) LogDivergence(dataset, previous, current string, changedLines int) error {
	return l.Log(&Event{
		Level:    LevelWarning,
		Event:    EventCheck,
		Snapshot: current,
		Dataset:  dataset,
		Rows:     int64(changedLines),
		Extra:    map[string]string{"previous": previous},
	})
}

// LogMerge logs a merged dataset
func (l *EventLogger) LogMerge(dataset, path string, inputs int, lines, duplicates int64, duration time.Duration, err error) error {
	level, errMsg := levelFor(err, LevelInfo)
	return l.Log(&Event{
		Level:    level,
		Event:    EventMerge,
		Dataset:  dataset,
		Path:     path,
		Rows:     lines,
		Duration: duration.Milliseconds(),
		Error:    errMsg,
		Extra: map[string]string{
			"inputs":     fmt.Sprintf("%d", inputs),
			"duplicates": fmt.Sprintf("%d", duplicates),
		},
	})
}

// LogReconcile logs the counters of one reconciled dataset
func (l *EventLogger) LogReconcile(dataset string, records int64, statements, malformed, warnings int) error {
	level := LevelInfo
	if malformed > 0 || warnings > 0 {
		level = LevelWarning
	}
	return l.Log(&Event{
		Level:      level,
		Event:      EventReconcile,
		Dataset:    dataset,
		Rows:       records,
		Statements: statements,
		Malformed:  malformed,
		Warnings:   warnings,
	})
}

// LogOutput logs the final script
func (l *EventLogger) LogOutput(path string, statements int, bytes int64, err error) error {
	level, errMsg := levelFor(err, LevelInfo)
	return l.Log(&Event{
		Level:      level,
		Event:      EventOutput,
		Path:       path,
		Statements: statements,
		Bytes:      bytes,
		Error:      errMsg,
	})
}

// LogError logs an error event
func (l *EventLogger) LogError(event EventType, snapshotID, path string, err error) error {
	return l.Log(&Event{
		Level:    LevelError,
		Event:    event,
		Snapshot: snapshotID,
		Path:     path,
		Error:    err.Error(),
	})
}

// Close closes the event log file
func (l *EventLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.file.Close()
}

// Path returns the path to the event log file
func (l *EventLogger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// RunID returns the run identifier stamped on every event
func (l *EventLogger) RunID() string {
	if l == nil {
		return ""
	}
	return l.runID
}

// NullLogger returns a no-op event logger
func NullLogger() *EventLogger {
	return nil
}
