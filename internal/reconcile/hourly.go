package reconcile

import (
	"encoding/csv"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/franz/history-restorer/internal/util"
)

// MaxTimestamp is the last second of year 9999; later timestamps are malformed
const MaxTimestamp = 253402300799

// Config configures the hourly statistics Reconciler
type Config struct {
	// IdentifierMap resolves source metadata ids to destination statistic ids
	IdentifierMap IdentifierMap

	// Names maps destination ids to human-readable statistic names for comments
	Names map[int64]string

	// Interval is the bucket width in seconds (DefaultInterval if zero)
	Interval int64

	// Table is the destination table (DefaultTable if empty)
	Table string
}

// Reconciler turns a merged, time-ordered stream of raw state rows into
// INSERT OR IGNORE statements, one per destination id and hourly bucket.
//
// Precondition: the source quantity is a total that only grows until it is
// reset, so the first value inside a bucket is written as both state and sum.
// Applying it to any other kind of sensor corrupts the sum column.
type Reconciler struct {
	idMap    IdentifierMap
	names    map[int64]string
	interval int64
	table    string

	seenInitial map[int64]bool
	seenBuckets map[int64]map[int64]struct{}
	stats       Stats
}

// New creates a Reconciler. State is per instance; one instance per run.
func New(cfg Config) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}

	names := make(map[int64]string, len(cfg.Names))
	for k, v := range cfg.Names {
		names[k] = v
	}

	return &Reconciler{
		idMap:       cfg.IdentifierMap,
		names:       names,
		interval:    cfg.Interval,
		table:       cfg.Table,
		seenInitial: make(map[int64]bool),
		seenBuckets: make(map[int64]map[int64]struct{}),
	}
}

// Stats returns the counters accumulated so far
func (r *Reconciler) Stats() Stats {
	return r.stats
}

// BucketStart returns the start of the interval containing ts, rounding
// towards negative infinity.
func BucketStart(ts float64, interval int64) int64 {
	iv := float64(interval)
	m := math.Mod(ts, iv)
	if m < 0 {
		m += iv
	}
	return int64(ts - m)
}

// Process handles one merged CSV line: "value","timestamp","metadata_id".
// Only output errors are returned; bad lines become comments.
func (r *Reconciler) Process(line string, out Emitter) error {
	r.stats.Records++

	rec, err := parseRawRecord(line)
	if err != nil {
		return r.malformed(out, line, err.Error())
	}

	remap, ok := r.idMap.Lookup(rec.SourceID)
	if !ok {
		return r.malformed(out, line, fmt.Sprintf("unrecognized metadata id %d", rec.SourceID))
	}
	dest, keep := remap.Resolve(rec.SourceID)
	if !keep {
		r.stats.Dropped++
		return nil
	}

	if !r.seenInitial[dest] {
		r.seenInitial[dest] = true
		if !isApproxZero(rec.Value) {
			r.stats.Warnings++
			msg := fmt.Sprintf("WARNING: unexpected value %s in first record of %s (id %d), expected 0 - history is likely incomplete",
				FormatNumber(rec.Value), r.name(dest), dest)
			if err := r.comment(out, msg); err != nil {
				return err
			}
		}
	}

	bucket := BucketStart(rec.Timestamp, r.interval)
	buckets := r.seenBuckets[dest]
	if buckets == nil {
		buckets = make(map[int64]struct{})
		r.seenBuckets[dest] = buckets
	}
	if _, seen := buckets[bucket]; seen {
		r.stats.Duplicates++
		return nil
	}
	buckets[bucket] = struct{}{}

	when := time.Unix(bucket, 0).UTC().Format("2006-01-02 15:04:05")
	if err := r.comment(out, fmt.Sprintf("%s %s %s", r.name(dest), when, FormatNumber(rec.Value))); err != nil {
		return err
	}

	value := FormatNumber(rec.Value)
	start := FormatNumber(float64(bucket))
	created := FormatNumber(float64(bucket + r.interval))
	stmt := fmt.Sprintf("INSERT OR IGNORE INTO %s (state, sum, metadata_id, created_ts, start_ts) VALUES (%s, %s, %d, %s, %s);",
		r.table, value, value, dest, created, start)
	if err := out.Statement(stmt); err != nil {
		return err
	}
	r.stats.Statements++
	return nil
}

func (r *Reconciler) name(dest int64) string {
	if n, ok := r.names[dest]; ok && n != "" {
		return n
	}
	return fmt.Sprintf("statistic %d", dest)
}

func (r *Reconciler) comment(out Emitter, text string) error {
	if err := out.Comment(sanitizeComment(text)); err != nil {
		return err
	}
	r.stats.Comments++
	return nil
}

func (r *Reconciler) malformed(out Emitter, line, reason string) error {
	r.stats.Malformed++
	return r.comment(out, fmt.Errorf("%w: %s (%s)", util.ErrMalformed, line, reason).Error())
}

// RawRecord is one parsed row of the states extract
type RawRecord struct {
	Value     float64
	Timestamp float64
	SourceID  int64
}

func parseRawRecord(line string) (RawRecord, error) {
	reader := csv.NewReader(strings.NewReader(line))
	reader.FieldsPerRecord = 3
	fields, err := reader.Read()
	if err != nil {
		return RawRecord{}, fmt.Errorf("expected 3 fields")
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return RawRecord{}, fmt.Errorf("non-numeric value %q", fields[0])
	}
	ts, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if err != nil || math.IsNaN(ts) || math.IsInf(ts, 0) {
		return RawRecord{}, fmt.Errorf("non-numeric timestamp %q", fields[1])
	}
	if ts <= 0 || ts > MaxTimestamp {
		return RawRecord{}, fmt.Errorf("timestamp %q out of range", fields[1])
	}
	id, err := strconv.ParseInt(strings.TrimSpace(fields[2]), 10, 64)
	if err != nil {
		return RawRecord{}, fmt.Errorf("non-integer metadata id %q", fields[2])
	}

	return RawRecord{Value: value, Timestamp: ts, SourceID: id}, nil
}
