package store

// Schema v1 - ledger of completed work
const schemaV1 = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
  version INTEGER PRIMARY KEY,
  applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Completed intermediate and output files
CREATE TABLE IF NOT EXISTS artifacts (
  path TEXT PRIMARY KEY,
  stage TEXT NOT NULL,
  snapshot_id TEXT,
  dataset TEXT,
  size_bytes INTEGER NOT NULL,
  sha1 TEXT,
  completed_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_artifacts_stage ON artifacts(stage);

-- Snapshot databases seen by restore/extract
CREATE TABLE IF NOT EXISTS snapshots (
  id TEXT PRIMARY KEY,
  path TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  error TEXT,
  last_update_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- One row per CLI invocation that ran a stage
CREATE TABLE IF NOT EXISTS runs (
  id TEXT PRIMARY KEY,
  command TEXT NOT NULL,
  started_at DATETIME NOT NULL,
  finished_at DATETIME,
  status TEXT NOT NULL DEFAULT 'running',
  output TEXT,
  statements INTEGER DEFAULT 0,
  comments INTEGER DEFAULT 0,
  malformed INTEGER DEFAULT 0,
  warnings INTEGER DEFAULT 0,
  divergences INTEGER DEFAULT 0,
  error TEXT
);
`

// Schema v2 - input fingerprints for derived artifacts, lookup indexes
const schemaV2 = `
ALTER TABLE artifacts ADD COLUMN inputs TEXT;
CREATE INDEX IF NOT EXISTS idx_artifacts_snapshot ON artifacts(snapshot_id, stage);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`
