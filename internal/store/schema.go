package store

// Schema v1 - file index and history log.
// Timestamps are unix seconds; mtime_ns keeps full precision so the
// incremental size+mtime comparison is exact.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
  version INTEGER PRIMARY KEY,
  applied_at INTEGER
);

CREATE TABLE IF NOT EXISTS files (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  path TEXT NOT NULL,
  filename TEXT NOT NULL,
  extension TEXT NOT NULL DEFAULT '',
  size_bytes INTEGER NOT NULL,
  mtime_ns INTEGER NOT NULL,
  hash TEXT,
  source_label TEXT NOT NULL,
  scanned_at INTEGER NOT NULL,
  UNIQUE(path, source_label)
);

CREATE TABLE IF NOT EXISTS history (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  source_label TEXT NOT NULL,
  category TEXT NOT NULL,
  action TEXT NOT NULL,
  file_count INTEGER NOT NULL,
  created_at INTEGER NOT NULL
);
`

// Schema v2 - lookup indexes for orphan resolution and per-label scans
const schemaV2 = `
CREATE INDEX IF NOT EXISTS idx_files_hash ON files(hash);
CREATE INDEX IF NOT EXISTS idx_files_source ON files(source_label);
CREATE INDEX IF NOT EXISTS idx_files_source_hash ON files(source_label, hash);
CREATE INDEX IF NOT EXISTS idx_files_path ON files(path);
CREATE INDEX IF NOT EXISTS idx_history_created ON history(created_at);
`
