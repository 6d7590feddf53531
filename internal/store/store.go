package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const (
	currentSchemaVersion = 2

	// DefaultBusyTimeout is how long a writer waits on a lock held by a long
	// reader (orphan resolution) before giving up
	DefaultBusyTimeout = 60 * time.Second
)

// Store is the persistent index of file records and history entries
type Store struct {
	db   *sql.DB
	path string
}

// OpenOptions holds options for opening a database
type OpenOptions struct {
	BusyTimeout time.Duration // Lock wait timeout (0 = DefaultBusyTimeout)
}

// Open opens or creates the index at the given path with default options
func Open(path string) (*Store, error) {
	return OpenWithOptions(path, nil)
}

// OpenWithOptions opens or creates the index and applies the schema.
// Schema creation is idempotent, so opening an existing index is safe.
func OpenWithOptions(path string, opts *OpenOptions) (*Store, error) {
	if opts == nil {
		opts = &OpenOptions{}
	}
	timeout := opts.BusyTimeout
	if timeout <= 0 {
		timeout = DefaultBusyTimeout
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		path, timeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, path: path}
	if err := s.Initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.path
}

// SQLiteVersion returns the SQLite version string
func SQLiteVersion() string {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return ""
	}
	defer db.Close()

	var version string
	if err := db.QueryRow("SELECT sqlite_version()").Scan(&version); err != nil {
		return ""
	}
	return version
}

// CheckIntegrity runs PRAGMA integrity_check on the database
func (s *Store) CheckIntegrity() error {
	var result string
	if err := s.db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check query failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

// Initialize applies any missing schema versions. Safe to call repeatedly.
func (s *Store) Initialize() error {
	version, err := s.getSchemaVersion()
	if err != nil {
		return err
	}
	if version >= currentSchemaVersion {
		return nil
	}

	return s.Transaction(func(tx *sql.Tx) error {
		if version < 1 {
			if _, err := tx.Exec(schemaV1); err != nil {
				return fmt.Errorf("failed to apply schema v1: %w", err)
			}
			if err := setSchemaVersion(tx, 1); err != nil {
				return fmt.Errorf("failed to set schema version: %w", err)
			}
		}

		if version < 2 {
			if _, err := tx.Exec(schemaV2); err != nil {
				return fmt.Errorf("failed to apply schema v2: %w", err)
			}
			if err := setSchemaVersion(tx, 2); err != nil {
				return fmt.Errorf("failed to set schema version: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) getSchemaVersion() (int, error) {
	var exists int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&exists)
	if err != nil {
		return 0, err
	}
	if exists == 0 {
		return 0, nil
	}

	var version int
	err = s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	return version, err
}

func setSchemaVersion(tx *sql.Tx, version int) error {
	_, err := tx.Exec("INSERT INTO schema_version (version, applied_at) VALUES (?, ?)", version, time.Now().Unix())
	return err
}

// Transaction executes fn within a transaction, committing only if fn succeeds
func (s *Store) Transaction(fn func(*sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// FileRecord is one indexed file under one source label.
// (Path, SourceLabel) is unique.
type FileRecord struct {
	ID          int64
	Path        string
	Filename    string
	Extension   string // lowercased, with leading dot, "" if none
	SizeBytes   int64
	ModTime     time.Time
	Digest      string // hex SHA-256; empty only transiently
	SourceLabel string
	ScannedAt   time.Time
}

// Key identifies a record
type Key struct {
	Path        string
	SourceLabel string
}

// Key returns the record's unique key
func (r *FileRecord) Key() Key {
	return Key{Path: r.Path, SourceLabel: r.SourceLabel}
}

// HistoryEntry is an append-only audit record of a scan, copy or move
type HistoryEntry struct {
	ID          int64
	SourceLabel string
	Category    string
	Action      string
	FileCount   int
	Timestamp   time.Time
}

// History actions
const (
	ActionScan = "scan"
	ActionCopy = "copy"
	ActionMove = "move"
)

// SourceSummary describes one label in the index
type SourceSummary struct {
	Label      string
	FileCount  int
	TotalBytes int64
	LastScan   time.Time
}
