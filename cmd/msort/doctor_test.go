package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/franz/media-sorter/internal/session"
	"github.com/franz/media-sorter/internal/store"
)

func TestCheckSQLite(t *testing.T) {
	result := checkSQLite()

	if result.error {
		t.Errorf("SQLite check failed: %s", result.message)
	}
	if result.message == "" {
		t.Error("expected version information in message")
	}
}

func TestCheckDatabase_NonExistent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nonexistent.db")

	result := checkDatabase(dbPath)

	// Should not error - database will be created on first run
	if result.error {
		t.Errorf("non-existent database check should not error: %s", result.message)
	}
	if _, err := os.Stat(dbPath); !os.IsNotExist(err) {
		t.Error("doctor must not create the database")
	}
}

func TestCheckDatabase_Existing(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	rec := store.NewRecord("/test/path.jpg", "USB1", 1024, time.Now(), "abc")
	if err := db.Upsert(context.Background(), rec); err != nil {
		t.Fatalf("failed to insert test record: %v", err)
	}
	db.Close()

	result := checkDatabase(dbPath)

	if result.error {
		t.Errorf("database check failed: %s", result.message)
	}
	if result.message == "" {
		t.Error("expected message with database info")
	}
}

func TestCheckDatabase_Empty(t *testing.T) {
	result := checkDatabase("")

	if !result.warning {
		t.Error("expected warning for empty database path")
	}
}

func TestCheckDatabase_Directory(t *testing.T) {
	result := checkDatabase(t.TempDir())

	if !result.error {
		t.Error("expected error when database path is a directory")
	}
}

func TestCheckLock(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "index.db")

	if result := checkLock(dbPath); result.warning || result.error {
		t.Errorf("expected free lock, got %+v", result)
	}

	mgr := session.NewManager(dbPath)
	release := make(chan struct{})
	s, err := mgr.Start(context.Background(), session.KindScan, "L", func(ctx context.Context, s *session.Session) (bool, error) {
		<-release
		return false, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if result := checkLock(dbPath); !result.warning {
		t.Errorf("expected warning while a session runs, got %+v", result)
	}

	close(release)
	s.Wait(context.Background())
}

func TestCheckSourceDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	filePath := filepath.Join(tmpDir, "file.txt")
	if err := os.WriteFile(filePath, []byte("test"), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"valid", tmpDir, false},
		{"non-existent", "/nonexistent/path/that/does/not/exist", true},
		{"file", filePath, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := checkSourceDirectory(tt.path)
			if result.error != tt.wantErr {
				t.Errorf("checkSourceDirectory(%s) error = %v, want %v (%s)", tt.path, result.error, tt.wantErr, result.message)
			}
		})
	}
}

func TestCheckDestinationDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	filePath := filepath.Join(tmpDir, "file.txt")
	if err := os.WriteFile(filePath, []byte("test"), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"valid", tmpDir, false},
		{"creatable", filepath.Join(tmpDir, "newdir"), false},
		{"file", filePath, true},
		{"orphaned parent", filepath.Join(tmpDir, "a", "b"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := checkDestinationDirectory(tt.path)
			if result.error != tt.wantErr {
				t.Errorf("checkDestinationDirectory(%s) error = %v, want %v (%s)", tt.path, result.error, tt.wantErr, result.message)
			}
		})
	}

	if _, err := os.Stat(filepath.Join(tmpDir, ".msort_write_test")); !os.IsNotExist(err) {
		t.Error("write test file was left behind")
	}
}

func TestCheckDiskSpace(t *testing.T) {
	result := checkDiskSpace(t.TempDir(), "test")

	if result.error {
		t.Errorf("disk space check failed: %s", result.message)
	}
	if result.message == "" {
		t.Error("expected message with disk space info")
	}

	// A path that does not exist yet is checked at its nearest ancestor
	result = checkDiskSpace(filepath.Join(t.TempDir(), "not", "yet"), "test")
	if result.error || result.message == "" {
		t.Errorf("expected ancestor to be checked, got %+v", result)
	}
}
