package report

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func readEvents(t *testing.T, path string) []Event {
	t.Helper()

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open log file: %v", err)
	}
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("invalid JSONL line %q: %v", scanner.Text(), err)
		}
		events = append(events, e)
	}
	return events
}

func TestNewEventLogger(t *testing.T) {
	logger, err := NewEventLogger(t.TempDir(), LevelDebug)
	if err != nil {
		t.Fatalf("NewEventLogger failed: %v", err)
	}
	defer logger.Close()

	if _, err := os.Stat(logger.Path()); err != nil {
		t.Errorf("Event log file was not created at %s: %v", logger.Path(), err)
	}
	name := filepath.Base(logger.Path())
	if !strings.HasPrefix(name, "events-") || !strings.HasSuffix(name, ".jsonl") {
		t.Errorf("Event log filename format incorrect: %s", name)
	}
}

func TestEventLogger_LogScan(t *testing.T) {
	logger, err := NewEventLogger(t.TempDir(), LevelInfo)
	if err != nil {
		t.Fatalf("NewEventLogger failed: %v", err)
	}

	logger.LogScan("USB1", "/mnt/usb/DCIM/img.jpg", "abc123", 2048)
	logger.LogUnchanged("USB1", "/mnt/usb/DCIM/old.jpg") // debug, filtered
	logger.Close()

	events := readEvents(t, logger.Path())
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	e := events[0]
	if e.Event != EventScan || e.SourceLabel != "USB1" || e.Digest != "abc123" || e.SizeBytes != 2048 {
		t.Errorf("Unexpected scan event: %+v", e)
	}
	if e.Timestamp.IsZero() || time.Since(e.Timestamp) > time.Minute {
		t.Errorf("Expected recent auto timestamp, got %v", e.Timestamp)
	}
}

func TestEventLogger_Transfers(t *testing.T) {
	logger, err := NewEventLogger(t.TempDir(), LevelDebug)
	if err != nil {
		t.Fatalf("NewEventLogger failed: %v", err)
	}

	logger.LogTransfer(false, "RECOVERED", "/src/a.jpg", "/dest/a.jpg", "h1", 10, 1500*time.Millisecond)
	logger.LogTransfer(true, "RECOVERED", "/src/b.jpg", "/dest/b.jpg", "h2", 20, 0)
	logger.LogVerifyFailed("/src/c.jpg", "/dest/c.jpg", "h3", "zzz")
	logger.LogNotFound("/src/missing.jpg")
	logger.LogSourceChange("USB1", "ARCHIVE", 12)
	logger.LogError(EventError, "/src/d.jpg", errors.New("disk full"))
	logger.Close()

	events := readEvents(t, logger.Path())
	want := []EventType{EventCopy, EventMove, EventVerifyFailed, EventNotFound, EventRename, EventError}
	if len(events) != len(want) {
		t.Fatalf("Expected %d events, got %d", len(want), len(events))
	}
	for i, e := range events {
		if e.Event != want[i] {
			t.Errorf("event %d: got %s, want %s", i, e.Event, want[i])
		}
	}
	if events[0].Duration != 1500 {
		t.Errorf("Expected duration_ms 1500, got %d", events[0].Duration)
	}
	if events[2].Extra["actual_digest"] != "zzz" || events[2].Level != LevelError {
		t.Errorf("Unexpected verify event: %+v", events[2])
	}
	if events[4].Extra["new_label"] != "ARCHIVE" || events[4].Extra["records"] != "12" {
		t.Errorf("Unexpected rename event: %+v", events[4])
	}
}

func TestEventLogger_ConcurrentWrites(t *testing.T) {
	logger, err := NewEventLogger(t.TempDir(), LevelDebug)
	if err != nil {
		t.Fatalf("NewEventLogger failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				logger.LogScan("L", "/p", "h", 1)
			}
		}()
	}
	wg.Wait()
	logger.Close()

	if n := len(readEvents(t, logger.Path())); n != 200 {
		t.Errorf("Expected 200 events, got %d", n)
	}
}

func TestEventLogger_NullLogger(t *testing.T) {
	logger := NullLogger()

	if err := logger.Log(&Event{Level: LevelInfo, Event: EventScan}); err != nil {
		t.Errorf("NullLogger.Log should not return error, got: %v", err)
	}
	if err := logger.LogScan("L", "/path", "h", 123); err != nil {
		t.Errorf("NullLogger.LogScan should not return error, got: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("NullLogger.Close should not return error, got: %v", err)
	}
	if logger.Path() != "" {
		t.Errorf("NullLogger.Path should return empty string, got: %s", logger.Path())
	}
}

func TestEventLogger_LogLevelFiltering(t *testing.T) {
	all := []Event{
		{Level: LevelDebug, Event: EventUnchanged},
		{Level: LevelInfo, Event: EventScan},
		{Level: LevelWarning, Event: EventNotFound},
		{Level: LevelError, Event: EventVerifyFailed},
	}

	testCases := []struct {
		minLevel      EventLevel
		expectedCount int
	}{
		{LevelDebug, 4},
		{LevelInfo, 3},
		{LevelWarning, 2},
		{LevelError, 1},
	}

	for _, tc := range testCases {
		t.Run(string(tc.minLevel), func(t *testing.T) {
			logger, err := NewEventLogger(t.TempDir(), tc.minLevel)
			if err != nil {
				t.Fatalf("NewEventLogger failed: %v", err)
			}
			for _, e := range all {
				e := e
				if err := logger.Log(&e); err != nil {
					t.Fatalf("Log failed: %v", err)
				}
			}
			logger.Close()

			if n := len(readEvents(t, logger.Path())); n != tc.expectedCount {
				t.Errorf("Expected %d events logged, got %d", tc.expectedCount, n)
			}
		})
	}
}
