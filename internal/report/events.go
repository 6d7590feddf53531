package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	EventScan         EventType = "scan"
	EventUnchanged    EventType = "unchanged"
	EventReadError    EventType = "read_error"
	EventCopy         EventType = "copy"
	EventMove         EventType = "move"
	EventDryRun       EventType = "dry_run"
	EventVerifyFailed EventType = "verify_failed"
	EventNotFound     EventType = "not_found"
	EventRename       EventType = "rename_source"
	EventDelete       EventType = "delete_source"
	EventError        EventType = "error"
)

// EventLevel represents the severity level
type EventLevel string

const (
	LevelDebug   EventLevel = "debug"
	LevelInfo    EventLevel = "info"
	LevelWarning EventLevel = "warning"
	LevelError   EventLevel = "error"
)

var levelPriority = map[EventLevel]int{
	LevelDebug:   0,
	LevelInfo:    1,
	LevelWarning: 2,
	LevelError:   3,
}

// Event is a single line of the JSONL audit log
type Event struct {
	Timestamp   time.Time         `json:"ts"`
	Level       EventLevel        `json:"level"`
	Event       EventType         `json:"event"`
	SourceLabel string            `json:"source_label,omitempty"`
	SrcPath     string            `json:"src_path,omitempty"`
	DestPath    string            `json:"dest_path,omitempty"`
	Digest      string            `json:"digest,omitempty"`
	SizeBytes   int64             `json:"size_bytes,omitempty"`
	Duration    int64             `json:"duration_ms,omitempty"`
	Error       string            `json:"error,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// EventLogger writes events to a JSONL file. A nil *EventLogger is valid
// and discards everything, so callers never need to check.
type EventLogger struct {
	file     *os.File
	encoder  *json.Encoder
	mu       sync.Mutex
	path     string
	minLevel EventLevel
}

// NewEventLogger creates events-<timestamp>.jsonl in outputDir.
// Events below minLevel are dropped.
func NewEventLogger(outputDir string, minLevel EventLevel) (*EventLogger, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	filename := fmt.Sprintf("events-%s.jsonl", time.Now().Format("20060102-150405.000"))
	path := filepath.Join(outputDir, filename)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create event log: %w", err)
	}

	return &EventLogger{
		file:     file,
		encoder:  json.NewEncoder(file),
		path:     path,
		minLevel: minLevel,
	}, nil
}

// Log writes an event to the JSONL file
func (l *EventLogger) Log(event *Event) error {
	if l == nil || l.file == nil {
		return nil
	}
	if levelPriority[event.Level] < levelPriority[l.minLevel] {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return nil
}

// LogScan records a file fingerprinted and indexed under label
func (l *EventLogger) LogScan(label, path, digest string, sizeBytes int64) error {
	return l.Log(&Event{
		Level:       LevelInfo,
		Event:       EventScan,
		SourceLabel: label,
		SrcPath:     path,
		Digest:      digest,
		SizeBytes:   sizeBytes,
	})
}

// LogUnchanged records a file skipped by the incremental size+mtime check
func (l *EventLogger) LogUnchanged(label, path string) error {
	return l.Log(&Event{
		Level:       LevelDebug,
		Event:       EventUnchanged,
		SourceLabel: label,
		SrcPath:     path,
	})
}

// LogReadError records a file that could not be fingerprinted
func (l *EventLogger) LogReadError(label, path string, err error) error {
	return l.Log(&Event{
		Level:       LevelWarning,
		Event:       EventReadError,
		SourceLabel: label,
		SrcPath:     path,
		Error:       err.Error(),
	})
}

// LogTransfer records a verified copy or move
func (l *EventLogger) LogTransfer(move bool, label, srcPath, destPath, digest string, sizeBytes int64, duration time.Duration) error {
	event := EventCopy
	if move {
		event = EventMove
	}
	return l.Log(&Event{
		Level:       LevelInfo,
		Event:       event,
		SourceLabel: label,
		SrcPath:     srcPath,
		DestPath:    destPath,
		Digest:      digest,
		SizeBytes:   sizeBytes,
		Duration:    duration.Milliseconds(),
	})
}

// LogDryRun records an action that would have been taken
func (l *EventLogger) LogDryRun(action, srcPath, destPath string) error {
	return l.Log(&Event{
		Level:    LevelInfo,
		Event:    EventDryRun,
		SrcPath:  srcPath,
		DestPath: destPath,
		Extra:    map[string]string{"action": action},
	})
}

// LogVerifyFailed records a digest mismatch after copy
func (l *EventLogger) LogVerifyFailed(srcPath, destPath, expected, actual string) error {
	return l.Log(&Event{
		Level:    LevelError,
		Event:    EventVerifyFailed,
		SrcPath:  srcPath,
		DestPath: destPath,
		Digest:   expected,
		Extra:    map[string]string{"actual_digest": actual},
	})
}

// LogNotFound records a requested path that is not in the index
func (l *EventLogger) LogNotFound(path string) error {
	return l.Log(&Event{
		Level:   LevelWarning,
		Event:   EventNotFound,
		SrcPath: path,
	})
}

// LogSourceChange records a label rename (to != "") or deletion
func (l *EventLogger) LogSourceChange(from, to string, records int64) error {
	event := &Event{
		Level:       LevelInfo,
		Event:       EventDelete,
		SourceLabel: from,
		Extra:       map[string]string{"records": strconv.FormatInt(records, 10)},
	}
	if to != "" {
		event.Event = EventRename
		event.Extra["new_label"] = to
	}
	return l.Log(event)
}

// LogError records a non-fatal failure for path
func (l *EventLogger) LogError(event EventType, path string, err error) error {
	return l.Log(&Event{
		Level:   LevelError,
		Event:   event,
		SrcPath: path,
		Error:   err.Error(),
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

// NullLogger returns a no-op event logger
func NullLogger() *EventLogger {
	return nil
}
