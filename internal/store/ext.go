package store

import (
	"path/filepath"
	"strings"
	"time"
)

// Ext returns the lowercased extension of path with its leading dot, or ""
func Ext(path string) string {
	return strings.ToLower(filepath.Ext(path))
}

// ExtSet normalizes user-supplied extensions ("JPG", ".jpg", " .Jpg ") into a
// lookup set. Empty entries are dropped; a nil or empty input yields nil.
func ExtSet(exts []string) map[string]struct{} {
	if len(exts) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		set[e] = struct{}{}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

// NewRecord builds a record for path from its stat information
func NewRecord(path, label string, size int64, modTime time.Time, digest string) *FileRecord {
	return &FileRecord{
		Path:        path,
		Filename:    filepath.Base(path),
		Extension:   Ext(path),
		SizeBytes:   size,
		ModTime:     modTime,
		Digest:      digest,
		SourceLabel: label,
	}
}
