// Package orphan computes which files of a target source have no content
// match on a master source.
package orphan

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/franz/media-sorter/internal/store"
	"github.com/franz/media-sorter/internal/util"
)

// DefaultNoisePatterns are path substrings that always exclude a file:
// catalog previews, thumbnail caches and OS metadata.
var DefaultNoisePatterns = []string{".lrdata", ".lrprev", ".thumb", "Thumbs.db", ".DS_Store", "_data", ".au"}

// Categories maps a category name to its extensions
var Categories = map[string][]string{
	"photo":    {".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tiff", ".webp", ".heic", ".raw", ".cr2", ".nef", ".arw", ".dng"},
	"video":    {".mp4", ".mov", ".avi", ".mkv", ".wmv", ".flv", ".webm", ".m4v", ".mts", ".3gp"},
	"audio":    {".mp3", ".wav", ".aac", ".flac", ".ogg", ".m4a", ".wma"},
	"document": {".pdf", ".doc", ".docx", ".txt", ".xls", ".xlsx", ".ppt", ".pptx", ".odt", ".ods", ".odp", ".rtf", ".csv"},
}

// CategoryExts returns the extensions of a named category. "" and "all" return nil.
func CategoryExts(name string) ([]string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || name == "all" {
		return nil, nil
	}
	exts, ok := Categories[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown category %q", util.ErrInvalidConfig, name)
	}
	return exts, nil
}

// Query selects the orphans of Target relative to Master
type Query struct {
	Master        string
	Target        string
	IncludeExts   []string
	ExcludeExts   []string
	NoisePatterns []string
}

// File is one orphaned record
type File struct {
	Path   string
	Name   string
	Size   int64
	Digest string
	Label  string
}

// Folder aggregates orphans sharing a parent directory
type Folder struct {
	Path  string
	Count int
	Size  int64
	Files []File
}

// Set is a resolved orphan set. Files is the authoritative list, ordered by
// path; Folders is the same content grouped for reporting.
type Set struct {
	Master     string
	Target     string
	Files      []File
	Folders    []*Folder
	TotalFiles int
	TotalSize  int64
}

// Resolver answers orphan queries against the index
type Resolver struct {
	store *store.Store
}

// NewResolver creates a Resolver
func NewResolver(st *store.Store) *Resolver {
	return &Resolver{store: st}
}

// Resolve returns the target records whose digest does not occur under the
// master label, after noise, exclude and include filtering in that order.
// A missing master or an empty target yields an empty set.
func (r *Resolver) Resolve(ctx context.Context, q *Query) (*Set, error) {
	masterDigests, err := r.store.DistinctDigests(ctx, q.Master)
	if err != nil {
		return nil, err
	}
	if len(masterDigests) == 0 {
		util.WarnLog("Master source [%s] has no fingerprinted records", q.Master)
	}

	targets, err := r.store.RecordsBySource(ctx, q.Target)
	if err != nil {
		return nil, err
	}

	f := newFilter(q)
	set := &Set{Master: q.Master, Target: q.Target}
	for _, rec := range targets {
		if rec.Digest == "" {
			continue
		}
		if _, ok := masterDigests[rec.Digest]; ok {
			continue
		}
		if !f.admit(rec.Path, rec.Extension) {
			continue
		}
		set.Files = append(set.Files, File{
			Path:   rec.Path,
			Name:   rec.Filename,
			Size:   rec.SizeBytes,
			Digest: rec.Digest,
			Label:  rec.SourceLabel,
		})
	}

	set.aggregate()
	util.DebugLog("Resolved %d orphan(s) of [%s] against [%s]", set.TotalFiles, q.Target, q.Master)
	return set, nil
}

type filter struct {
	noise   []string
	exclude map[string]struct{}
	include map[string]struct{}
}

func newFilter(q *Query) *filter {
	f := &filter{
		exclude: store.ExtSet(q.ExcludeExts),
		include: store.ExtSet(q.IncludeExts),
	}
	for _, p := range q.NoisePatterns {
		if p != "" {
			f.noise = append(f.noise, p)
		}
	}
	return f
}

func (f *filter) admit(path, ext string) bool {
	for _, p := range f.noise {
		if strings.Contains(path, p) {
			return false
		}
	}
	if _, ok := f.exclude[ext]; ok {
		return false
	}
	if f.include != nil {
		if _, ok := f.include[ext]; !ok {
			return false
		}
	}
	return true
}

// aggregate fills Folders and totals from Files
func (s *Set) aggregate() {
	sort.Slice(s.Files, func(i, j int) bool { return s.Files[i].Path < s.Files[j].Path })

	byDir := make(map[string]*Folder)
	for _, f := range s.Files {
		dir := filepath.Dir(f.Path)
		folder, ok := byDir[dir]
		if !ok {
			folder = &Folder{Path: dir}
			byDir[dir] = folder
			s.Folders = append(s.Folders, folder)
		}
		folder.Count++
		folder.Size += f.Size
		folder.Files = append(folder.Files, f)
		s.TotalSize += f.Size
	}
	s.TotalFiles = len(s.Files)

	sort.SliceStable(s.Folders, func(i, j int) bool {
		if s.Folders[i].Count != s.Folders[j].Count {
			return s.Folders[i].Count > s.Folders[j].Count
		}
		return s.Folders[i].Path < s.Folders[j].Path
	})
}

// Top returns at most n folders (all if n <= 0)
func (s *Set) Top(n int) []*Folder {
	if n <= 0 || n >= len(s.Folders) {
		return s.Folders
	}
	return s.Folders[:n]
}
