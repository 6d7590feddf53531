// Package scan walks a directory tree and indexes its files under a source label.
package scan

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/franz/media-sorter/internal/fingerprint"
	"github.com/franz/media-sorter/internal/report"
	"github.com/franz/media-sorter/internal/store"
	"github.com/franz/media-sorter/internal/util"
)

// DefaultMinSize is the smallest file indexed unless overridden
const DefaultMinSize = 10 * 1024

// DefaultProgressEvery is the number of processed files between progress reports
const DefaultProgressEvery = 25

// DefaultExcludeExts are sidecar, catalog and temp extensions never worth indexing
var DefaultExcludeExts = []string{".xmp", ".lrcat", ".lrdata", ".db", ".tmp", ".ini", ".thm", ".ctg"}

// Status values reported through Progress
const (
	StatusScanning = "scanning"
	StatusStopped  = "stopped"
	StatusDone     = "done"
)

// Progress is a snapshot passed to the progress sink
type Progress struct {
	Status      string
	Label       string
	Added       int
	Skipped     int
	Errors      int
	CurrentFile string
}

// Fingerprinter produces the content digest of a file. It returns
// util.ErrCancelled when ctx ends mid-read.
type Fingerprinter interface {
	File(ctx context.Context, path string) (string, error)
}

// Config holds scanner configuration
type Config struct {
	Store         *store.Store
	Logger        *report.EventLogger
	Hasher        Fingerprinter // nil = SHA-256 in ChunkSize reads
	ChunkSize     int
	BatchSize     int
	ProgressEvery int
}

// Options describes a single scan
type Options struct {
	Root        string
	Label       string
	Category    string   // recorded in history; "" means all
	MinSize     int64    // files smaller than this are skipped
	ExcludeExts []string // always skipped
	IncludeExts []string // if non-empty, only these pass
	Incremental bool     // skip files whose size and mtime match the index
	OnProgress  func(Progress)
}

// Result is the aggregate outcome of a scan
type Result struct {
	Added    int
	Skipped  int
	Errors   int
	Duration time.Duration
	Stopped  bool
}

// Scanner indexes directory trees
type Scanner struct {
	store         *store.Store
	hasher        Fingerprinter
	logger        *report.EventLogger
	batchSize     int
	progressEvery int
}

// New creates a new Scanner
func New(cfg *Config) *Scanner {
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = DefaultProgressEvery
	}
	hasher := cfg.Hasher
	if hasher == nil {
		hasher = fingerprint.New(cfg.ChunkSize)
	}
	return &Scanner{
		store:         cfg.Store,
		hasher:        hasher,
		logger:        cfg.Logger,
		batchSize:     cfg.BatchSize,
		progressEvery: cfg.ProgressEvery,
	}
}

// run carries the mutable state of one Scan call
type run struct {
	*Scanner
	opts    *Options
	exclude map[string]struct{}
	include map[string]struct{}
	batch   *store.Batch
	result  *Result
	seen    int
}

// Scan walks opts.Root and upserts a record per admitted file.
//
// Read failures are counted and the walk continues. Cancellation of ctx is
// observed between directories, between files and between hash chunks; it
// sets Result.Stopped and is not an error. Pending records are committed
// whatever the reason the walk ended. Only store failures and an unreadable
// root are returned as errors.
func (s *Scanner) Scan(ctx context.Context, opts *Options) (*Result, error) {
	if opts.Label == "" {
		return nil, fmt.Errorf("%w: source label is required", util.ErrInvalidConfig)
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %s: %w", opts.Root, err)
	}

	start := time.Now()
	r := &run{
		Scanner: s,
		opts:    opts,
		exclude: store.ExtSet(opts.ExcludeExts),
		include: store.ExtSet(opts.IncludeExts),
		batch:   s.store.NewBatch(s.batchSize),
		result:  &Result{},
	}

	util.InfoLog("Scanning %s as [%s] (incremental: %v)", root, opts.Label, opts.Incremental)

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			r.result.Stopped = true
			return filepath.SkipAll
		}
		if err != nil {
			if path == root {
				return err
			}
			util.WarnLog("Error accessing path %s: %v", path, err)
			r.result.Errors++
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		return r.visit(ctx, path, d)
	})

	// Commit what we have even if the walk was cancelled or failed
	flushCtx := context.WithoutCancel(ctx)
	if err := r.batch.Flush(flushCtx); err != nil {
		return r.finish(start), fmt.Errorf("failed to commit scan results: %w", err)
	}
	if walkErr != nil {
		return r.finish(start), fmt.Errorf("walk error: %w", walkErr)
	}

	if err := s.store.AppendHistory(flushCtx, &store.HistoryEntry{
		SourceLabel: opts.Label,
		Category:    opts.Category,
		Action:      store.ActionScan,
		FileCount:   r.result.Added,
	}); err != nil {
		return r.finish(start), err
	}

	res := r.finish(start)
	if res.Stopped {
		util.WarnLog("Scan of [%s] stopped: %d added, %d skipped, %d errors",
			opts.Label, res.Added, res.Skipped, res.Errors)
	} else {
		util.SuccessLog("Scan of [%s] complete: %d added, %d skipped, %d errors in %s",
			opts.Label, res.Added, res.Skipped, res.Errors, res.Duration.Round(time.Millisecond))
	}
	return res, nil
}

// visit applies the filters to one regular file and indexes it if admitted
func (r *run) visit(ctx context.Context, path string, d fs.DirEntry) error {
	ext := store.Ext(path)
	if _, ok := r.exclude[ext]; ok {
		r.skip(path)
		return nil
	}
	if r.include != nil {
		if _, ok := r.include[ext]; !ok {
			r.skip(path)
			return nil
		}
	}

	info, err := d.Info()
	if err != nil {
		util.WarnLog("Cannot stat %s: %v", path, err)
		r.logger.LogReadError(r.opts.Label, path, err)
		r.result.Errors++
		r.tick(path)
		return nil
	}
	if info.Size() < r.opts.MinSize {
		r.skip(path)
		return nil
	}

	if r.opts.Incremental {
		existing, err := r.store.Lookup(ctx, path, r.opts.Label)
		if err != nil {
			if ctx.Err() != nil {
				r.result.Stopped = true
				return filepath.SkipAll
			}
			return err
		}
		if existing != nil && existing.SizeBytes == info.Size() &&
			existing.ModTime.UnixNano() == info.ModTime().UnixNano() {
			r.logger.LogUnchanged(r.opts.Label, path)
			r.skip(path)
			return nil
		}
	}

	digest, err := r.hasher.File(ctx, path)
	if errors.Is(err, util.ErrCancelled) {
		util.DebugLog("Hash of %s interrupted", path)
		r.result.Stopped = true
		return filepath.SkipAll
	}
	if err != nil {
		util.WarnLog("Failed to fingerprint %s: %v", path, err)
		r.logger.LogReadError(r.opts.Label, path, err)
		r.result.Errors++
		r.tick(path)
		return nil
	}

	rec := store.NewRecord(path, r.opts.Label, info.Size(), info.ModTime(), digest)
	rec.ScannedAt = time.Now()
	if err := r.batch.Add(context.WithoutCancel(ctx), rec); err != nil {
		return err
	}
	r.logger.LogScan(r.opts.Label, path, digest, info.Size())
	r.result.Added++
	r.tick(path)
	return nil
}

func (r *run) skip(path string) {
	r.result.Skipped++
	r.tick(path)
}

// tick reports progress every progressEvery processed files
func (r *run) tick(path string) {
	r.seen++
	if r.opts.OnProgress == nil || r.seen%r.progressEvery != 0 {
		return
	}
	r.opts.OnProgress(Progress{
		Status:      StatusScanning,
		Label:       r.opts.Label,
		Added:       r.result.Added,
		Skipped:     r.result.Skipped,
		Errors:      r.result.Errors,
		CurrentFile: path,
	})
}

func (r *run) finish(start time.Time) *Result {
	r.result.Duration = time.Since(start)
	if r.opts.OnProgress != nil {
		status := StatusDone
		if r.result.Stopped {
			status = StatusStopped
		}
		r.opts.OnProgress(Progress{
			Status:  status,
			Label:   r.opts.Label,
			Added:   r.result.Added,
			Skipped: r.result.Skipped,
			Errors:  r.result.Errors,
		})
	}
	return r.result
}
