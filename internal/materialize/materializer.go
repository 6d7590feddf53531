// Package materialize copies or moves indexed files to a destination,
// verifies every copy by content digest and reconciles the index.
package materialize

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/franz/media-sorter/internal/fingerprint"
	"github.com/franz/media-sorter/internal/orphan"
	"github.com/franz/media-sorter/internal/report"
	"github.com/franz/media-sorter/internal/store"
	"github.com/franz/media-sorter/internal/util"
)

// NoExtDir holds files without an extension in the group-by-extension layout
const NoExtDir = "no_ext"

// Item is one file to materialize. Digest is the indexed source digest and
// may be empty, in which case the destination is fingerprinted fresh.
type Item struct {
	Path   string
	Name   string
	Size   int64
	Digest string
	Label  string
}

// FromOrphans converts a resolved orphan set into items, preserving order
func FromOrphans(set *orphan.Set) []Item {
	items := make([]Item, 0, len(set.Files))
	for _, f := range set.Files {
		items = append(items, Item{Path: f.Path, Name: f.Name, Size: f.Size, Digest: f.Digest, Label: f.Label})
	}
	return items
}

// ResolvePaths looks each path up in the index. Paths with no record are
// logged and omitted. If label is empty and a path is indexed under several
// labels, the first label in lexical order is used.
func ResolvePaths(ctx context.Context, st *store.Store, paths []string, label string, logger *report.EventLogger) ([]Item, int, error) {
	var items []Item
	missing := 0
	for _, p := range paths {
		recs, err := st.LookupPath(ctx, p)
		if err != nil {
			return nil, missing, err
		}

		var rec *store.FileRecord
		for _, r := range recs {
			if label == "" || r.SourceLabel == label {
				rec = r
				break
			}
		}
		if rec == nil {
			util.WarnLog("Not in index, skipping: %s", p)
			logger.LogNotFound(p)
			missing++
			continue
		}
		if label == "" && len(recs) > 1 {
			util.WarnLog("%s is indexed under %d labels, using [%s]", p, len(recs), rec.SourceLabel)
		}
		items = append(items, Item{
			Path:   rec.Path,
			Name:   rec.Filename,
			Size:   rec.SizeBytes,
			Digest: rec.Digest,
			Label:  rec.SourceLabel,
		})
	}
	return items, missing, nil
}

// Config holds materializer configuration
type Config struct {
	Store       *store.Store
	Logger      *report.EventLogger
	BufferSize  int               // copy buffer (0 = DefaultBufferSize)
	ChunkSize   int               // verification read size (0 = fingerprint default)
	RetryConfig *util.RetryConfig // nil = no retries
}

// Options describes a single materialization
type Options struct {
	DestRoot         string
	DestLabel        string // label for destination records; required unless DryRun
	Move             bool
	DryRun           bool
	GroupByExtension bool   // dest/<ext>/name instead of dest/name
	Category         string // recorded in history
	OnProgress       func(done, total int, current string)
}

// Action is a planned transfer reported by a dry run
type Action struct {
	Src  string
	Dest string
	Move bool
}

// Result is the aggregate outcome of a materialization
type Result struct {
	Copied             int
	Moved              int
	Errors             int
	VerificationFailed int
	BytesWritten       int64
	Planned            []Action
	Duration           time.Duration
	Stopped            bool
}

// Materializer executes copies and moves
type Materializer struct {
	store      *store.Store
	logger     *report.EventLogger
	hasher     *fingerprint.Hasher
	bufferSize int
	retry      *util.RetryConfig
}

// New creates a new Materializer
func New(cfg *Config) *Materializer {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.RetryConfig == nil {
		cfg.RetryConfig = util.NoRetryConfig()
	}
	return &Materializer{
		store:      cfg.Store,
		logger:     cfg.Logger,
		hasher:     fingerprint.New(cfg.ChunkSize),
		bufferSize: cfg.BufferSize,
		retry:      cfg.RetryConfig,
	}
}

// Run materializes items in order. Per-file failures are counted and never
// abort the batch; cancellation sets Result.Stopped. Only store failures
// are returned as errors.
func (m *Materializer) Run(ctx context.Context, items []Item, opts *Options) (*Result, error) {
	if opts.DestRoot == "" {
		return nil, fmt.Errorf("%w: destination is required", util.ErrInvalidConfig)
	}
	if opts.DestLabel == "" && !opts.DryRun {
		return nil, fmt.Errorf("%w: destination label is required", util.ErrInvalidConfig)
	}
	destRoot, err := filepath.Abs(opts.DestRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve destination: %w", err)
	}

	action := "copy"
	if opts.Move {
		action = "move"
	}
	util.InfoLog("Materializing %d file(s) to %s (%s, dry-run: %v)", len(items), destRoot, action, opts.DryRun)

	start := time.Now()
	result := &Result{}
	names := newNames()

	for i, item := range items {
		if ctx.Err() != nil {
			result.Stopped = true
			break
		}
		if opts.OnProgress != nil {
			opts.OnProgress(i, len(items), item.Path)
		}

		dir := destDir(destRoot, item, opts.GroupByExtension)

		if opts.DryRun {
			dest := names.next(dir, itemName(item))
			util.InfoLog("DRY-RUN: Would %s %s -> %s", action, item.Path, dest)
			m.logger.LogDryRun(action, item.Path, dest)
			result.Planned = append(result.Planned, Action{Src: item.Path, Dest: dest, Move: opts.Move})
			continue
		}

		stopped, err := m.transfer(ctx, item, dir, names, opts, result)
		if err != nil {
			result.Duration = time.Since(start)
			return result, err
		}
		if stopped {
			result.Stopped = true
			break
		}
	}

	if opts.OnProgress != nil && !result.Stopped {
		opts.OnProgress(len(items), len(items), "")
	}

	if !opts.DryRun {
		count := result.Copied
		histAction := store.ActionCopy
		if opts.Move {
			count = result.Moved
			histAction = store.ActionMove
		}
		if err := m.store.AppendHistory(context.WithoutCancel(ctx), &store.HistoryEntry{
			SourceLabel: opts.DestLabel,
			Category:    opts.Category,
			Action:      histAction,
			FileCount:   count,
		}); err != nil {
			result.Duration = time.Since(start)
			return result, err
		}
	}

	result.Duration = time.Since(start)
	switch {
	case opts.DryRun:
		util.InfoLog("DRY-RUN: %d file(s) planned", len(result.Planned))
	case result.Stopped:
		util.WarnLog("Materialization stopped: %d copied, %d moved, %d failed verification, %d errors",
			result.Copied, result.Moved, result.VerificationFailed, result.Errors)
	default:
		util.SuccessLog("Materialization complete: %d copied, %d moved, %d failed verification, %d errors, %s written",
			result.Copied, result.Moved, result.VerificationFailed, result.Errors, util.FormatBytes(result.BytesWritten))
	}
	return result, nil
}

// transfer copies one item into dir, verifies it and updates the index.
// A copy that is removed again gives its name back to names. It reports
// stopped=true on cancellation and a non-nil error only for store failures.
func (m *Materializer) transfer(ctx context.Context, item Item, dir string, names *names, opts *Options, result *Result) (bool, error) {
	began := time.Now()

	dest, written, info, err := m.copyFile(ctx, item.Path, dir, itemName(item), names)
	if err != nil {
		if errors.Is(err, util.ErrCancelled) || ctx.Err() != nil {
			return true, nil
		}
		util.ErrorLog("Failed to copy %s: %v", item.Path, err)
		m.logger.LogError(report.EventError, item.Path, err)
		result.Errors++
		return false, nil
	}

	discard := func() {
		if err := os.Remove(dest); err != nil {
			util.WarnLog("Failed to remove copy %s: %v", dest, err)
			return
		}
		names.release(dest)
	}

	actual, err := m.verify(ctx, dest, item.Digest)
	switch {
	case errors.Is(err, util.ErrCancelled):
		discard()
		return true, nil
	case errors.Is(err, util.ErrVerifyFailed):
		util.ErrorLog("%v", err)
		m.logger.LogVerifyFailed(item.Path, dest, item.Digest, actual)
		discard()
		result.VerificationFailed++
		return false, nil
	case err != nil:
		util.ErrorLog("Failed to verify %s: %v", dest, err)
		m.logger.LogError(report.EventVerifyFailed, dest, err)
		discard()
		result.Errors++
		return false, nil
	}

	rec := store.NewRecord(dest, opts.DestLabel, written, info.ModTime(), actual)
	result.BytesWritten += written

	if !opts.Move {
		if err := m.store.Upsert(context.WithoutCancel(ctx), rec); err != nil {
			return false, err
		}
		result.Copied++
		m.logger.LogTransfer(false, opts.DestLabel, item.Path, dest, actual, written, time.Since(began))
		return false, nil
	}

	// Source goes only after the destination is verified
	if err := util.RetryableRemove(context.WithoutCancel(ctx), item.Path, m.retry); err != nil {
		util.ErrorLog("Copied %s but could not delete source: %v", item.Path, err)
		m.logger.LogError(report.EventMove, item.Path, err)
		result.Errors++
		if err := m.store.Upsert(context.WithoutCancel(ctx), rec); err != nil {
			return false, err
		}
		return false, nil
	}
	from := store.Key{Path: item.Path, SourceLabel: item.Label}
	if err := m.store.MoveRecord(context.WithoutCancel(ctx), from, rec); err != nil {
		return false, err
	}
	result.Moved++
	m.logger.LogTransfer(true, opts.DestLabel, item.Path, dest, actual, written, time.Since(began))
	return false, nil
}

// verify fingerprints dest and compares it with want. An empty want accepts
// any content. A mismatch returns the actual digest and an error wrapping
// util.ErrVerifyFailed.
func (m *Materializer) verify(ctx context.Context, dest, want string) (string, error) {
	actual, err := m.hasher.File(ctx, dest)
	if err != nil {
		return "", err
	}
	if want != "" && actual != want {
		return actual, fmt.Errorf("%w for %s: expected %s, got %s", util.ErrVerifyFailed, dest, short(want), short(actual))
	}
	return actual, nil
}

func destDir(root string, item Item, groupByExt bool) string {
	if !groupByExt {
		return root
	}
	ext := strings.TrimPrefix(store.Ext(itemName(item)), ".")
	if ext == "" {
		ext = NoExtDir
	}
	return filepath.Join(root, ext)
}

func itemName(item Item) string {
	if item.Name != "" {
		return item.Name
	}
	return filepath.Base(item.Path)
}

func short(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}
