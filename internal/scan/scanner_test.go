package scan

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/franz/media-sorter/internal/fingerprint"
	"github.com/franz/media-sorter/internal/store"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}
}

func TestScanIndexesTree(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "DCIM", "a.jpg"), "alpha")
	writeFile(t, filepath.Join(root, "DCIM", "nested", "b.JPG"), "bravo")
	writeFile(t, filepath.Join(root, "clip.mp4"), "charlie")

	db := setupTestStore(t)
	scanner := New(&Config{Store: db})

	result, err := scanner.Scan(context.Background(), &Options{Root: root, Label: "USB1"})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if result.Added != 3 || result.Skipped != 0 || result.Errors != 0 || result.Stopped {
		t.Errorf("unexpected result: %+v", result)
	}

	rec, err := db.Lookup(context.Background(), filepath.Join(root, "DCIM", "nested", "b.JPG"), "USB1")
	if err != nil || rec == nil {
		t.Fatalf("expected record for b.JPG, got %v (err %v)", rec, err)
	}
	if rec.Extension != ".jpg" || rec.Filename != "b.JPG" || rec.SizeBytes != 5 || rec.Digest == "" {
		t.Errorf("unexpected record: %+v", rec)
	}

	history, _ := db.ListHistory(context.Background(), 1)
	if len(history) != 1 || history[0].Action != store.ActionScan || history[0].FileCount != 3 {
		t.Errorf("expected scan history entry, got %+v", history)
	}
}

func TestIncrementalScanIsIdempotent(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.jpg"), "alpha")
	writeFile(t, filepath.Join(root, "b.jpg"), "bravo")

	db := setupTestStore(t)
	scanner := New(&Config{Store: db})
	opts := &Options{Root: root, Label: "MASTER", Incremental: true}

	first, err := scanner.Scan(context.Background(), opts)
	if err != nil {
		t.Fatalf("first scan: %v", err)
	}
	if first.Added != 2 {
		t.Fatalf("expected 2 added on first pass, got %d", first.Added)
	}

	second, err := scanner.Scan(context.Background(), opts)
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if second.Added != 0 || second.Skipped != 2 {
		t.Errorf("expected unchanged tree to be skipped, got %+v", second)
	}
	if n, _ := db.CountBySource(context.Background(), "MASTER"); n != 2 {
		t.Errorf("expected 2 records, got %d", n)
	}

	// A size change is picked up and updated in place
	writeFile(t, filepath.Join(root, "a.jpg"), "alpha-longer")
	third, err := scanner.Scan(context.Background(), opts)
	if err != nil {
		t.Fatalf("third scan: %v", err)
	}
	if third.Added != 1 || third.Skipped != 1 {
		t.Errorf("expected 1 re-fingerprinted file, got %+v", third)
	}
	if n, _ := db.CountBySource(context.Background(), "MASTER"); n != 2 {
		t.Errorf("re-scan must not duplicate records, got %d", n)
	}
}

func TestFullRescanRefreshesDigest(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.jpg")
	writeFile(t, path, "original")
	mtime := time.Unix(1700000000, 0)
	os.Chtimes(path, mtime, mtime)

	db := setupTestStore(t)
	scanner := New(&Config{Store: db})
	opts := &Options{Root: root, Label: "L"}
	if _, err := scanner.Scan(context.Background(), opts); err != nil {
		t.Fatal(err)
	}
	before, _ := db.Lookup(context.Background(), path, "L")

	// Same size and mtime, different content: only a non-incremental scan notices
	writeFile(t, path, "modified")
	os.Chtimes(path, mtime, mtime)

	opts.Incremental = true
	scanner.Scan(context.Background(), opts)
	same, _ := db.Lookup(context.Background(), path, "L")
	if same.Digest != before.Digest {
		t.Errorf("incremental scan should trust size+mtime")
	}

	opts.Incremental = false
	scanner.Scan(context.Background(), opts)
	after, _ := db.Lookup(context.Background(), path, "L")
	if after.Digest == before.Digest {
		t.Errorf("full scan should re-fingerprint")
	}
}

func TestScanFilters(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "keep.jpg"), "0123456789")
	writeFile(t, filepath.Join(root, "keep.MOV"), "0123456789")
	writeFile(t, filepath.Join(root, "small.jpg"), "tiny")
	writeFile(t, filepath.Join(root, "sidecar.xmp"), "0123456789")
	writeFile(t, filepath.Join(root, "notes.txt"), "0123456789")

	tests := []struct {
		name    string
		opts    Options
		added   int
		skipped int
	}{
		{"no filters", Options{}, 5, 0},
		{"min size", Options{MinSize: 5}, 4, 1},
		{"exclude", Options{ExcludeExts: DefaultExcludeExts}, 4, 1},
		{"include", Options{IncludeExts: []string{"jpg", ".mov"}}, 3, 2},
		{"exclude wins over include", Options{IncludeExts: []string{".xmp", ".jpg"}, ExcludeExts: []string{".xmp"}}, 2, 3},
		{"all filters", Options{MinSize: 5, ExcludeExts: DefaultExcludeExts, IncludeExts: []string{".jpg", ".xmp"}}, 1, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := setupTestStore(t)
			opts := tt.opts
			opts.Root = root
			opts.Label = "L"

			result, err := New(&Config{Store: db}).Scan(context.Background(), &opts)
			if err != nil {
				t.Fatalf("Scan failed: %v", err)
			}
			if result.Added != tt.added || result.Skipped != tt.skipped {
				t.Errorf("added=%d skipped=%d, want added=%d skipped=%d",
					result.Added, result.Skipped, tt.added, tt.skipped)
			}
		})
	}
}

func TestScanCancellation(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"1.jpg", "2.jpg", "3.jpg"} {
		writeFile(t, filepath.Join(root, name), "content of "+name)
	}

	db := setupTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scanner := New(&Config{Store: db, ProgressEvery: 1})
	result, err := scanner.Scan(ctx, &Options{
		Root:  root,
		Label: "USB1",
		OnProgress: func(p Progress) {
			if p.Added == 1 {
				cancel()
			}
		},
	})
	if err != nil {
		t.Fatalf("cancellation must not be an error, got %v", err)
	}
	if !result.Stopped {
		t.Error("expected result to report stopped")
	}
	if result.Added != 1 || result.Errors != 0 {
		t.Errorf("unexpected result: %+v", result)
	}
	if n, _ := db.CountBySource(context.Background(), "USB1"); n != 1 {
		t.Errorf("expected exactly 1 committed record, got %d", n)
	}
}

// cancelAfterRead cancels once the first chunk has been read
type cancelAfterRead struct {
	r      io.Reader
	cancel context.CancelFunc
}

func (c *cancelAfterRead) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.cancel()
	return n, err
}

// midHashCanceller hashes normally, except that reading name cancels the scan
// after its first chunk
type midHashCanceller struct {
	hasher *fingerprint.Hasher
	name   string
	cancel context.CancelFunc
}

func (m *midHashCanceller) File(ctx context.Context, path string) (string, error) {
	if filepath.Base(path) != m.name {
		return m.hasher.File(ctx, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return m.hasher.Reader(ctx, &cancelAfterRead{r: f, cancel: m.cancel})
}

func TestScanCancelledWhileHashing(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.jpg"), "small")
	writeFile(t, filepath.Join(root, "b.mov"), string(make([]byte, 4096)))
	writeFile(t, filepath.Join(root, "c.jpg"), "never reached")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db := setupTestStore(t)
	scanner := New(&Config{
		Store:     db,
		BatchSize: 1,
		Hasher:    &midHashCanceller{hasher: fingerprint.New(16), name: "b.mov", cancel: cancel},
	})

	result, err := scanner.Scan(ctx, &Options{Root: root, Label: "USB1"})
	if err != nil {
		t.Fatalf("cancellation must not be an error: %v", err)
	}
	if !result.Stopped {
		t.Error("expected Stopped")
	}
	if result.Added != 1 || result.Errors != 0 {
		t.Errorf("interrupted hash must not count as added or error: %+v", result)
	}

	if n, _ := db.CountBySource(context.Background(), "USB1"); n != 1 {
		t.Errorf("expected exactly 1 record, got %d", n)
	}
	if rec, _ := db.Lookup(context.Background(), filepath.Join(root, "b.mov"), "USB1"); rec != nil {
		t.Errorf("partly hashed file was indexed: %+v", rec)
	}
	if rec, _ := db.Lookup(context.Background(), filepath.Join(root, "a.jpg"), "USB1"); rec == nil {
		t.Error("file hashed before the cancellation was lost")
	}
}

func TestScanCancelledBeforeStart(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.jpg"), "alpha")

	db := setupTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := New(&Config{Store: db}).Scan(ctx, &Options{Root: root, Label: "L"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Stopped || result.Added != 0 {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestScanUnreadableFileCountsError(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root can read mode 0000 files")
	}

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "ok.jpg"), "fine")
	locked := filepath.Join(root, "locked.jpg")
	writeFile(t, locked, "secret")
	if err := os.Chmod(locked, 0); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chmod(locked, 0644) })

	db := setupTestStore(t)
	result, err := New(&Config{Store: db}).Scan(context.Background(), &Options{Root: root, Label: "L"})
	if err != nil {
		t.Fatalf("read failure must not abort scan: %v", err)
	}
	if result.Added != 1 || result.Errors != 1 {
		t.Errorf("expected 1 added and 1 error, got %+v", result)
	}
}

func TestSamePathUniqueAcrossRescans(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.jpg"), "alpha")

	db := setupTestStore(t)
	scanner := New(&Config{Store: db, BatchSize: 1})
	for i := 0; i < 3; i++ {
		if _, err := scanner.Scan(context.Background(), &Options{Root: root, Label: "L"}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := scanner.Scan(context.Background(), &Options{Root: root, Label: "OTHER"}); err != nil {
		t.Fatal(err)
	}

	recs, err := db.LookupPath(context.Background(), filepath.Join(root, "a.jpg"))
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Errorf("expected one record per label, got %d", len(recs))
	}
}

func TestScanRequiresLabel(t *testing.T) {
	db := setupTestStore(t)
	if _, err := New(&Config{Store: db}).Scan(context.Background(), &Options{Root: t.TempDir()}); err == nil {
		t.Error("expected error for empty label")
	}
}
