package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/franz/media-sorter/internal/util"
)

const recordColumns = `id, path, filename, extension, size_bytes, mtime_ns,
	COALESCE(hash, ''), source_label, scanned_at`

const upsertSQL = `
	INSERT INTO files (path, filename, extension, size_bytes, mtime_ns, hash, source_label, scanned_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(path, source_label) DO UPDATE SET
		filename = excluded.filename,
		extension = excluded.extension,
		size_bytes = excluded.size_bytes,
		mtime_ns = excluded.mtime_ns,
		hash = excluded.hash,
		scanned_at = excluded.scanned_at`

// LabelCollisionError is returned when renaming a label would produce two
// records with the same (path, label). Nothing is renamed when it occurs.
type LabelCollisionError struct {
	From      string
	To        string
	Conflicts int
}

func (e *LabelCollisionError) Error() string {
	return fmt.Sprintf("cannot rename source %q to %q: %d path(s) already indexed under %q",
		e.From, e.To, e.Conflicts, e.To)
}

func (e *LabelCollisionError) Unwrap() error { return util.ErrLabelCollision }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*FileRecord, error) {
	r := &FileRecord{}
	var mtimeNs, scannedAt int64
	err := row.Scan(&r.ID, &r.Path, &r.Filename, &r.Extension, &r.SizeBytes, &mtimeNs,
		&r.Digest, &r.SourceLabel, &scannedAt)
	if err != nil {
		return nil, err
	}
	r.ModTime = time.Unix(0, mtimeNs)
	r.ScannedAt = time.Unix(scannedAt, 0)
	return r, nil
}

func nullDigest(digest string) sql.NullString {
	return sql.NullString{String: digest, Valid: digest != ""}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsert(ctx context.Context, ex execer, r *FileRecord) error {
	if r.ScannedAt.IsZero() {
		r.ScannedAt = time.Now()
	}
	_, err := ex.ExecContext(ctx, upsertSQL,
		r.Path, r.Filename, r.Extension, r.SizeBytes, r.ModTime.UnixNano(),
		nullDigest(r.Digest), r.SourceLabel, r.ScannedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert %s [%s]: %w", r.Path, r.SourceLabel, err)
	}
	return nil
}

// Upsert inserts a record or updates the existing one with the same (path, label)
func (s *Store) Upsert(ctx context.Context, r *FileRecord) error {
	return upsert(ctx, s.db, r)
}

// UpsertBatch upserts all records in a single transaction
func (s *Store) UpsertBatch(ctx context.Context, records []*FileRecord) error {
	if len(records) == 0 {
		return nil
	}
	return s.Transaction(func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, upsertSQL)
		if err != nil {
			return fmt.Errorf("failed to prepare upsert: %w", err)
		}
		defer stmt.Close()

		for _, r := range records {
			if r.ScannedAt.IsZero() {
				r.ScannedAt = time.Now()
			}
			_, err := stmt.ExecContext(ctx,
				r.Path, r.Filename, r.Extension, r.SizeBytes, r.ModTime.UnixNano(),
				nullDigest(r.Digest), r.SourceLabel, r.ScannedAt.Unix())
			if err != nil {
				return fmt.Errorf("failed to upsert %s [%s]: %w", r.Path, r.SourceLabel, err)
			}
		}
		return nil
	})
}

// Lookup returns the record for (path, label), or nil if there is none
func (s *Store) Lookup(ctx context.Context, path, label string) (*FileRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM files WHERE path = ? AND source_label = ?`, path, label)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s [%s]: %w", path, label, err)
	}
	return r, nil
}

// LookupPath returns every record for path across labels, ordered by label
func (s *Store) LookupPath(ctx context.Context, path string) ([]*FileRecord, error) {
	return s.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM files WHERE path = ? ORDER BY source_label`, path)
}

// RecordsBySource returns all records under label, ordered by path
func (s *Store) RecordsBySource(ctx context.Context, label string) ([]*FileRecord, error) {
	return s.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM files WHERE source_label = ? ORDER BY path`, label)
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]*FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer rows.Close()

	var records []*FileRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// DistinctDigests returns the set of digests indexed under label
func (s *Store) DistinctDigests(ctx context.Context, label string) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT hash FROM files WHERE source_label = ? AND hash IS NOT NULL AND hash != ''`, label)
	if err != nil {
		return nil, fmt.Errorf("failed to query digests: %w", err)
	}
	defer rows.Close()

	digests := make(map[string]struct{})
	for rows.Next() {
		var digest string
		if err := rows.Scan(&digest); err != nil {
			return nil, fmt.Errorf("failed to scan digest: %w", err)
		}
		digests[digest] = struct{}{}
	}
	return digests, rows.Err()
}

// CountBySource returns the number of records under label
func (s *Store) CountBySource(ctx context.Context, label string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM files WHERE source_label = ?", label).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count files: %w", err)
	}
	return count, nil
}

// MoveRecord upserts to and deletes the record for from in one transaction
func (s *Store) MoveRecord(ctx context.Context, from Key, to *FileRecord) error {
	return s.Transaction(func(tx *sql.Tx) error {
		if err := upsert(ctx, tx, to); err != nil {
			return err
		}
		if from == to.Key() {
			return nil
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM files WHERE path = ? AND source_label = ?", from.Path, from.SourceLabel)
		if err != nil {
			return fmt.Errorf("failed to delete %s [%s]: %w", from.Path, from.SourceLabel, err)
		}
		return nil
	})
}

// DeleteBySource removes every record under label and returns the count.
// History entries for the label are kept.
func (s *Store) DeleteBySource(ctx context.Context, label string) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM files WHERE source_label = ?", label)
	if err != nil {
		return 0, fmt.Errorf("failed to delete source %q: %w", label, err)
	}
	return res.RowsAffected()
}

// RenameSource relabels every record under from as to, all or nothing.
// It returns a *LabelCollisionError if any path is already indexed under to,
// and an error wrapping util.ErrNotFound if from has no records.
func (s *Store) RenameSource(ctx context.Context, from, to string) (int64, error) {
	if from == to {
		n, err := s.CountBySource(ctx, from)
		if err == nil && n == 0 {
			err = fmt.Errorf("%w: source %q has no records", util.ErrNotFound, from)
		}
		return int64(n), err
	}

	var updated int64
	err := s.Transaction(func(tx *sql.Tx) error {
		var conflicts int
		err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM files a
			JOIN files b ON a.path = b.path
			WHERE a.source_label = ? AND b.source_label = ?
		`, from, to).Scan(&conflicts)
		if err != nil {
			return fmt.Errorf("failed to check label collision: %w", err)
		}
		if conflicts > 0 {
			return &LabelCollisionError{From: from, To: to, Conflicts: conflicts}
		}

		res, err := tx.ExecContext(ctx, "UPDATE files SET source_label = ? WHERE source_label = ?", to, from)
		if err != nil {
			return fmt.Errorf("failed to rename source %q: %w", from, err)
		}
		updated, err = res.RowsAffected()
		if err == nil && updated == 0 {
			err = fmt.Errorf("%w: source %q has no records", util.ErrNotFound, from)
		}
		return err
	})
	if err != nil {
		return 0, err
	}
	return updated, nil
}

// ListSources summarizes every label in the index, ordered by label
func (s *Store) ListSources(ctx context.Context) ([]*SourceSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_label, COUNT(*), COALESCE(SUM(size_bytes), 0), COALESCE(MAX(scanned_at), 0)
		FROM files
		GROUP BY source_label
		ORDER BY source_label
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	var sources []*SourceSummary
	for rows.Next() {
		src := &SourceSummary{}
		var lastScan int64
		if err := rows.Scan(&src.Label, &src.FileCount, &src.TotalBytes, &lastScan); err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		src.LastScan = time.Unix(lastScan, 0)
		sources = append(sources, src)
	}
	return sources, rows.Err()
}
