package store

import (
	"context"
	"fmt"
	"time"
)

// AppendHistory records a scan, copy or move. Entries are never updated.
func (s *Store) AppendHistory(ctx context.Context, e *HistoryEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.Category == "" {
		e.Category = "all"
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO history (source_label, category, action, file_count, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, e.SourceLabel, e.Category, e.Action, e.FileCount, e.Timestamp.Unix())
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

// ListHistory returns the most recent entries first (limit <= 0 means all)
func (s *Store) ListHistory(ctx context.Context, limit int) ([]*HistoryEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_label, category, action, file_count, created_at
		FROM history
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []*HistoryEntry
	for rows.Next() {
		e := &HistoryEntry{}
		var created int64
		if err := rows.Scan(&e.ID, &e.SourceLabel, &e.Category, &e.Action, &e.FileCount, &created); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		e.Timestamp = time.Unix(created, 0)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
