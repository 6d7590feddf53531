package store

import "context"

// DefaultBatchSize is the number of upserts committed together during a scan
const DefaultBatchSize = 50

// Batch buffers upserts and commits them in groups. A crash between
// commits loses only the buffered tail; committed rows are never touched.
// A Batch is not safe for concurrent use.
type Batch struct {
	store   *Store
	size    int
	pending []*FileRecord
	written int
}

// NewBatch returns a Batch committing every size records (DefaultBatchSize if <= 0)
func (s *Store) NewBatch(size int) *Batch {
	if size <= 0 {
		size = DefaultBatchSize
	}
	return &Batch{store: s, size: size, pending: make([]*FileRecord, 0, size)}
}

// Add queues r and commits the batch once it is full
func (b *Batch) Add(ctx context.Context, r *FileRecord) error {
	b.pending = append(b.pending, r)
	if len(b.pending) >= b.size {
		return b.Flush(ctx)
	}
	return nil
}

// Flush commits all pending records
func (b *Batch) Flush(ctx context.Context) error {
	if len(b.pending) == 0 {
		return nil
	}
	if err := b.store.UpsertBatch(ctx, b.pending); err != nil {
		return err
	}
	b.written += len(b.pending)
	b.pending = b.pending[:0]
	return nil
}

// Pending returns the number of uncommitted records
func (b *Batch) Pending() int { return len(b.pending) }

// Written returns the number of committed records
func (b *Batch) Written() int { return b.written }
