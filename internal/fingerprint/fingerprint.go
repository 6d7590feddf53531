// Package fingerprint computes whole-file content digests.
//
// Two files are the same content iff their digests are equal. Size and
// modification time never stand in for a digest once one exists.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/franz/media-sorter/internal/util"
)

// DefaultChunkSize is the read size between cancellation checks
const DefaultChunkSize = 64 * 1024

// ReadError reports that a file could not be read to completion
// (permission denied, I/O error, file vanished mid-read).
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// Hasher streams files through SHA-256 in fixed-size chunks
type Hasher struct {
	ChunkSize int
}

// New returns a Hasher reading chunkSize bytes at a time (DefaultChunkSize if <= 0)
func New(chunkSize int) *Hasher {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Hasher{ChunkSize: chunkSize}
}

// File returns the hex digest of the file at path.
// It returns util.ErrCancelled if ctx is done before the last chunk,
// or a *ReadError on any open or read failure.
func (h *Hasher) File(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", &ReadError{Path: path, Err: err}
	}
	defer f.Close()

	digest, err := h.Reader(ctx, f)
	if err != nil && err != util.ErrCancelled {
		return "", &ReadError{Path: path, Err: err}
	}
	return digest, err
}

// Reader returns the hex digest of everything read from r
func (h *Hasher) Reader(ctx context.Context, r io.Reader) (string, error) {
	size := h.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}

	sum := sha256.New()
	buf := make([]byte, size)
	for {
		if ctx.Err() != nil {
			return "", util.ErrCancelled
		}

		n, err := r.Read(buf)
		if n > 0 {
			sum.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
	}

	return hex.EncodeToString(sum.Sum(nil)), nil
}

// File hashes path with the default chunk size
func File(ctx context.Context, path string) (string, error) {
	return New(DefaultChunkSize).File(ctx, path)
}
