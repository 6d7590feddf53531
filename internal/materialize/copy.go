package materialize

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/franz/media-sorter/internal/util"
)

// DefaultBufferSize is the copy buffer size
const DefaultBufferSize = 128 * 1024

const partSuffix = ".part"

// maxPlaceAttempts bounds how often a finished copy is re-placed when its
// chosen name appears between the check and the link
const maxPlaceAttempts = 100

// names hands out collision-free destination paths. A name is taken if it
// exists on disk or was handed out earlier in the same run, so dry-run
// plans show the names a real run would use.
type names struct {
	reserved map[string]struct{}
}

func newNames() *names {
	return &names{reserved: make(map[string]struct{})}
}

// next returns dir/name, or dir/stem_N.ext for the lowest free N >= 1
func (n *names) next(dir, name string) string {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	candidate := filepath.Join(dir, name)
	for i := 1; n.taken(candidate); i++ {
		candidate = filepath.Join(dir, stem+"_"+strconv.Itoa(i)+ext)
	}
	n.reserved[candidate] = struct{}{}
	return candidate
}

func (n *names) taken(path string) bool {
	if _, ok := n.reserved[path]; ok {
		return true
	}
	_, err := os.Lstat(path)
	return err == nil || !errors.Is(err, os.ErrNotExist)
}

// release forgets a reservation whose file was removed again
func (n *names) release(path string) {
	delete(n.reserved, path)
}

// copyFile copies srcPath into dir under the first free variant of name and
// returns the final path. Data goes to a uniquely named hidden temp file
// first, so no existing file is ever opened for writing or removed.
// Permissions and modification time of the source are preserved. On any
// failure, including cancellation, only the temp file is removed.
func (m *Materializer) copyFile(ctx context.Context, srcPath, dir, name string, names *names) (string, int64, os.FileInfo, error) {
	if err := util.RetryableMkdirAll(ctx, dir, 0755, m.retry); err != nil {
		return "", 0, nil, fmt.Errorf("failed to create directory: %w", err)
	}

	src, err := util.RetryableOpen(ctx, srcPath, m.retry)
	if err != nil {
		return "", 0, nil, fmt.Errorf("failed to open source: %w", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return "", 0, nil, fmt.Errorf("failed to stat source: %w", err)
	}

	tmp, err := util.RetryableCreateTemp(ctx, dir, "."+name+".*"+partSuffix, m.retry)
	if err != nil {
		return "", 0, nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tmp.Name()
	defer os.Remove(tempPath) // ours; already gone after a rename

	written, err := copyWithContext(ctx, tmp, src, m.bufferSize)
	if err == nil {
		err = tmp.Chmod(info.Mode().Perm())
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", 0, nil, err
	}

	if err := os.Chtimes(tempPath, info.ModTime(), info.ModTime()); err != nil {
		util.DebugLog("Could not preserve mtime of %s: %v", srcPath, err)
	}

	dest, err := m.place(context.WithoutCancel(ctx), tempPath, dir, name, names)
	if err != nil {
		return "", 0, nil, err
	}

	util.DebugLog("Copied: %s -> %s (%s)", srcPath, dest, util.FormatBytes(written))
	return dest, written, info, nil
}

// place gives the finished temp file its final name. A hard link fails
// instead of replacing a file that appeared after the name was chosen, in
// which case the next free name is tried. Filesystems without hard links
// (FAT, exFAT, some network shares) fall back to a rename of a name that
// was just checked to be free.
func (m *Materializer) place(ctx context.Context, tempPath, dir, name string, names *names) (string, error) {
	for attempt := 0; attempt < maxPlaceAttempts; attempt++ {
		dest := names.next(dir, name)

		err := util.RetryableLink(ctx, tempPath, dest, m.retry)
		if err == nil {
			return dest, nil
		}
		if errors.Is(err, os.ErrExist) {
			util.DebugLog("%s appeared during the copy, trying the next name", dest)
			continue
		}

		if _, serr := os.Lstat(dest); serr == nil {
			continue
		}
		util.DebugLog("Hard link to %s failed (%v), renaming instead", dest, err)
		if err := util.RetryableRename(ctx, tempPath, dest, m.retry); err != nil {
			names.release(dest)
			return "", fmt.Errorf("failed to rename: %w", err)
		}
		return dest, nil
	}
	return "", fmt.Errorf("no free name for %s in %s after %d attempts", name, dir, maxPlaceAttempts)
}

// copyWithContext copies data, checking ctx before every buffer.
// Cancellation is reported as util.ErrCancelled.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader, bufferSize int) (int64, error) {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	buf := make([]byte, bufferSize)
	var written int64

	for {
		if ctx.Err() != nil {
			return written, util.ErrCancelled
		}

		nr, er := src.Read(buf)
		if nr > 0 {
			nw, ew := dst.Write(buf[0:nr])
			if nw < 0 || nr < nw {
				nw = 0
				if ew == nil {
					ew = fmt.Errorf("invalid write result")
				}
			}
			written += int64(nw)
			if ew != nil {
				return written, ew
			}
			if nr != nw {
				return written, io.ErrShortWrite
			}
		}
		if er != nil {
			if er != io.EOF {
				return written, er
			}
			break
		}
	}
	return written, nil
}
