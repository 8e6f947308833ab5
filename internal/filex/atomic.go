// Package filex holds file helpers shared by the store and the operations
// layer: symlink-refusing opens and write-then-rename replacement.
package filex

import (
	"io"
	"os"
	"runtime"

	"github.com/google/uuid"

	"github.com/hpungsan/strabo/internal/errors"
)

// WriteAtomic streams write into a temp file next to path, syncs it and
// renames it into place. An existing file at path survives any failure.
// The returned count is the number of bytes written.
func WriteAtomic(path string, perm os.FileMode, write func(io.Writer) error) (int64, error) {
	tempPath := path + "." + uuid.NewString() + ".tmp"

	file, err := OpenNoFollow(tempPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm)
	if err != nil {
		return 0, errors.NewIO("create "+tempPath, err)
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	cw := &countingWriter{w: file}
	if err := write(cw); err != nil {
		return 0, err
	}
	if err := file.Sync(); err != nil {
		return 0, errors.NewIO("sync "+tempPath, err)
	}
	// Close before rename (required on Windows).
	if err := file.Close(); err != nil {
		return 0, errors.NewIO("close "+tempPath, err)
	}
	file = nil

	// os.Rename would replace a symlink, not follow it, but refusing is clearer.
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return 0, errors.NewInvalidRequest("destination is a symlink")
	}

	if err := os.Rename(tempPath, path); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(path); statErr == nil {
				return 0, errors.NewInvalidRequest("destination already exists; overwriting is not supported on Windows")
			}
		}
		return 0, errors.NewIO("rename "+tempPath, err)
	}

	success = true
	return cw.n, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
