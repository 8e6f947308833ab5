package store

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"

	"github.com/hpungsan/strabo/internal/errors"
	"github.com/hpungsan/strabo/internal/filex"
)

const tempSuffix = ".tmp"

type relocation struct {
	src, dst string
}

type stagedFile struct {
	tmp, dst string
}

// txn tracks every file touched while creating one capture so a failure can
// undo them. It is not safe for concurrent use.
type txn struct {
	s   *Store
	tok string

	moved   []relocation
	created []string
	temps   map[string]bool

	// sources copied across filesystems, removed only on commit
	pendingRemove []string
}

func (s *Store) begin(tok string) *txn {
	return &txn{s: s, tok: tok, temps: make(map[string]bool)}
}

func tempName(dst string) string {
	return dst + "." + uuid.NewString() + tempSuffix
}

// stage writes r to a fresh temp file beside dst and syncs it.
func (t *txn) stage(dst string, r io.Reader) (stagedFile, int64, error) {
	sf := stagedFile{tmp: tempName(dst), dst: dst}
	f, err := filex.OpenNoFollow(sf.tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, t.s.opts.fileMode)
	if err != nil {
		return sf, 0, errors.NewIO("create temp file", err)
	}
	t.temps[sf.tmp] = true

	n, err := io.Copy(f, r)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return sf, n, errors.NewIO("write "+filepath.Base(dst), err)
	}
	return sf, n, nil
}

// put renames a staged file into its final name.
func (t *txn) put(sf stagedFile) error {
	// os.Rename would replace a symlink, but refuse to clobber anything at all.
	if _, err := os.Lstat(sf.dst); err == nil {
		return errors.NewIO("place "+filepath.Base(sf.dst), os.ErrExist)
	}
	if err := os.Rename(sf.tmp, sf.dst); err != nil {
		return errors.NewIO("place "+filepath.Base(sf.dst), err)
	}
	delete(t.temps, sf.tmp)
	t.created = append(t.created, sf.dst)
	return nil
}

// writeFile puts data at dst through a temp file and rename.
func (t *txn) writeFile(dst string, data []byte) error {
	sf, _, err := t.stage(dst, bytes.NewReader(data))
	if err != nil {
		return err
	}
	return t.put(sf)
}

// copyFile copies src to dst, leaving src untouched.
func (t *txn) copyFile(src, dst string) error {
	f, err := filex.OpenNoFollowRead(src)
	if err != nil {
		return errors.NewIO("open "+filepath.Base(src), err)
	}
	defer f.Close()

	sf, _, err := t.stage(dst, f)
	if err != nil {
		return err
	}
	return t.put(sf)
}

// move relocates src to dst. Across filesystems it copies instead and
// removes src on commit.
func (t *txn) move(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return errors.NewIO("stat "+filepath.Base(src), err)
	}
	if !info.Mode().IsRegular() {
		return errors.NewIO("move "+filepath.Base(src), fmt.Errorf("not a regular file"))
	}
	if _, err := os.Lstat(dst); err == nil {
		return errors.NewIO("move "+filepath.Base(src), os.ErrExist)
	}

	err = os.Rename(src, dst)
	if err == nil {
		t.moved = append(t.moved, relocation{src: src, dst: dst})
		return nil
	}
	if !stderrors.Is(err, syscall.EXDEV) {
		return errors.NewIO("move "+filepath.Base(src), err)
	}
	if err := t.copyFile(src, dst); err != nil {
		return err
	}
	t.pendingRemove = append(t.pendingRemove, src)
	return nil
}

// commit finalizes the transaction.
func (t *txn) commit(ctx context.Context) {
	for _, src := range t.pendingRemove {
		if err := os.Remove(src); err != nil && !os.IsNotExist(err) {
			t.s.log.Warn(ctx, "could not remove copied source", "token", t.tok, "path", src, "error", err)
		}
	}
	t.pendingRemove = nil
}

// rollback undoes everything, best effort. Relocated files go back to where
// they came from when possible and are removed otherwise.
func (t *txn) rollback(ctx context.Context) {
	for tmp := range t.temps {
		if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
			t.s.log.Warn(ctx, "rollback: remove temp file", "token", t.tok, "path", tmp, "error", err)
		}
	}
	for i := len(t.created) - 1; i >= 0; i-- {
		if err := os.Remove(t.created[i]); err != nil && !os.IsNotExist(err) {
			t.s.log.Warn(ctx, "rollback: remove file", "token", t.tok, "path", t.created[i], "error", err)
		}
	}
	for i := len(t.moved) - 1; i >= 0; i-- {
		m := t.moved[i]
		err := os.Rename(m.dst, m.src)
		if err == nil {
			continue
		}
		t.s.log.Warn(ctx, "rollback: could not restore moved file, removing it", "token", t.tok, "path", m.dst, "error", err)
		if err := os.Remove(m.dst); err != nil && !os.IsNotExist(err) {
			t.s.log.Warn(ctx, "rollback: remove file", "token", t.tok, "path", m.dst, "error", err)
		}
	}
	t.temps = map[string]bool{}
	t.created, t.moved, t.pendingRemove = nil, nil, nil
	t.s.log.Info(ctx, "rolled back capture creation", "token", t.tok)
}
