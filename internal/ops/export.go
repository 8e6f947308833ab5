package ops

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hpungsan/strabo/internal/config"
	"github.com/hpungsan/strabo/internal/errors"
	"github.com/hpungsan/strabo/internal/filex"
	"github.com/hpungsan/strabo/internal/store"
)

// ExportInput contains parameters for the Export operation.
type ExportInput struct {
	Token string
	Path  string // optional, default: <export_dir>/<token>.strabo
}

// ExportOutput contains the result of the Export operation.
type ExportOutput struct {
	Token string `json:"token"`
	Path  string `json:"path"`
	Bytes int64  `json:"bytes"`
}

// Export writes a capture bundle. An existing file at the destination is
// replaced only once the new bundle is complete.
func Export(ctx context.Context, st *store.Store, cfg *config.Config, input ExportInput) (*ExportOutput, error) {
	tok, err := validateToken(input.Token)
	if err != nil {
		return nil, err
	}

	path := input.Path
	if path == "" {
		dir := ""
		if cfg != nil {
			dir = cfg.ExportDir
		}
		if dir == "" {
			if dir, err = DefaultExportsDir(); err != nil {
				return nil, err
			}
		}
		path = filepath.Join(dir, tok+BundleExt)
	}
	if err := ValidatePath(path, PathCheckWrite, cfg); err != nil {
		return nil, err
	}

	// Fail before touching the destination directory.
	if _, err := st.CaptureByToken(ctx, tok); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
	}

	n, err := filex.WriteAtomic(path, 0600, func(w io.Writer) error {
		return st.ExportBundle(ctx, tok, w)
	})
	if err != nil {
		return nil, err
	}
	abs, _ := filepath.Abs(path)
	return &ExportOutput{Token: tok, Path: abs, Bytes: n}, nil
}
