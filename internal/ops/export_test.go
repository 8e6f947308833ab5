package ops

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hpungsan/strabo/internal/errors"
	"github.com/hpungsan/strabo/internal/logging"
	"github.com/hpungsan/strabo/internal/store"
)

func TestExportImport_RoundTrip(t *testing.T) {
	cfg := testConfig(t)
	src := setupStore(t)
	created := organizeOne(t, src, "2024-05-01T10:00:00Z")
	if _, err := Rename(context.Background(), src, RenameInput{Token: created.Token, Title: "Harbour"}); err != nil {
		t.Fatal(err)
	}

	exp, err := Export(context.Background(), src, cfg, ExportInput{Token: created.Token})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if exp.Path != filepath.Join(cfg.ExportDir, created.Token+BundleExt) {
		t.Errorf("Path = %q", exp.Path)
	}
	info, err := os.Stat(exp.Path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size() != exp.Bytes || exp.Bytes == 0 {
		t.Errorf("Bytes = %d, file size = %d", exp.Bytes, info.Size())
	}

	dst, err := store.New(t.TempDir(), &seqTokens{prefix: "other"}, logging.Nop())
	if err != nil {
		t.Fatal(err)
	}
	imp, err := Import(context.Background(), dst, cfg, ImportInput{Path: exp.Path})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if imp.Token != created.Token || imp.Title != "Harbour" || imp.CreationDate != created.CreationDate {
		t.Errorf("imported = %+v", imp.CaptureSummary)
	}

	fetched, err := Fetch(context.Background(), dst, FetchInput{Token: created.Token, IncludeTrack: true})
	if err != nil {
		t.Fatalf("Fetch after import failed: %v", err)
	}
	if len(fetched.Track) != 2 {
		t.Errorf("imported track has %d samples", len(fetched.Track))
	}

	if _, err := Import(context.Background(), dst, cfg, ImportInput{Path: exp.Path}); !errors.Is(err, errors.ErrAlreadyExists) {
		t.Errorf("second Import error = %v, want ALREADY_EXISTS", err)
	}
}

func TestExport_MissingCaptureLeavesNothing(t *testing.T) {
	cfg := testConfig(t)
	st := setupStore(t)

	if _, err := Export(context.Background(), st, cfg, ExportInput{Token: "ghost"}); !errors.Is(err, errors.ErrNotFound) {
		t.Fatalf("Export error = %v, want NOT_FOUND", err)
	}
	entries, _ := os.ReadDir(cfg.ExportDir)
	if len(entries) != 0 {
		t.Errorf("export dir has %d entries", len(entries))
	}
}

func TestValidatePath(t *testing.T) {
	cfg := testConfig(t)
	existing := filepath.Join(cfg.ExportDir, "have.strabo")
	if err := os.WriteFile(existing, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(cfg.ExportDir, "link.strabo")
	if err := os.Symlink(existing, link); err != nil {
		t.Fatal(err)
	}
	outside := filepath.Join(t.TempDir(), "out.strabo")

	tests := []struct {
		name string
		path string
		mode PathCheckMode
		code errors.ErrorCode
	}{
		{"ok write", filepath.Join(cfg.ExportDir, "new.strabo"), PathCheckWrite, ""},
		{"ok read", existing, PathCheckRead, ""},
		{"empty", "", PathCheckWrite, errors.ErrInvalidRequest},
		{"traversal", cfg.ExportDir + "/../x.strabo", PathCheckWrite, errors.ErrInvalidRequest},
		{"extension", filepath.Join(cfg.ExportDir, "x.tar"), PathCheckWrite, errors.ErrInvalidRequest},
		{"outside", outside, PathCheckWrite, errors.ErrInvalidRequest},
		{"subdirectory", filepath.Join(cfg.ExportDir, "sub", "x.strabo"), PathCheckWrite, errors.ErrInvalidRequest},
		{"missing read", filepath.Join(cfg.ExportDir, "none.strabo"), PathCheckRead, errors.ErrNotFound},
		{"symlink", link, PathCheckRead, errors.ErrInvalidRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePath(tc.path, tc.mode, cfg)
			if tc.code == "" {
				if err != nil {
					t.Fatalf("ValidatePath() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tc.code) {
				t.Fatalf("ValidatePath() error = %v, want %s", err, tc.code)
			}
		})
	}
}

func TestValidatePath_AllowedAndUnsafe(t *testing.T) {
	cfg := testConfig(t)
	extra := t.TempDir()
	path := filepath.Join(extra, "x.strabo")

	if err := ValidatePath(path, PathCheckWrite, cfg); err == nil {
		t.Fatal("expected rejection outside allowed dirs")
	}

	cfg.AllowedPaths = []string{extra}
	if err := ValidatePath(path, PathCheckWrite, cfg); err != nil {
		t.Fatalf("allowed path rejected: %v", err)
	}

	cfg.AllowedPaths = nil
	cfg.AllowUnsafePaths = true
	if err := ValidatePath(path, PathCheckWrite, cfg); err != nil {
		t.Fatalf("unsafe mode rejected: %v", err)
	}
	if err := ValidatePath(filepath.Join(extra, "x.txt"), PathCheckWrite, cfg); err == nil {
		t.Error("unsafe mode must still check the extension")
	}
}
