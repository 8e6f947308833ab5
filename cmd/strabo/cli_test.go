package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hpungsan/strabo/internal/config"
	"github.com/hpungsan/strabo/internal/db"
	"github.com/hpungsan/strabo/internal/logging"
	"github.com/hpungsan/strabo/internal/ops"
	"github.com/hpungsan/strabo/internal/store"
	"github.com/hpungsan/strabo/internal/token"
	"github.com/hpungsan/strabo/internal/upload"
)

// setupTestEnv creates a store, database and config under a temp dir.
func setupTestEnv(t *testing.T) *env {
	t.Helper()
	baseDir := t.TempDir()

	database, err := db.Init(baseDir)
	if err != nil {
		t.Fatalf("failed to init test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := config.DefaultConfig()
	cfg.ResolvePaths(baseDir)

	tokens := token.New("test-install")
	st, err := store.New(cfg.StoreDir, tokens, logging.Nop())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return &env{store: st, db: database, cfg: cfg, log: logging.Nop(), tokens: tokens}
}

// runCLI runs the app with args and returns stdout and stderr.
func runCLI(t *testing.T, e *env, args ...string) (string, string, error) {
	t.Helper()
	return runCLIContext(context.Background(), t, e, args...)
}

func runCLIContext(ctx context.Context, t *testing.T, e *env, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := newCLIApp(e)
	app.Writer = &stdout
	app.ErrWriter = &stderr
	err := app.RunContext(ctx, append([]string{"strabo"}, args...))
	return stdout.String(), stderr.String(), err
}

// writeRecording writes a fake image and thumbnail and returns their paths.
func writeRecording(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	media := filepath.Join(dir, "shot.jpg")
	thumb := filepath.Join(dir, "thumb.jpg")
	if err := os.WriteFile(media, []byte("fake image"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(thumb, []byte("fake thumb"), 0600); err != nil {
		t.Fatal(err)
	}
	return media, thumb
}

// organizeCLI stores a capture through the organize command.
func organizeCLI(t *testing.T, e *env, title string) ops.CaptureSummary {
	t.Helper()
	media, thumb := writeRecording(t)
	out, _, err := runCLI(t, e, "organize",
		"--media", media, "--thumbnail", thumb, "--type", "image",
		"--lat=48.8584", "--lon=2.2945", "--heading=90",
		"--title", title, "--date", "2024-05-01T12:00:00Z")
	if err != nil {
		t.Fatalf("organize command failed: %v", err)
	}
	var summary ops.CaptureSummary
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	return summary
}

func TestCLIOrganizeAndRead(t *testing.T) {
	e := setupTestEnv(t)
	created := organizeCLI(t, e, "Tower")

	if created.Token == "" || created.Title != "Tower" || created.Type != "image" {
		t.Fatalf("organize output = %+v", created)
	}
	if created.Latitude != 48.8584 || created.Heading != 90 {
		t.Errorf("location = %v,%v heading %v", created.Latitude, created.Longitude, created.Heading)
	}

	t.Run("fetch", func(t *testing.T) {
		out, _, err := runCLI(t, e, "fetch", "--track", created.Token)
		if err != nil {
			t.Fatalf("fetch command failed: %v", err)
		}
		var fetched ops.FetchOutput
		if err := json.Unmarshal([]byte(out), &fetched); err != nil {
			t.Fatalf("failed to parse output: %v", err)
		}
		if fetched.Token != created.Token || !filepath.IsAbs(fetched.MediaPath) {
			t.Errorf("fetch output = %+v", fetched)
		}
	})

	t.Run("list", func(t *testing.T) {
		out, _, err := runCLI(t, e, "list", "--uploaded=false")
		if err != nil {
			t.Fatalf("list command failed: %v", err)
		}
		var list ops.ListOutput
		if err := json.Unmarshal([]byte(out), &list); err != nil {
			t.Fatalf("failed to parse output: %v", err)
		}
		if len(list.Items) != 1 || list.Items[0].Token != created.Token {
			t.Errorf("list items = %+v", list.Items)
		}

		out, _, _ = runCLI(t, e, "list", "--uploaded")
		if err := json.Unmarshal([]byte(out), &list); err != nil {
			t.Fatalf("failed to parse output: %v", err)
		}
		if len(list.Items) != 0 {
			t.Errorf("uploaded items = %+v, want none", list.Items)
		}
	})

	t.Run("recent and count", func(t *testing.T) {
		out, _, err := runCLI(t, e, "recent")
		if err != nil {
			t.Fatalf("recent command failed: %v", err)
		}
		if !strings.Contains(out, created.Token) {
			t.Errorf("recent output missing token: %s", out)
		}

		out, _, _ = runCLI(t, e, "count")
		var count ops.CountOutput
		if err := json.Unmarshal([]byte(out), &count); err != nil {
			t.Fatalf("failed to parse output: %v", err)
		}
		if count.Count != 1 {
			t.Errorf("count = %d, want 1", count.Count)
		}
	})

	t.Run("on date", func(t *testing.T) {
		out, _, err := runCLI(t, e, "on", "2024-05-01")
		if err != nil {
			t.Fatalf("on command failed: %v", err)
		}
		var day ops.OnDateOutput
		if err := json.Unmarshal([]byte(out), &day); err != nil {
			t.Fatalf("failed to parse output: %v", err)
		}
		if len(day.Items) != 1 {
			t.Errorf("on 2024-05-01 = %d items, want 1", len(day.Items))
		}
	})
}

func TestCLIImportImage(t *testing.T) {
	e := setupTestEnv(t)
	media, _ := writeRecording(t)

	out, _, err := runCLI(t, e, "import-image", "--lat=1.5", "--lon=2.5", media)
	if err != nil {
		t.Fatalf("import-image command failed: %v", err)
	}
	var summary ops.CaptureSummary
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if summary.Type != "image" || summary.Latitude != 1.5 {
		t.Errorf("import-image output = %+v", summary)
	}
	if _, err := os.Stat(media); err != nil {
		t.Errorf("source image should be copied, not moved: %v", err)
	}
}

func TestCLIRenameDelete(t *testing.T) {
	e := setupTestEnv(t)
	created := organizeCLI(t, e, "Before")

	out, _, err := runCLI(t, e, "rename", created.Token, "After")
	if err != nil {
		t.Fatalf("rename command failed: %v", err)
	}
	if !strings.Contains(out, `"After"`) {
		t.Errorf("rename output = %s", out)
	}

	out, _, err = runCLI(t, e, "delete", "--purge-history", created.Token)
	if err != nil {
		t.Fatalf("delete command failed: %v", err)
	}
	var deleted ops.DeleteOutput
	if err := json.Unmarshal([]byte(out), &deleted); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if !deleted.Deleted {
		t.Error("expected deleted=true")
	}

	if _, _, err := runCLI(t, e, "fetch", created.Token); err == nil {
		t.Error("fetch after delete should fail")
	}
}

func TestCLIUploadAndHistory(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(upload.Ack{Token: r.FormValue(upload.FieldToken), Accepted: true})
	}))
	defer ts.Close()

	e := setupTestEnv(t)
	created := organizeCLI(t, e, "Upload me")

	out, progress, err := runCLI(t, e, "upload", "--url", ts.URL, created.Token)
	if err != nil {
		t.Fatalf("upload command failed: %v", err)
	}
	var result ops.UploadOutput
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if result.Outcome != db.OutcomeCompleted || result.UploadDate == 0 {
		t.Errorf("upload output = %+v", result)
	}
	if !strings.Contains(progress, "100%") {
		t.Errorf("progress = %q, want it to reach 100%%", progress)
	}

	out, _, err = runCLI(t, e, "history", created.Token)
	if err != nil {
		t.Fatalf("history command failed: %v", err)
	}
	var hist ops.HistoryOutput
	if err := json.Unmarshal([]byte(out), &hist); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if len(hist.Items) != 1 || hist.Items[0].Outcome != db.OutcomeCompleted {
		t.Errorf("history = %+v", hist.Items)
	}
}

func TestCLIExportImport(t *testing.T) {
	src := setupTestEnv(t)
	created := organizeCLI(t, src, "Portable")

	out, _, err := runCLI(t, src, "export", created.Token)
	if err != nil {
		t.Fatalf("export command failed: %v", err)
	}
	var exported ops.ExportOutput
	if err := json.Unmarshal([]byte(out), &exported); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if filepath.Dir(exported.Path) != src.cfg.ExportDir {
		t.Errorf("export path = %q, want inside %q", exported.Path, src.cfg.ExportDir)
	}

	dst := setupTestEnv(t)
	dst.cfg.AllowedPaths = []string{src.cfg.ExportDir}
	out, _, err = runCLI(t, dst, "import", exported.Path)
	if err != nil {
		t.Fatalf("import command failed: %v", err)
	}
	var imported ops.ImportOutput
	if err := json.Unmarshal([]byte(out), &imported); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if imported.Token != created.Token || imported.Title != "Portable" {
		t.Errorf("import output = %+v", imported)
	}
}

func TestCLIPrune(t *testing.T) {
	e := setupTestEnv(t)
	organizeCLI(t, e, "Keep")

	out, _, err := runCLI(t, e, "prune", "--older-than", "1h")
	if err != nil {
		t.Fatalf("prune command failed: %v", err)
	}
	var pruned ops.PruneOutput
	if err := json.Unmarshal([]byte(out), &pruned); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if pruned.Removed != 0 {
		t.Errorf("removed = %d, want 0", pruned.Removed)
	}
}

func TestCLIServe_StopsOnCancel(t *testing.T) {
	e := setupTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if _, _, err := runCLIContext(ctx, t, e, "serve", "--port", "0"); err != nil {
		t.Fatalf("serve returned %v, want nil after shutdown", err)
	}
	if info, err := os.Stat(e.cfg.IngestStoreDir); err != nil || !info.IsDir() {
		t.Errorf("ingest store dir not created: %v", err)
	}
}

func TestCLIErrorHandling(t *testing.T) {
	e := setupTestEnv(t)

	tests := []struct {
		name     string
		args     []string
		wantCode string
	}{
		{"fetch not found", []string{"fetch", "missing"}, "[NOT_FOUND]"},
		{"fetch without token", []string{"fetch"}, "[INVALID_REQUEST]"},
		{"invalid prune age", []string{"prune", "--older-than=invalid"}, "[INVALID_REQUEST]"},
		{"bad date", []string{"on", "May 1st"}, "[INVALID_REQUEST]"},
		{"import-image without path", []string{"import-image"}, "[INVALID_REQUEST]"},
		{"upload without url", []string{"upload", "missing"}, "[INVALID_REQUEST]"},
		{"history bad outcome", []string{"history", "--outcome", "exploded"}, "[INVALID_REQUEST]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := runCLI(t, e, tt.args...)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantCode) {
				t.Errorf("error = %q, want %s", err.Error(), tt.wantCode)
			}
		})
	}

	t.Run("organize missing required flags", func(t *testing.T) {
		if _, _, err := runCLI(t, e, "organize"); err == nil {
			t.Error("expected error, got nil")
		}
	})
}

func TestOpenEnv(t *testing.T) {
	baseDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(baseDir, "config.json"), []byte(`{"default_title":"Walk"}`), 0600); err != nil {
		t.Fatal(err)
	}

	e, err := openEnv(context.Background(), baseDir)
	if err != nil {
		t.Fatalf("openEnv failed: %v", err)
	}
	defer e.db.Close()

	if e.cfg.StoreDir != filepath.Join(baseDir, "captures") {
		t.Errorf("StoreDir = %q", e.cfg.StoreDir)
	}
	if e.cfg.DefaultTitle != "Walk" {
		t.Errorf("DefaultTitle = %q, want Walk", e.cfg.DefaultTitle)
	}
	if e.store.Root() != e.cfg.StoreDir {
		t.Errorf("store root = %q, want %q", e.store.Root(), e.cfg.StoreDir)
	}

	// A second open of the same installation keeps its install id.
	first, err := db.InstallID(context.Background(), e.db)
	if err != nil {
		t.Fatal(err)
	}
	e.db.Close()
	e2, err := openEnv(context.Background(), baseDir)
	if err != nil {
		t.Fatalf("second openEnv failed: %v", err)
	}
	defer e2.db.Close()
	second, err := db.InstallID(context.Background(), e2.db)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("install id changed: %s != %s", first, second)
	}
}

func TestIsCLIMode(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected bool
	}{
		{"no args", []string{"strabo"}, false},
		{"list command", []string{"strabo", "list"}, true},
		{"upload command", []string{"strabo", "upload"}, true},
		{"serve command", []string{"strabo", "serve"}, true},
		{"help flag", []string{"strabo", "--help"}, true},
		{"short version flag", []string{"strabo", "-v"}, true},
		{"unknown arg defaults to MCP", []string{"strabo", "--unknown"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldArgs := os.Args
			defer func() { os.Args = oldArgs }()

			os.Args = tt.args
			if result := isCLIMode(); result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestIsHelpOrVersion(t *testing.T) {
	tests := map[string]bool{
		"help":      true,
		"--help":    true,
		"-h":        true,
		"--version": true,
		"list":      false,
	}
	for arg, want := range tests {
		oldArgs := os.Args
		os.Args = []string{"strabo", arg}
		got := isHelpOrVersion()
		os.Args = oldArgs
		if got != want {
			t.Errorf("isHelpOrVersion(%q) = %v, want %v", arg, got, want)
		}
	}
}
