package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	DefaultTitle                = "Untitled Capture"
	DefaultUploadTimeoutSeconds = 300
	DefaultIngestBind           = "127.0.0.1"
	DefaultIngestPort           = 8723
	DefaultMaxUploadBytes       = 2 << 30
)

// Config holds application configuration.
type Config struct {
	// StoreDir is the capture store root. Empty means <base>/captures.
	StoreDir string `json:"store_dir,omitempty"`

	// UploadURL is the endpoint captures are POSTed to.
	UploadURL string `json:"upload_url,omitempty"`

	// UploadTimeoutSeconds bounds a whole upload request, body included.
	UploadTimeoutSeconds int `json:"upload_timeout_seconds,omitempty"`

	// AdvancedLogging enables debug-level logging.
	AdvancedLogging bool `json:"advanced_logging,omitempty"`

	// DefaultTitle is assigned to captures organized without a title.
	DefaultTitle string `json:"default_title,omitempty"`

	// IngestBind and IngestPort are the listen address of `strabo serve`.
	IngestBind string `json:"ingest_bind,omitempty"`
	IngestPort int    `json:"ingest_port,omitempty"`

	// IngestStoreDir is where the ingest server stores received captures.
	// Empty means <base>/received.
	IngestStoreDir string `json:"ingest_store_dir,omitempty"`

	// MaxUploadBytes caps the request body accepted by the ingest server.
	MaxUploadBytes int64 `json:"max_upload_bytes,omitempty"`

	// ExportDir is the default destination of capture bundles.
	// Empty means <base>/exports.
	ExportDir string `json:"export_dir,omitempty"`

	// AllowedPaths lists extra absolute directories bundles may be read from
	// or written to. Files must sit directly in one of them.
	AllowedPaths []string `json:"allowed_paths,omitempty"`

	// AllowUnsafePaths lifts the directory restriction. Symlinks are still refused.
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// If set to 1, all database access is serialized (reduces "database is locked" errors).
	// 0 means use sql.DB default (unlimited). Only set if you experience contention.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	// 0 means use sql.DB default. Typically set equal to DBMaxOpenConns.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// DisabledTypes is a list of type names to disable entirely.
	// Known types: "capture", "upload". Unknown type names are logged as warnings.
	DisabledTypes []string `json:"disabled_types,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		UploadTimeoutSeconds: DefaultUploadTimeoutSeconds,
		DefaultTitle:         DefaultTitle,
		IngestBind:           DefaultIngestBind,
		IngestPort:           DefaultIngestPort,
		MaxUploadBytes:       DefaultMaxUploadBytes,
	}
}

// UploadTimeout returns UploadTimeoutSeconds as a duration.
func (c *Config) UploadTimeout() time.Duration {
	return time.Duration(c.UploadTimeoutSeconds) * time.Second
}

// ResolvePaths fills empty directory settings relative to baseDir.
func (c *Config) ResolvePaths(baseDir string) {
	if c.StoreDir == "" {
		c.StoreDir = filepath.Join(baseDir, "captures")
	}
	if c.IngestStoreDir == "" {
		c.IngestStoreDir = filepath.Join(baseDir, "received")
	}
	if c.ExportDir == "" {
		c.ExportDir = filepath.Join(baseDir, "exports")
	}
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.strabo.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from both global (~/.strabo) and repo (.strabo) directories.
// Repo config is found by walking upward from startDir to find the nearest .strabo/config.json.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
// Either or both configs may be missing.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repoConfigPath := FindRepoConfig(startDir)
	repo, err := loadFileRaw(repoConfigPath)
	if err != nil {
		return nil, err
	}

	return Merge(Merge(DefaultConfig(), global), repo), nil
}

// FindRepoConfig walks upward from startDir to find the nearest .strabo/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".strabo", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// loadFileRaw returns a zero-valued config (not defaults) if the file doesn't exist.
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	return &Config{
		StoreDir:             pick(overlay.StoreDir, base.StoreDir),
		UploadURL:            pick(overlay.UploadURL, base.UploadURL),
		UploadTimeoutSeconds: pick(overlay.UploadTimeoutSeconds, base.UploadTimeoutSeconds),
		DefaultTitle:         pick(overlay.DefaultTitle, base.DefaultTitle),
		IngestBind:           pick(overlay.IngestBind, base.IngestBind),
		IngestPort:           pick(overlay.IngestPort, base.IngestPort),
		IngestStoreDir:       pick(overlay.IngestStoreDir, base.IngestStoreDir),
		MaxUploadBytes:       pick(overlay.MaxUploadBytes, base.MaxUploadBytes),
		ExportDir:            pick(overlay.ExportDir, base.ExportDir),
		DBMaxOpenConns:       pick(overlay.DBMaxOpenConns, base.DBMaxOpenConns),
		DBMaxIdleConns:       pick(overlay.DBMaxIdleConns, base.DBMaxIdleConns),

		// Booleans: overlay wins if true, else base
		AdvancedLogging:  base.AdvancedLogging || overlay.AdvancedLogging,
		AllowUnsafePaths: base.AllowUnsafePaths || overlay.AllowUnsafePaths,

		AllowedPaths:  mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths),

		DisabledTools: mergeStringSlice(base.DisabledTools, overlay.DisabledTools),
		DisabledTypes: mergeStringSlice(base.DisabledTypes, overlay.DisabledTypes),
	}
}

// pick returns overlay if it is non-zero, else base.
func pick[T comparable](overlay, base T) T {
	var zero T
	if overlay != zero {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range append(append([]string{}, a...), b...) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
