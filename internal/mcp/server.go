package mcp

import (
	"database/sql"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/strabo/internal/config"
	"github.com/hpungsan/strabo/internal/logging"
	"github.com/hpungsan/strabo/internal/store"
)

// KnownTypes lists all valid type names.
var KnownTypes = []string{"capture", "upload"}

// toolEntry pairs a tool definition with a handler factory. typ overrides
// the type derived from the tool name.
type toolEntry struct {
	def     mcp.Tool
	typ     string
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"capture_list": {
		def:     listToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleList },
	},
	"capture_recent": {
		def:     recentToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRecent },
	},
	"capture_on_date": {
		def:     onDateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleOnDate },
	},
	"capture_count": {
		def:     countToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCount },
	},
	"capture_fetch": {
		def:     fetchToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleFetch },
	},
	"capture_rename": {
		def:     renameToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRename },
	},
	"capture_delete": {
		def:     deleteToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDelete },
	},
	"capture_upload": {
		def:     uploadToolDef,
		typ:     "upload",
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleUpload },
	},
	"capture_export": {
		def:     exportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleExport },
	},
	"capture_import": {
		def:     importToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleImport },
	},
	"capture_prune": {
		def:     pruneToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandlePrune },
	},
	"capture_history": {
		def:     historyToolDef,
		typ:     "upload",
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleHistory },
	},
}

// AllToolNames returns a list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// ValidateDisabledTypes returns a list of unknown type names from the given list.
func ValidateDisabledTypes(names []string) []string {
	known := make(map[string]bool, len(KnownTypes))
	for _, t := range KnownTypes {
		known[t] = true
	}

	unknown := make([]string, 0)
	for _, name := range names {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// GetTypeForTool returns the type a tool belongs to: the registry override
// if any, else the prefix before the first "_" ("capture_fetch" → "capture").
func GetTypeForTool(toolName string) string {
	if e, ok := toolRegistry[toolName]; ok && e.typ != "" {
		return e.typ
	}
	if idx := strings.Index(toolName, "_"); idx > 0 {
		return toolName[:idx]
	}
	return ""
}

// ExpandTypesToTools returns all tool names belonging to the given types.
func ExpandTypesToTools(types []string) []string {
	if len(types) == 0 {
		return nil
	}

	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}

	tools := make([]string, 0)
	for name := range toolRegistry {
		if typeSet[GetTypeForTool(name)] {
			tools = append(tools, name)
		}
	}
	return tools
}

// NewServer creates an MCP server with the capture tools registered.
// Tools listed in cfg.DisabledTools or belonging to cfg.DisabledTypes
// are excluded from registration.
func NewServer(st *store.Store, db *sql.DB, cfg *config.Config, log logging.Logger, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"strabo",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(st, db, cfg, log)

	disabled := make(map[string]bool)
	for _, tool := range ExpandTypesToTools(cfg.DisabledTypes) {
		disabled[tool] = true
	}
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(st *store.Store, db *sql.DB, cfg *config.Config, log logging.Logger, version string) error {
	return server.ServeStdio(NewServer(st, db, cfg, log, version))
}
