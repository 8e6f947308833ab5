package mcp

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/strabo/internal/config"
	"github.com/hpungsan/strabo/internal/errors"
	"github.com/hpungsan/strabo/internal/logging"
	"github.com/hpungsan/strabo/internal/ops"
	"github.com/hpungsan/strabo/internal/store"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	store *store.Store
	db    *sql.DB
	cfg   *config.Config
	log   logging.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(st *store.Store, db *sql.DB, cfg *config.Config, log logging.Logger) *Handlers {
	if log == nil {
		log = logging.Nop()
	}
	return &Handlers{store: st, db: db, cfg: cfg, log: log.With("component", "mcp")}
}

// Request types for each tool

type ListRequest struct {
	Type     string `json:"type,omitempty"`
	Uploaded *bool  `json:"uploaded,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Offset   int    `json:"offset,omitempty"`
}

type RecentRequest struct {
	Limit int `json:"limit,omitempty"`
}

type OnDateRequest struct {
	Date string `json:"date"`
}

type FetchRequest struct {
	Token        string `json:"token"`
	IncludeTrack bool   `json:"include_track,omitempty"`
}

type RenameRequest struct {
	Token string `json:"token"`
	Title string `json:"title"`
}

type DeleteRequest struct {
	Token        string `json:"token"`
	PurgeHistory bool   `json:"purge_history,omitempty"`
}

type UploadRequest struct {
	Token string `json:"token"`
	URL   string `json:"url,omitempty"`
}

type ExportRequest struct {
	Token string `json:"token"`
	Path  string `json:"path,omitempty"`
}

type ImportRequest struct {
	Path string `json:"path"`
}

type PruneRequest struct {
	OlderThan string `json:"older_than,omitempty"`
}

type HistoryRequest struct {
	Token   string `json:"token,omitempty"`
	Outcome string `json:"outcome,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	Offset  int    `json:"offset,omitempty"`
}

// Handler implementations

// HandleList handles capture_list.
func (h *Handlers) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return respond(ops.List(ctx, h.store, ops.ListInput{
		Type:     input.Type,
		Uploaded: input.Uploaded,
		Limit:    input.Limit,
		Offset:   input.Offset,
	}))
}

// HandleRecent handles capture_recent.
func (h *Handlers) HandleRecent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RecentRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return respond(ops.Recent(ctx, h.store, ops.RecentInput{Limit: input.Limit}))
}

// HandleOnDate handles capture_on_date.
func (h *Handlers) HandleOnDate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[OnDateRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return respond(ops.OnDate(ctx, h.store, ops.OnDateInput{Date: input.Date}))
}

// HandleCount handles capture_count.
func (h *Handlers) HandleCount(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successResult(ops.Count(ctx, h.store))
}

// HandleFetch handles capture_fetch.
func (h *Handlers) HandleFetch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[FetchRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return respond(ops.Fetch(ctx, h.store, ops.FetchInput{
		Token:        input.Token,
		IncludeTrack: input.IncludeTrack,
	}))
}

// HandleRename handles capture_rename.
func (h *Handlers) HandleRename(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RenameRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return respond(ops.Rename(ctx, h.store, ops.RenameInput{Token: input.Token, Title: input.Title}))
}

// HandleDelete handles capture_delete.
func (h *Handlers) HandleDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[DeleteRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return respond(ops.Delete(ctx, h.store, h.db, ops.DeleteInput{
		Token:        input.Token,
		PurgeHistory: input.PurgeHistory,
	}))
}

// HandleUpload handles capture_upload. The call blocks until the upload
// ends; cancelling the request cancels the upload.
func (h *Handlers) HandleUpload(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[UploadRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return respond(ops.Upload(ctx, h.store, h.db, h.cfg, ops.UploadInput{
		Token:  input.Token,
		URL:    input.URL,
		Logger: h.log,
	}))
}

// HandleExport handles capture_export.
func (h *Handlers) HandleExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ExportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return respond(ops.Export(ctx, h.store, h.cfg, ops.ExportInput{Token: input.Token, Path: input.Path}))
}

// HandleImport handles capture_import.
func (h *Handlers) HandleImport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ImportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return respond(ops.Import(ctx, h.store, h.cfg, ops.ImportInput{Path: input.Path}))
}

// HandlePrune handles capture_prune.
func (h *Handlers) HandlePrune(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[PruneRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return respond(ops.Prune(ctx, h.store, ops.PruneInput{OlderThan: input.OlderThan}))
}

// HandleHistory handles capture_history.
func (h *Handlers) HandleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[HistoryRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return respond(ops.History(ctx, h.db, ops.HistoryInput{
		Token:   input.Token,
		Outcome: input.Outcome,
		Limit:   input.Limit,
		Offset:  input.Offset,
	}))
}

// respond converts an operation result into a tool result.
func respond(out any, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(out)
}

// errorResult creates an MCP error result. Wrapped errors keep their
// wrapping context in the message.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var sErr *errors.StraboError
	if stderrors.As(err, &sErr) {
		message := sErr.Message
		if err != error(sErr) {
			message = strings.TrimSuffix(err.Error(), sErr.Error()) + sErr.Message
		}
		errorObj := map[string]any{
			"code":    sErr.Code,
			"message": message,
			"status":  sErr.Status,
		}
		// Details of internal errors can hold file paths or SQL.
		if sErr.Code != errors.ErrInternal && sErr.Details != nil {
			errorObj["details"] = sErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
