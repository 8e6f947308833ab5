package mcp

import "github.com/mark3labs/mcp-go/mcp"

var listToolDef = mcp.NewTool("capture_list",
	mcp.WithDescription("List stored captures, newest first."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("type", mcp.Description("Only captures of this type"), mcp.Enum("video", "image")),
	mcp.WithBoolean("uploaded", mcp.Description("Only uploaded (true) or not yet uploaded (false) captures")),
	mcp.WithNumber("limit", mcp.Description("Page size (default 20, max 100)")),
	mcp.WithNumber("offset", mcp.Description("Items to skip")),
)

var recentToolDef = mcp.NewTool("capture_recent",
	mcp.WithDescription("Return the most recent captures."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithNumber("limit", mcp.Description("How many (default 5, max 100)")),
)

var onDateToolDef = mcp.NewTool("capture_on_date",
	mcp.WithDescription("Return the captures created on one calendar day in local time."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("date", mcp.Required(), mcp.Description("Day as YYYY-MM-DD")),
)

var countToolDef = mcp.NewTool("capture_count",
	mcp.WithDescription("Count the locally stored captures."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var fetchToolDef = mcp.NewTool("capture_fetch",
	mcp.WithDescription("Fetch one capture by token, with file locations and optionally its GPS track."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("token", mcp.Required(), mcp.Description("Capture token")),
	mcp.WithBoolean("include_track", mcp.Description("Include every track sample")),
)

var renameToolDef = mcp.NewTool("capture_rename",
	mcp.WithDescription("Set the title of a capture."),
	mcp.WithString("token", mcp.Required(), mcp.Description("Capture token")),
	mcp.WithString("title", mcp.Required(), mcp.Description("New title")),
)

var deleteToolDef = mcp.NewTool("capture_delete",
	mcp.WithDescription("Delete a capture's files. Deleting an unknown token succeeds with deleted=false."),
	mcp.WithDestructiveHintAnnotation(true),
	mcp.WithString("token", mcp.Required(), mcp.Description("Capture token")),
	mcp.WithBoolean("purge_history", mcp.Description("Also remove its upload history")),
)

var uploadToolDef = mcp.NewTool("capture_upload",
	mcp.WithDescription("Upload a capture to the configured server and wait for the result."),
	mcp.WithString("token", mcp.Required(), mcp.Description("Capture token")),
	mcp.WithString("url", mcp.Description("Override upload_url")),
)

var exportToolDef = mcp.NewTool("capture_export",
	mcp.WithDescription("Write a capture bundle (.strabo) to the export directory."),
	mcp.WithString("token", mcp.Required(), mcp.Description("Capture token")),
	mcp.WithString("path", mcp.Description("Destination; default <export_dir>/<token>.strabo")),
)

var importToolDef = mcp.NewTool("capture_import",
	mcp.WithDescription("Restore a capture bundle under its original token."),
	mcp.WithString("path", mcp.Required(), mcp.Description("Bundle path")),
)

var pruneToolDef = mcp.NewTool("capture_prune",
	mcp.WithDescription("Remove leftover temp files and orphaned capture files."),
	mcp.WithDestructiveHintAnnotation(true),
	mcp.WithString("older_than", mcp.Description("Minimum age as a duration, e.g. 48h (default 24h)")),
)

var historyToolDef = mcp.NewTool("capture_history",
	mcp.WithDescription("List recorded upload attempts, newest first."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("token", mcp.Description("Only this capture")),
	mcp.WithString("outcome", mcp.Description("Only this outcome"),
		mcp.Enum("completed", "failed", "failed_to_start", "cancelled")),
	mcp.WithNumber("limit", mcp.Description("Page size (default 20, max 200)")),
	mcp.WithNumber("offset", mcp.Description("Items to skip")),
)
