package main

import (
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/strabo/internal/config"
	"github.com/hpungsan/strabo/internal/errors"
	"github.com/hpungsan/strabo/internal/ingest"
	"github.com/hpungsan/strabo/internal/logging"
	"github.com/hpungsan/strabo/internal/ops"
	"github.com/hpungsan/strabo/internal/store"
)

// env holds what the commands operate on.
type env struct {
	store  *store.Store
	db     *sql.DB
	cfg    *config.Config
	log    logging.Logger
	tokens store.TokenSource
}

// newCLIApp creates the CLI application with all commands.
func newCLIApp(e *env) *cli.App {
	app := &cli.App{
		Name:    "strabo",
		Usage:   "Geotagged capture store",
		Version: Version,
		Commands: []*cli.Command{
			organizeCmd(e),
			importImageCmd(e),
			listCmd(e),
			recentCmd(e),
			onCmd(e),
			countCmd(e),
			fetchCmd(e),
			renameCmd(e),
			deleteCmd(e),
			uploadCmd(e),
			historyCmd(e),
			exportCmd(e),
			importCmd(e),
			pruneCmd(e),
			serveCmd(e),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func locationFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Float64Flag{Name: "lat", Usage: "Latitude in degrees"},
		&cli.Float64Flag{Name: "lon", Usage: "Longitude in degrees"},
		&cli.Float64Flag{Name: "heading", Usage: "Heading in degrees"},
		&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Usage: "Capture title"},
		&cli.StringFlag{Name: "date", Usage: "Creation time (RFC 3339)"},
	}
}

// organizeCmd creates the organize command.
func organizeCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "organize",
		Usage: "Move a finished recording into the store",
		Flags: append([]cli.Flag{
			&cli.StringFlag{Name: "media", Aliases: []string{"m"}, Required: true, Usage: "Recorded media file (moved)"},
			&cli.StringFlag{Name: "thumbnail", Required: true, Usage: "Thumbnail JPEG (moved)"},
			&cli.StringFlag{Name: "type", Value: "video", Usage: "Capture type: video|image"},
			&cli.StringFlag{Name: "track", Usage: "Track file (.geo or JSON samples)"},
		}, locationFlags()...),
		Action: func(c *cli.Context) error {
			output, err := ops.Organize(c.Context, e.store, ops.OrganizeInput{
				MediaPath:     c.String("media"),
				ThumbnailPath: c.String("thumbnail"),
				Type:          c.String("type"),
				TrackPath:     c.String("track"),
				Latitude:      floatFlag(c, "lat"),
				Longitude:     floatFlag(c, "lon"),
				Heading:       floatFlag(c, "heading"),
				Title:         c.String("title"),
				Date:          c.String("date"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, output)
		},
	}
}

// importImageCmd creates the import-image command.
func importImageCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "import-image",
		Usage:     "Copy an existing JPEG into the store as an image capture",
		ArgsUsage: "<image>",
		Flags: append([]cli.Flag{
			&cli.StringFlag{Name: "thumbnail", Usage: "Thumbnail JPEG (defaults to the image)"},
		}, locationFlags()...),
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return outputError(errors.NewInvalidRequest("exactly one image path is required"))
			}
			output, err := ops.ImportImage(c.Context, e.store, ops.ImportImageInput{
				ImagePath:     c.Args().First(),
				ThumbnailPath: c.String("thumbnail"),
				Latitude:      floatFlag(c, "lat"),
				Longitude:     floatFlag(c, "lon"),
				Heading:       floatFlag(c, "heading"),
				Title:         c.String("title"),
				Date:          c.String("date"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, output)
		},
	}
}

// listCmd creates the list command.
func listCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List captures, newest first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "type", Usage: "Filter by type: video|image"},
			&cli.BoolFlag{Name: "uploaded", Usage: "Filter by upload state (--uploaded or --uploaded=false)"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Max results"},
			&cli.IntFlag{Name: "offset", Usage: "Pagination offset"},
		},
		Action: func(c *cli.Context) error {
			input := ops.ListInput{
				Type:   c.String("type"),
				Limit:  c.Int("limit"),
				Offset: c.Int("offset"),
			}
			if c.IsSet("uploaded") {
				uploaded := c.Bool("uploaded")
				input.Uploaded = &uploaded
			}
			output, err := ops.List(c.Context, e.store, input)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, output)
		},
	}
}

// recentCmd creates the recent command.
func recentCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "recent",
		Usage: "Show the most recent captures",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultRecentLimit, Usage: "Max results"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Recent(c.Context, e.store, ops.RecentInput{Limit: c.Int("limit")})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, output)
		},
	}
}

// onCmd creates the on command.
func onCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "on",
		Usage:     "List captures taken on a local calendar day",
		ArgsUsage: "<YYYY-MM-DD>",
		Action: func(c *cli.Context) error {
			output, err := ops.OnDate(c.Context, e.store, ops.OnDateInput{Date: c.Args().First()})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, output)
		},
	}
}

// countCmd creates the count command.
func countCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "count",
		Usage: "Count stored captures",
		Action: func(c *cli.Context) error {
			return outputJSON(c, ops.Count(c.Context, e.store))
		},
	}
}

// fetchCmd creates the fetch command.
func fetchCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "fetch",
		Usage:     "Show a capture and the locations of its files",
		ArgsUsage: "<token>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "track", Usage: "Include the decoded track"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Fetch(c.Context, e.store, ops.FetchInput{
				Token:        c.Args().First(),
				IncludeTrack: c.Bool("track"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, output)
		},
	}
}

// renameCmd creates the rename command.
func renameCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "rename",
		Usage:     "Change a capture's title",
		ArgsUsage: "<token> <title>",
		Action: func(c *cli.Context) error {
			output, err := ops.Rename(c.Context, e.store, ops.RenameInput{
				Token: c.Args().Get(0),
				Title: c.Args().Get(1),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, output)
		},
	}
}

// deleteCmd creates the delete command.
func deleteCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete a capture's files",
		ArgsUsage: "<token>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "purge-history", Usage: "Also remove its upload history"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Delete(c.Context, e.store, e.db, ops.DeleteInput{
				Token:        c.Args().First(),
				PurgeHistory: c.Bool("purge-history"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, output)
		},
	}
}

// uploadCmd creates the upload command. Progress goes to stderr; an
// interrupt cancels the upload.
func uploadCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "upload",
		Usage:     "Upload a capture to the configured server",
		ArgsUsage: "<token>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Usage: "Upload endpoint (defaults to upload_url)"},
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "Do not report progress"},
		},
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			input := ops.UploadInput{
				Token:  c.Args().First(),
				URL:    c.String("url"),
				Logger: e.log,
			}
			if !c.Bool("quiet") {
				w := c.App.ErrWriter
				input.OnProgress = func(f float64) {
					fmt.Fprintf(w, "\ruploading %3.0f%%", f*100)
					if f >= 1 {
						fmt.Fprintln(w)
					}
				}
			}

			output, err := ops.Upload(ctx, e.store, e.db, e.cfg, input)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, output)
		},
	}
}

// historyCmd creates the history command.
func historyCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "Show finished upload attempts, newest first",
		ArgsUsage: "[token]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "outcome", Usage: "Filter: completed|failed|failed_to_start|cancelled"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultHistoryLimit, Usage: "Max results"},
			&cli.IntFlag{Name: "offset", Usage: "Pagination offset"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.History(c.Context, e.db, ops.HistoryInput{
				Token:   c.Args().First(),
				Outcome: c.String("outcome"),
				Limit:   c.Int("limit"),
				Offset:  c.Int("offset"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, output)
		},
	}
}

// exportCmd creates the export command.
func exportCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Write a capture to a " + ops.BundleExt + " bundle",
		ArgsUsage: "<token>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Bundle path (defaults to the export dir)"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Export(c.Context, e.store, e.cfg, ops.ExportInput{
				Token: c.Args().First(),
				Path:  c.String("path"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, output)
		},
	}
}

// importCmd creates the import command.
func importCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Restore a capture from a " + ops.BundleExt + " bundle",
		ArgsUsage: "<path>",
		Action: func(c *cli.Context) error {
			output, err := ops.Import(c.Context, e.store, e.cfg, ops.ImportInput{Path: c.Args().First()})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, output)
		},
	}
}

// pruneCmd creates the prune command.
func pruneCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "prune",
		Usage: "Remove stale temp files and orphaned capture files",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "older-than", Value: ops.DefaultPruneAge.String(), Usage: "Minimum age, e.g. 48h"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Prune(c.Context, e.store, ops.PruneInput{OlderThan: c.String("older-than")})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, output)
		},
	}
}

// serveCmd creates the serve command. Received captures go to their own
// store under ingest_store_dir.
func serveCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the ingest server that receives capture uploads",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Usage: "Listen address (defaults to ingest_bind)"},
			&cli.IntFlag{Name: "port", Usage: "Listen port (defaults to ingest_port)"},
		},
		Action: func(c *cli.Context) error {
			cfg := *e.cfg
			if c.IsSet("bind") {
				cfg.IngestBind = c.String("bind")
			}
			if c.IsSet("port") {
				cfg.IngestPort = c.Int("port")
			}

			received, err := store.New(cfg.IngestStoreDir, e.tokens, e.log, store.WithDefaultTitle(cfg.DefaultTitle))
			if err != nil {
				return outputError(err)
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := ingest.NewServer(received, &cfg, e.log, Version)
			if err := ingest.Run(ctx, srv, nil, e.log); err != nil {
				return outputError(errors.NewInternal(err))
			}
			return nil
		},
	}
}

// Helper functions

// outputJSON writes result to the app's writer as indented JSON.
func outputJSON(c *cli.Context, v any) error {
	var w io.Writer = os.Stdout
	if c.App.Writer != nil {
		w = c.App.Writer
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	var sErr *errors.StraboError
	if stderrors.As(err, &sErr) {
		return cli.Exit(fmt.Sprintf("[%s] %s", sErr.Code, sErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// floatFlag returns the flag's value, or nil when it was not given.
func floatFlag(c *cli.Context, name string) *float64 {
	if !c.IsSet(name) {
		return nil
	}
	v := c.Float64(name)
	return &v
}
