package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/term"

	"github.com/hpungsan/strabo/internal/config"
	"github.com/hpungsan/strabo/internal/db"
	"github.com/hpungsan/strabo/internal/logging"
	"github.com/hpungsan/strabo/internal/mcp"
	"github.com/hpungsan/strabo/internal/store"
	"github.com/hpungsan/strabo/internal/token"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"organize": true, "import-image": true,
	"list": true, "recent": true, "on": true, "count": true,
	"fetch": true, "rename": true, "delete": true,
	"upload": true, "history": true,
	"export": true, "import": true, "prune": true,
	"serve": true, "help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v"
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

func printBanner() {
	fmt.Println(`
       _             _
   ___| |_ _ __ __ _| |__   ___
  / __| __| '__/ _' | '_ \ / _ \
  \__ \ |_| | | (_| | |_) | (_) |
  |___/\__|_|  \__,_|_.__/ \___/

  Geotagged capture store

  Usage: strabo <command> [options]
         strabo --help

  MCP server mode requires piped input.`)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

// openEnv loads configuration and opens the journal database and the
// capture store under baseDir.
func openEnv(ctx context.Context, baseDir string) (*env, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("could not determine working directory: %w", err)
	}
	cfg, err := config.LoadWithRepo(baseDir, cwd)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ResolvePaths(baseDir)

	log := logging.New(os.Stderr, cfg.AdvancedLogging)
	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		log.Warn(ctx, "ignoring unknown disabled_tools", "tools", unknown)
	}
	if unknown := mcp.ValidateDisabledTypes(cfg.DisabledTypes); len(unknown) > 0 {
		log.Warn(ctx, "ignoring unknown disabled_types", "types", unknown)
	}

	database, err := db.Init(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	db.ConfigurePool(database, cfg)

	installID, err := db.InstallID(ctx, database)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to read install id: %w", err)
	}
	tokens := token.New(installID)

	st, err := store.New(cfg.StoreDir, tokens, log, store.WithDefaultTitle(cfg.DefaultTitle))
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to open capture store: %w", err)
	}

	return &env{store: st, db: database, cfg: cfg, log: log, tokens: tokens}, nil
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Help and version need no store
	if isHelpOrVersion() {
		app := newCLIApp(nil)
		if err := app.Run(os.Args); err != nil {
			fatal("%v", err)
		}
		return
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fatal("could not determine home directory: %v", err)
	}
	baseDir := filepath.Join(homeDir, ".strabo")

	e, err := openEnv(context.Background(), baseDir)
	if err != nil {
		fatal("%v", err)
	}
	defer e.db.Close()

	if isCLIMode() {
		app := newCLIApp(e)
		if err := app.Run(os.Args); err != nil {
			e.db.Close()
			fatal("%v", err)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		e.db.Close()
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'strabo --help' for usage.\n")
		os.Exit(1)
	}

	if err := mcp.Run(e.store, e.db, e.cfg, e.log, Version); err != nil {
		e.db.Close()
		fatal("%v", err)
	}
}
