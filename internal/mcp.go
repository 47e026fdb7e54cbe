package internal

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/starford/wedecode/internal/mcpserver"
)

// ServeMCP runs the MCP server on stdin/stdout until the client disconnects.
// Logs go to stderr since stdout carries the protocol.
func ServeMCP(_ context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	if app.logger == nil {
		app.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: cfg.App.LogLevel,
		}))
	}
	if cfg.SQLite.Path == "" {
		return fmt.Errorf("sqlite path is required in mcp mode")
	}
	for _, dir := range []string{cfg.Decompile.OutputRoot, cfg.Watch.UploadDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dir %s: %w", dir, err)
		}
	}

	db, err := app.openCatalog()
	if err != nil {
		return err
	}
	defer db.Close()

	srv := mcpserver.New(app.newService(db, nil), cfg.Watch.UploadDir)
	app.logger.Info("mcp: serving on stdio", slog.String("sqlite_path", cfg.SQLite.Path))
	return srv.ServeStdio()
}
