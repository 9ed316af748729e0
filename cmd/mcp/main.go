// Command mcp serves the ask and search tools over MCP stdio.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kirillkom/localrag/internal/adapters/mcpserver"
	"github.com/kirillkom/localrag/internal/bootstrap"
	"github.com/kirillkom/localrag/internal/config"
	"github.com/kirillkom/localrag/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	// stdout is reserved for the protocol.
	logger := logging.New(os.Stderr, "mcp", cfg.LogLevel, "json")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{InlineProcessing: true})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	srv := mcpserver.New(app.AnswerUC, app.AnswerUC)
	logger.Info("mcp_ready", "name", mcpserver.ServerName, "version", mcpserver.ServerVersion)
	if err := srv.Serve(ctx, os.Stdin, os.Stdout, slog.NewLogLogger(logger.Handler(), slog.LevelError)); err != nil {
		logger.Error("mcp_server_failed", "error", err)
		return
	}
	logger.Info("mcp_stopped")
}
