// taskforce-mcp bridges MCP-speaking agents to a running taskforced.
// It reads JSON-RPC from stdin and writes responses to stdout; logs go
// to stderr so they never corrupt the protocol stream.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/taskforce-io/taskforce/internal/mcp"
)

func main() {
	baseURL := flag.String("url", envOr("TASKFORCE_URL", "http://localhost:8080"), "TaskForce API base URL")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	logLevel := slog.LevelWarn
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := mcp.NewClient(*baseURL, os.Getenv("TASKFORCE_API_KEY"))
	srv := mcp.NewServer(client, logger)

	logger.Info("taskforce mcp server running", "url", *baseURL)
	if err := srv.Run(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		logger.Error("mcp server exited", "error", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
