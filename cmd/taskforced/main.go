package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/taskforce-io/taskforce/internal/api"
	"github.com/taskforce-io/taskforce/internal/config"
	"github.com/taskforce-io/taskforce/internal/logring"
	"github.com/taskforce-io/taskforce/internal/store"
)

func main() {
	verbose := flag.Bool("v", false, "Verbose logging")
	port := flag.Int("port", 0, "Override API port")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	ring := logring.New(2000)
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(logring.NewHandler(jsonHandler, ring))

	cfg, err := config.FromEnv()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.API.Port = *port
	}

	st, err := store.Open(cfg, logger.With("component", "store"))
	if err != nil {
		logger.Error("failed to open ticket store", "backend", cfg.Backend(), "error", err)
		os.Exit(1)
	}

	logger.Info("taskforced starting", "backend", cfg.Backend())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := api.NewServer(st, api.Config{
		Host: cfg.API.Host,
		Port: cfg.API.Port,
		Key:  cfg.API.Key,
	}, logger.With("component", "api"), ring)

	go safeGo(logger, "api-server", func() { srv.Start(ctx) })
	logger.Info("api server started", "port", cfg.API.Port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()
	logger.Info("taskforced stopped")
}

// safeGo runs fn with panic recovery.
func safeGo(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("goroutine panicked", "name", name, "panic", fmt.Sprintf("%v", r))
		}
	}()
	fn()
}
