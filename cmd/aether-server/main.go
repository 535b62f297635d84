// Package main provides the entry point for the Aether KV server. It
// initializes the logger, loads configuration, constructs the selected
// storage engine, and serves the TCP protocol until interrupted.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/aether-kv/aether-kv/internal/config"
	"github.com/aether-kv/aether-kv/internal/engine"
	"github.com/aether-kv/aether-kv/internal/server"
)

func main() {
	slogHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	logger := slog.New(slogHandler)
	slog.SetDefault(logger)

	slog.Info("main: loading configuration")
	cfg, err := config.LoadConfig("config.yml")
	if err != nil {
		slog.Error("main: failed to load configuration", "error", err)
		log.Fatalf("failed to load config: %v", err)
	}

	addr := pflag.String("addr", cfg.Addr, "TCP address to listen on")
	engineName := pflag.String("engine", cfg.Engine, "storage engine to use: builtin or alt")
	dataDir := pflag.String("data-dir", cfg.DataDir, "directory holding generation log/data file pairs (builtin engine only)")
	pflag.Parse()

	cfg.Addr = *addr
	cfg.Engine = *engineName
	cfg.DataDir = *dataDir

	slog.Info("main: configuration loaded",
		"addr", cfg.Addr,
		"engine", cfg.Engine,
		"data_dir", cfg.DataDir,
		"entry_size", cfg.EntrySize,
		"compact_threshold", cfg.CompactThreshold,
	)

	eng, err := newEngine(cfg)
	if err != nil {
		slog.Error("main: failed to initialize engine", "error", err)
		log.Fatalf("failed to create engine: %v", err)
	}
	defer func() {
		if err := eng.Close(); err != nil {
			slog.Error("main: error closing engine", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg.Addr, eng)
	slog.Info("main: aether-server starting", "addr", cfg.Addr, "engine", cfg.Engine)
	if err := srv.ListenAndServe(ctx); err != nil {
		slog.Error("main: server error", "error", err)
		log.Fatalf("server error: %v", err)
	}
	slog.Info("main: aether-server stopped")
}

func newEngine(cfg *config.Config) (engine.Engine, error) {
	switch cfg.Engine {
	case "alt":
		return engine.NewAltEngine(), nil
	case "builtin", "":
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, err
		}
		return engine.Open(cfg.DataDir, cfg)
	default:
		log.Fatalf("unknown engine %q, want \"builtin\" or \"alt\"", cfg.Engine)
		return nil, nil
	}
}
