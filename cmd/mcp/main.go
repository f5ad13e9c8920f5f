package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/iammorganparry/agentmem/internal/config"
	"github.com/iammorganparry/agentmem/internal/logging"
	"github.com/iammorganparry/agentmem/internal/mcp"
	"github.com/iammorganparry/agentmem/internal/memory"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// stdout carries the protocol, so logs go to stderr.
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr, err := memory.NewFromConfig(logging.With(ctx, logger), cfg, logger)
	if err != nil {
		logger.Error("failed to open memory manager", "error", err)
		os.Exit(1)
	}
	defer mgr.Close()

	logger.Info("mcp server starting", "backend", mgr.Backend(), "embedder", mgr.Embedder())
	if err := mcp.Run(ctx, mcp.NewServer(mgr, version, logger)); err != nil {
		logger.Error("mcp server error", "error", err)
		mgr.Close()
		os.Exit(1)
	}
}
