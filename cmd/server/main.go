package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/iammorganparry/agentmem/internal/api"
	"github.com/iammorganparry/agentmem/internal/config"
	"github.com/iammorganparry/agentmem/internal/logging"
	"github.com/iammorganparry/agentmem/internal/memory"
)

func main() {
	_ = godotenv.Load()

	// Config
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Logger
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	logging.SetDefault(logger)

	// Memory manager: backend selection happens before any store is opened
	mgr, err := memory.NewFromConfig(logging.With(context.Background(), logger), cfg, logger)
	if err != nil {
		logger.Error("failed to open memory manager", "error", err)
		os.Exit(1)
	}
	defer mgr.Close()

	// Router
	router := api.NewRouter(mgr, cfg.APIKey, logger)

	// Server
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("memory server starting",
			"addr", addr,
			"backend", mgr.Backend(),
			"embedder", mgr.Embedder(),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("server stopped")
}
