package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"realtime_server/config"
	"realtime_server/internal/bootstrap"
	"realtime_server/pkg/logger"

	"github.com/joho/godotenv"
)

const (
	shutdownTimeout = 30 * time.Second // Maximum time to wait for graceful shutdown
)

func main() {
	// Load .env file if exists (for local development)
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.Init(logger.Config{Level: "info", Service: "realtime"})
		logger.Fatal("Failed to load config: %v", err)
	}

	logger.Init(logger.Config{
		Level:   cfg.LogLevel,
		Service: "realtime",
		Pretty:  cfg.IsDevelopment(),
	})
	if envErr != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	server, cleanup, err := bootstrap.NewServer(ctx, cfg, logger.Default())
	cancel()
	if err != nil {
		logger.Fatal("Failed to initialize server: %v", err)
	}
	defer cleanup()

	// Graceful shutdown with timeout
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down realtime server (timeout: %v)...", shutdownTimeout)

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down: %v", err)
		} else {
			logger.Info("Realtime server shut down gracefully")
		}
	}()

	if err := server.Start(); err != nil {
		logger.Error("Server stopped: %v", err)
		cleanup()
		os.Exit(1)
	}
	<-stopped
}
