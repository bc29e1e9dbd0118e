// Package main provides the docscan API server entrypoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spherical-ai/docscan/internal/app"
	"github.com/spherical-ai/docscan/internal/config"
	"github.com/spherical-ai/docscan/internal/observability"
)

// staleAfter is how long a document may sit in processing before startup
// recovery treats it as abandoned by a previous process.
const staleAfter = time.Minute

func main() {
	cfgPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})

	logger.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("database", cfg.Database.Driver).
		Str("extraction_mode", cfg.Extraction.Mode).
		Msg("Starting docscan API")

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	svc, err := app.New(startCtx, cfg, logger)
	if err != nil {
		cancelStart()
		logger.Fatal().Err(err).Msg("Failed to initialize services")
	}

	if _, err := svc.Pipeline.RecoverStale(startCtx, staleAfter); err != nil {
		logger.Error().Err(err).Msg("Failed to recover stale documents")
	}
	cancelStart()

	router := NewRouter(logger, svc, AppConfigFrom(cfg))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("HTTP server listening")
		serverErrors <- srv.ListenAndServe()
	}()

	// Wait for interrupt or error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error().Err(err).Msg("Server error")
	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Graceful shutdown failed")
		if err := srv.Close(); err != nil {
			logger.Error().Err(err).Msg("Forced shutdown failed")
		}
	}

	// Queued extractions finish before the database closes.
	if err := svc.Close(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to release services")
	}

	logger.Info().Msg("Server stopped")
}
