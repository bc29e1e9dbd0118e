// Package main provides the API router setup.
package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/spherical-ai/docscan/cmd/docscan-api/handlers"
	"github.com/spherical-ai/docscan/cmd/docscan-api/middleware"
	"github.com/spherical-ai/docscan/internal/app"
	"github.com/spherical-ai/docscan/internal/config"
	"github.com/spherical-ai/docscan/internal/observability"
)

// NewRouter creates the main API router with all routes configured.
func NewRouter(logger *observability.Logger, svc *app.App, cfg *AppConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	if cfg.RequestTimeout > 0 {
		r.Use(chimiddleware.Timeout(cfg.RequestTimeout))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"docscan"}`))
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := svc.DB.PingContext(ctx); err != nil {
			logger.Warn().Err(err).Msg("Readiness check failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.Write([]byte(`{"status":"ready"}`))
	})

	documentHandler := handlers.NewDocumentHandler(logger, svc.Pipeline, svc.Documents, svc.Files, svc.DocumentCache, cfg.MaxUploadBytes)
	folderHandler := handlers.NewFolderHandler(logger, svc.Folders, svc.DocumentCache)
	statsHandler := handlers.NewStatsHandler(logger, svc.Documents)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.User())

		r.Route("/documents", func(r chi.Router) {
			r.Get("/", documentHandler.List)
			r.Post("/", documentHandler.Upload)
			r.Post("/capture", documentHandler.Capture)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", documentHandler.Get)
				r.Patch("/", documentHandler.Update)
				r.Delete("/", documentHandler.Delete)
				r.Get("/status", documentHandler.Status)
				r.Put("/content", documentHandler.UpdateContent)
				r.Post("/move", documentHandler.Move)
				r.Post("/rerun", documentHandler.Rerun)
				r.Get("/file", documentHandler.File)
				r.Get("/thumbnail", documentHandler.Thumbnail)
			})
		})

		r.Route("/folders", func(r chi.Router) {
			r.Get("/", folderHandler.List)
			r.Post("/", folderHandler.Create)
			r.Patch("/{id}", folderHandler.Update)
			r.Delete("/{id}", folderHandler.Delete)
		})

		r.Get("/stats", statsHandler.Get)
	})

	return r
}

// AppConfig holds HTTP layer settings.
type AppConfig struct {
	RequestTimeout time.Duration
	MaxUploadBytes int64
	AllowedOrigins []string
}

// AppConfigFrom derives HTTP settings from the loaded configuration.
func AppConfigFrom(cfg *config.Config) *AppConfig {
	return &AppConfig{
		RequestTimeout: cfg.Server.RequestTimeout,
		MaxUploadBytes: cfg.Storage.MaxUploadBytes,
		AllowedOrigins: []string{"*"},
	}
}
