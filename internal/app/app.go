// Package app wires docscan's storage, cache, extraction and ingestion
// components from a loaded configuration.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/spherical-ai/docscan/internal/cache"
	"github.com/spherical-ai/docscan/internal/config"
	"github.com/spherical-ai/docscan/internal/extract"
	"github.com/spherical-ai/docscan/internal/filestore"
	"github.com/spherical-ai/docscan/internal/imaging"
	"github.com/spherical-ai/docscan/internal/ingest"
	"github.com/spherical-ai/docscan/internal/observability"
	"github.com/spherical-ai/docscan/internal/ocr"
	"github.com/spherical-ai/docscan/internal/pdf"
	"github.com/spherical-ai/docscan/internal/storage"
)

// App holds the long-lived services of one docscan process.
type App struct {
	Config *config.Config
	Logger *observability.Logger

	DB        *sql.DB
	Documents *storage.DocumentRepository
	Folders   *storage.FolderRepository
	Files     *filestore.Store

	CacheClient   cache.Client
	DocumentCache *cache.DocumentCache

	Engine   *ocr.TesseractEngine
	Pipeline *ingest.Pipeline
}

// New opens the database, applies pending migrations and builds the
// ingestion pipeline. The caller must Close the returned App.
func New(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*App, error) {
	db, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := storage.Migrate(ctx, db, cfg.Database.Driver); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	files, err := filestore.New(cfg.Storage.UploadRoot)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open upload root: %w", err)
	}

	client, err := cache.New(cfg.Cache)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache: %w", err)
	}
	docCache := cache.NewDocumentCache(client, cfg.Cache.TTL, logger)

	notifiers := ingest.Notifiers{docCache}
	if publisher, ok := client.(cache.Publisher); ok {
		notifiers = append(notifiers, cache.NewStatusPublisher(publisher, cfg.Cache.StatusChannel, logger))
	}

	opener := pdf.NewFitzOpener()
	engine := ocr.NewTesseractEngine(cfg.Extraction.Languages, logger)
	extractor := extract.NewExtractor(opener, engine, cfg.Extraction.PDFDPI, logger)

	documents := storage.NewDocumentRepository(db)
	folders := storage.NewFolderRepository(db)

	pipeline := ingest.NewPipeline(ingest.Dependencies{
		Documents:   documents,
		Folders:     folders,
		Files:       files,
		Thumbnailer: imaging.NewThumbnailer(cfg.Thumbnail.Width, cfg.Thumbnail.Height, cfg.Thumbnail.JPEGQuality),
		PDFs:        opener,
		Extractor:   extractor,
		Notifier:    notifiers,
		Logger:      logger,
	}, ingest.PipelineConfigFrom(cfg))

	logger.Info().
		Str("database", cfg.Database.Driver).
		Str("cache", cfg.Cache.Driver).
		Str("mode", string(pipeline.Mode())).
		Str("upload_root", files.Root()).
		Msg("Services initialized")

	return &App{
		Config:        cfg,
		Logger:        logger,
		DB:            db,
		Documents:     documents,
		Folders:       folders,
		Files:         files,
		CacheClient:   client,
		DocumentCache: docCache,
		Engine:        engine,
		Pipeline:      pipeline,
	}, nil
}

// Close drains in-flight extractions, then releases the OCR engine, cache
// and database. Every step runs even when an earlier one fails.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.Pipeline.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.Engine.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close ocr engine: %w", err))
	}
	if err := a.CacheClient.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close cache: %w", err))
	}
	if err := a.DB.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}
	return errors.Join(errs...)
}
