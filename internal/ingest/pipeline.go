// Package ingest accepts uploads and camera captures, persists them, and
// drives their text extraction through the document status machine.
package ingest

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spherical-ai/docscan/internal/config"
	"github.com/spherical-ai/docscan/internal/extract"
	"github.com/spherical-ai/docscan/internal/filestore"
	"github.com/spherical-ai/docscan/internal/imaging"
	"github.com/spherical-ai/docscan/internal/observability"
	"github.com/spherical-ai/docscan/internal/pdf"
	"github.com/spherical-ai/docscan/internal/storage"
)

var (
	// ErrValidation is returned when an upload is rejected. Nothing is stored.
	ErrValidation = errors.New("invalid upload")
	// ErrAlreadyProcessing is returned when extraction is requested for a
	// document that is already processing.
	ErrAlreadyProcessing = errors.New("document is already being processed")
	// ErrQueueFull is returned when the async extraction queue has no room.
	ErrQueueFull = errors.New("extraction queue is full")
	// ErrPoolClosed is returned when submitting to a pool that is shutting down.
	ErrPoolClosed = errors.New("extraction worker pool is closed")
)

// Failure messages recorded in ocr_error by the pipeline itself.
const (
	MissingFileMessage = "original file is missing"
	InterruptedMessage = "extraction interrupted before completion"
	CanceledMessage    = "extraction canceled"
)

// DefaultCaptureTitle names camera captures submitted without a title.
const DefaultCaptureTitle = "Camera scan"

// Mode selects where extraction runs.
type Mode string

const (
	// ModeSync runs extraction in the calling goroutine.
	ModeSync Mode = "sync"
	// ModeAsync hands extraction to a bounded worker pool.
	ModeAsync Mode = "async"
)

// Extractor produces text for a stored file.
type Extractor interface {
	Extract(ctx context.Context, path, ext string) (*extract.Result, error)
}

// PipelineConfig configures the ingestion pipeline.
type PipelineConfig struct {
	AllowedExtensions []string
	MaxUploadBytes    int64
	PDFZoom           float64
	CaptureQuality    int
	Mode              Mode
	Workers           int
	QueueSize         int
	JobTimeout        time.Duration
}

// DefaultPipelineConfig returns the configuration used when none is given.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfigFrom(config.DefaultConfig())
}

// PipelineConfigFrom derives pipeline settings from the application config.
func PipelineConfigFrom(cfg *config.Config) PipelineConfig {
	return PipelineConfig{
		AllowedExtensions: cfg.Storage.AllowedExtensions,
		MaxUploadBytes:    cfg.Storage.MaxUploadBytes,
		PDFZoom:           cfg.Thumbnail.PDFZoom,
		CaptureQuality:    cfg.Thumbnail.JPEGQuality,
		Mode:              Mode(cfg.Extraction.Mode),
		Workers:           cfg.Extraction.Workers,
		QueueSize:         cfg.Extraction.QueueSize,
		JobTimeout:        cfg.Extraction.JobTimeout,
	}
}

// Dependencies groups the collaborators of a Pipeline. Folders and Notifier
// are optional.
type Dependencies struct {
	Documents   *storage.DocumentRepository
	Folders     *storage.FolderRepository
	Files       *filestore.Store
	Thumbnailer *imaging.Thumbnailer
	PDFs        pdf.Opener
	Extractor   Extractor
	Notifier    Notifier
	Logger      *observability.Logger
}

// Pipeline orchestrates the document ingestion flow.
type Pipeline struct {
	docs      *storage.DocumentRepository
	folders   *storage.FolderRepository
	files     *filestore.Store
	thumbs    *imaging.Thumbnailer
	pdfs      pdf.Opener
	extractor Extractor
	notifier  Notifier
	logger    *observability.Logger
	config    PipelineConfig
	allowed   map[string]bool
	pool      *WorkerPool
}

// NewPipeline creates an ingestion pipeline. In async mode the worker pool
// is started immediately; Close drains it.
func NewPipeline(deps Dependencies, cfg PipelineConfig) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = observability.NopLogger()
	}
	if deps.Thumbnailer == nil {
		deps.Thumbnailer = imaging.NewThumbnailer(0, 0, 0)
	}
	if cfg.PDFZoom <= 0 {
		cfg.PDFZoom = 0.5
	}
	if cfg.CaptureQuality <= 0 || cfg.CaptureQuality > 100 {
		cfg.CaptureQuality = 85
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeSync
	}

	allowed := make(map[string]bool, len(cfg.AllowedExtensions))
	for _, ext := range cfg.AllowedExtensions {
		allowed[storage.NormalizeExtension(ext)] = true
	}

	p := &Pipeline{
		docs:      deps.Documents,
		folders:   deps.Folders,
		files:     deps.Files,
		thumbs:    deps.Thumbnailer,
		pdfs:      deps.PDFs,
		extractor: deps.Extractor,
		notifier:  deps.Notifier,
		logger:    deps.Logger.WithOperation("ingest"),
		config:    cfg,
		allowed:   allowed,
	}
	if cfg.Mode == ModeAsync {
		p.pool = NewWorkerPool(cfg.Workers, cfg.QueueSize, p.runJob, p.logger)
		p.pool.Start()
	}
	return p
}

// Mode reports the configured execution mode.
func (p *Pipeline) Mode() Mode { return p.config.Mode }

// Close drains the worker pool, if any.
func (p *Pipeline) Close(ctx context.Context) error {
	if p.pool == nil {
		return nil
	}
	return p.pool.Shutdown(ctx)
}

// UploadRequest is one file submitted for ingestion.
type UploadRequest struct {
	UserID      uuid.UUID
	Filename    string
	Body        io.Reader
	Title       string
	Description string
	FolderID    *uuid.UUID
	// SkipOCR leaves the document pending instead of extracting its text.
	SkipOCR bool
}

// Accept validates and stores an upload, creates its document, and runs or
// schedules extraction. Validation failures wrap ErrValidation and leave no
// trace. Once the file is stored, every failure is recorded on the document
// instead of being returned, except a failure to create the row itself.
func (p *Pipeline) Accept(ctx context.Context, req UploadRequest) (*storage.Document, error) {
	ext, err := p.validate(req)
	if err != nil {
		return nil, err
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(req.Body, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	head = head[:n]
	if n == 0 {
		return nil, validationError("file is empty")
	}
	if !MatchesExtension(head, ext) {
		return nil, validationError(fmt.Sprintf("file content does not match extension %q", ext))
	}

	if req.FolderID != nil && p.folders != nil {
		if _, err := p.folders.GetByID(ctx, req.UserID, *req.FolderID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, storage.ErrFolderNotFound
			}
			return nil, fmt.Errorf("check folder: %w", err)
		}
	}

	body := io.MultiReader(bytes.NewReader(head), req.Body)
	rel, size, err := p.files.SaveOriginal(req.UserID, req.Filename, ext, body, p.config.MaxUploadBytes)
	if errors.Is(err, filestore.ErrTooLarge) {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if err != nil {
		return nil, fmt.Errorf("store original: %w", err)
	}

	name := filepath.Base(strings.TrimSpace(req.Filename))
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = strings.TrimSuffix(name, filepath.Ext(name))
	}
	doc := &storage.Document{
		UserID:           req.UserID,
		FolderID:         req.FolderID,
		Title:            title,
		Description:      req.Description,
		OriginalFilename: name,
		FilePath:         rel,
		FileSize:         size,
		MimeType:         MimeType(ext),
		FileExtension:    ext,
		OCRStatus:        storage.OCRStatusPending,
		PageCount:        1,
	}
	if err := p.docs.Create(ctx, doc); err != nil {
		if rmErr := p.files.Remove(rel); rmErr != nil {
			p.logger.Warn().Err(rmErr).Str("path", rel).Msg("Failed to remove orphaned upload")
		}
		return nil, fmt.Errorf("create document: %w", err)
	}

	log := p.logger.WithContext(ctx).WithDocument(doc.UserID, doc.ID)
	log.Info().
		Str("filename", doc.OriginalFilename).
		Str("extension", ext).
		Int64("size", size).
		Msg("Document accepted")
	p.notify(ctx, doc, "")

	p.prepare(ctx, doc)

	if req.SkipOCR {
		return p.reload(ctx, doc)
	}
	if err := p.dispatch(ctx, doc, storage.OCRStatusPending); err != nil {
		// The row stays pending and can be rerun.
		log.Error().Err(err).Msg("Failed to start extraction")
	}
	return p.reload(ctx, doc)
}

func (p *Pipeline) validate(req UploadRequest) (string, error) {
	if req.Body == nil {
		return "", validationError("no file provided")
	}
	name := strings.TrimSpace(req.Filename)
	if name == "" {
		return "", validationError("filename is empty")
	}
	ext := storage.NormalizeExtension(filepath.Ext(name))
	if ext == "" || !p.allowed[ext] {
		return "", validationError(fmt.Sprintf("file type %q is not allowed", ext))
	}
	return ext, nil
}

func validationError(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

// prepare creates the thumbnail and records the page count. Neither is
// fatal to ingestion.
func (p *Pipeline) prepare(ctx context.Context, doc *storage.Document) {
	log := p.logger.WithDocument(doc.UserID, doc.ID)

	var (
		data []byte
		err  error
	)
	if doc.IsPDF() {
		data, err = p.pdfThumbnail(ctx, doc)
	} else {
		var raw []byte
		raw, err = p.files.ReadFile(doc.FilePath)
		if err == nil {
			data, err = p.thumbs.ThumbnailBytes(raw)
		}
	}
	if err != nil {
		log.Warn().Err(err).Msg("Thumbnail generation failed")
		return
	}

	rel, err := p.files.SaveThumbnail(doc.UserID, doc.ID, data)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to store thumbnail")
		return
	}
	if err := p.docs.SetThumbnail(ctx, doc.ID, rel); err != nil {
		log.Warn().Err(err).Msg("Failed to record thumbnail")
		_ = p.files.Remove(rel)
		return
	}
	doc.ThumbnailPath = &rel
}

func (p *Pipeline) pdfThumbnail(ctx context.Context, doc *storage.Document) ([]byte, error) {
	if p.pdfs == nil {
		return nil, errors.New("no pdf backend configured")
	}
	abs, err := p.files.Abs(doc.FilePath)
	if err != nil {
		return nil, err
	}
	d, err := p.pdfs.Open(abs)
	if err != nil {
		return nil, err
	}
	defer d.Close()

	if pages := d.NumPage(); pages != doc.PageCount {
		if err := p.docs.SetPageCount(ctx, doc.ID, pages); err != nil {
			p.logger.Warn().Err(err).Int("pages", pages).Msg("Failed to record page count")
		} else {
			doc.PageCount = pages
		}
	}

	img, err := pdf.RenderFirstPage(d, p.config.PDFZoom)
	if err != nil {
		return nil, err
	}
	return p.thumbs.Thumbnail(img)
}

// dispatch moves doc into processing from one of the given statuses and runs
// or queues the extraction. A lost race for the transition is reported as
// ErrAlreadyProcessing.
func (p *Pipeline) dispatch(ctx context.Context, doc *storage.Document, from ...storage.OCRStatus) error {
	if err := p.docs.BeginExtraction(ctx, doc.ID, from...); err != nil {
		if errors.Is(err, storage.ErrInvalidTransition) {
			return ErrAlreadyProcessing
		}
		return fmt.Errorf("begin extraction: %w", err)
	}
	doc.OCRStatus = storage.OCRStatusProcessing
	p.notify(ctx, doc, "")

	job := *doc
	if p.pool == nil {
		p.runJob(ctx, &job)
		return nil
	}
	if err := p.pool.Submit(&job); err != nil {
		p.finalize(ctx, doc, extract.Outcome{Status: storage.OCRStatusFailed, Error: err.Error()})
	}
	return nil
}

// runJob extracts text for a processing document and stores the outcome.
// When the job timeout fires first the document is failed and the result of
// the still running extraction is dropped.
func (p *Pipeline) runJob(ctx context.Context, doc *storage.Document) {
	log := p.logger.WithContext(ctx).WithDocument(doc.UserID, doc.ID)

	var (
		jobCtx context.Context
		cancel context.CancelFunc
	)
	if p.config.JobTimeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, p.config.JobTimeout)
	} else {
		jobCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	done := make(chan extract.Outcome, 1)
	go func() { done <- p.extractOutcome(jobCtx, doc) }()

	var out extract.Outcome
	select {
	case out = <-done:
	case <-jobCtx.Done():
		msg := CanceledMessage
		if errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
			msg = fmt.Sprintf("extraction timed out after %s", p.config.JobTimeout)
		}
		log.Warn().Dur("timeout", p.config.JobTimeout).Msg("Extraction abandoned")
		out = extract.Outcome{Status: storage.OCRStatusFailed, Error: msg}
	}
	p.finalize(ctx, doc, out)
}

func (p *Pipeline) extractOutcome(ctx context.Context, doc *storage.Document) extract.Outcome {
	if !p.files.Exists(doc.FilePath) {
		return extract.Outcome{Status: storage.OCRStatusFailed, Error: MissingFileMessage}
	}
	abs, err := p.files.Abs(doc.FilePath)
	if err != nil {
		return extract.Evaluate(nil, err)
	}
	return extract.Evaluate(p.extractor.Extract(ctx, abs, doc.FileExtension))
}

// finalize writes a terminal status. It runs detached from ctx cancellation
// so that an abandoned request still leaves the document terminal.
func (p *Pipeline) finalize(ctx context.Context, doc *storage.Document, out extract.Outcome) {
	ctx = context.WithoutCancel(ctx)
	log := p.logger.WithDocument(doc.UserID, doc.ID)

	var err error
	if out.Status == storage.OCRStatusCompleted {
		err = p.docs.CompleteExtraction(ctx, doc.ID, out.Text, out.Language)
		if err != nil && !errors.Is(err, storage.ErrInvalidTransition) && !errors.Is(err, storage.ErrNotFound) {
			log.Error().Err(err).Msg("Failed to store extracted text")
			out = extract.Outcome{Status: storage.OCRStatusFailed, Error: "failed to store extracted text"}
			err = p.docs.FailExtraction(ctx, doc.ID, out.Error)
		}
	} else {
		err = p.docs.FailExtraction(ctx, doc.ID, out.Error)
	}

	switch {
	case errors.Is(err, storage.ErrInvalidTransition):
		log.Warn().Str("status", string(out.Status)).Msg("Document already left processing, discarding result")
		return
	case errors.Is(err, storage.ErrNotFound):
		log.Info().Msg("Document deleted during extraction")
		return
	case err != nil:
		log.Error().Err(err).Msg("Failed to store extraction outcome")
		return
	}

	doc.OCRStatus = out.Status
	if out.Status == storage.OCRStatusCompleted {
		log.Info().Int("chars", len(out.Text)).Msg("Extraction completed")
	} else {
		log.Warn().Str("error", out.Error).Msg("Extraction failed")
	}
	p.notify(ctx, doc, out.Error)
}

// Rerun re-evaluates extraction for a document from scratch. Any status but
// processing may be rerun.
func (p *Pipeline) Rerun(ctx context.Context, userID, id uuid.UUID) (*storage.Document, error) {
	doc, err := p.docs.GetByID(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if doc.OCRStatus == storage.OCRStatusProcessing {
		return nil, ErrAlreadyProcessing
	}

	p.logger.WithContext(ctx).WithDocument(userID, id).Info().
		Str("from", string(doc.OCRStatus)).
		Msg("Rerunning extraction")

	err = p.dispatch(ctx, doc, storage.OCRStatusPending, storage.OCRStatusFailed, storage.OCRStatusCompleted)
	if err != nil {
		return nil, err
	}
	return p.reload(ctx, doc)
}

// CaptureRequest is a camera capture submitted as base64 image data.
type CaptureRequest struct {
	UserID   uuid.UUID
	Image    string
	Title    string
	FolderID *uuid.UUID
	// Crop detects the document boundary and corrects perspective.
	Crop    bool
	SkipOCR bool
}

// Capture decodes a captured image, optionally crops it to the detected
// document, re-encodes it as JPEG, and ingests it like an upload.
func (p *Pipeline) Capture(ctx context.Context, req CaptureRequest) (*storage.Document, error) {
	raw, err := DecodeImageData(req.Image)
	if err != nil {
		return nil, err
	}
	img, _, err := imaging.Decode(raw)
	if err != nil {
		return nil, validationError("image could not be decoded")
	}

	if req.Crop {
		cropped, _, err := imaging.Scan(img)
		switch {
		case err == nil:
			img = cropped
		case errors.Is(err, imaging.ErrNoDocument):
			p.logger.Info().Msg("No document boundary found, storing capture uncropped")
		default:
			p.logger.Warn().Err(err).Msg("Perspective correction failed, storing capture uncropped")
		}
	}

	data, err := imaging.EncodeJPEG(img, p.config.CaptureQuality)
	if err != nil {
		return nil, fmt.Errorf("encode capture: %w", err)
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = DefaultCaptureTitle
	}
	return p.Accept(ctx, UploadRequest{
		UserID:   req.UserID,
		Filename: fmt.Sprintf("camera_%s.jpg", time.Now().UTC().Format("20060102_150405")),
		Body:     bytes.NewReader(data),
		Title:    title,
		FolderID: req.FolderID,
		SkipOCR:  req.SkipOCR,
	})
}

// DecodeImageData decodes standard base64 image data, optionally wrapped in
// a data URL.
func DecodeImageData(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "base64,"); i >= 0 {
		s = s[i+len("base64,"):]
	}
	if s == "" {
		return nil, validationError("no image provided")
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		if data, rawErr := base64.RawStdEncoding.DecodeString(s); rawErr == nil {
			return data, nil
		}
		return nil, validationError("image is not valid base64")
	}
	return data, nil
}

// Delete removes the document row and then its files. File removal is best
// effort.
func (p *Pipeline) Delete(ctx context.Context, userID, id uuid.UUID) error {
	doc, err := p.docs.Delete(ctx, userID, id)
	if err != nil {
		return err
	}

	log := p.logger.WithContext(ctx).WithDocument(userID, id)
	paths := []string{doc.FilePath}
	if doc.ThumbnailPath != nil {
		paths = append(paths, *doc.ThumbnailPath)
	}
	for _, rel := range paths {
		if err := p.files.Remove(rel); err != nil {
			log.Warn().Err(err).Str("path", rel).Msg("Failed to remove document file")
		}
	}
	log.Info().Msg("Document deleted")

	if p.notifier != nil {
		p.notifier.Notify(ctx, Event{UserID: userID, DocumentID: id, Deleted: true, At: time.Now().UTC()})
	}
	return nil
}

// RecoverStale fails documents that have been processing for longer than
// olderThan, typically left behind by a process that exited mid-extraction.
func (p *Pipeline) RecoverStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	n, err := p.docs.FailStale(ctx, time.Now().Add(-olderThan), InterruptedMessage)
	if err != nil {
		return 0, fmt.Errorf("recover stale documents: %w", err)
	}
	if n > 0 {
		p.logger.Warn().Int64("documents", n).Msg("Failed documents left in processing")
	}
	return n, nil
}

func (p *Pipeline) reload(ctx context.Context, doc *storage.Document) (*storage.Document, error) {
	return p.docs.GetByID(context.WithoutCancel(ctx), doc.UserID, doc.ID)
}

func (p *Pipeline) notify(ctx context.Context, doc *storage.Document, errMsg string) {
	if p.notifier == nil {
		return
	}
	p.notifier.Notify(ctx, Event{
		UserID:     doc.UserID,
		DocumentID: doc.ID,
		Status:     doc.OCRStatus,
		Error:      errMsg,
		At:         time.Now().UTC(),
	})
}
