// Package extract selects a text extraction strategy by file type and maps
// its result onto a document outcome.
package extract

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spherical-ai/docscan/internal/domain"
	"github.com/spherical-ai/docscan/internal/observability"
	"github.com/spherical-ai/docscan/internal/ocr"
	"github.com/spherical-ai/docscan/internal/pdf"
	"github.com/spherical-ai/docscan/internal/storage"
)

// DefaultDPI is the page rendering resolution for scanned PDFs.
const DefaultDPI = 300

// Method names how text was obtained.
type Method string

const (
	MethodTextLayer Method = "text_layer"
	MethodOCR       Method = "ocr"
)

// Result is the raw output of an extraction.
type Result struct {
	Text      string
	Method    Method
	PageCount int
	Duration  time.Duration
}

// Extractor runs text extraction for stored files.
type Extractor struct {
	pdfs   pdf.Opener
	engine ocr.Engine
	dpi    float64
	logger *observability.Logger
}

// NewExtractor creates an extractor. A dpi outside the renderable range
// falls back to DefaultDPI.
func NewExtractor(pdfs pdf.Opener, engine ocr.Engine, dpi int, logger *observability.Logger) *Extractor {
	if err := pdf.NewValidator().ValidateDPI(dpi); err != nil {
		dpi = DefaultDPI
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Extractor{pdfs: pdfs, engine: engine, dpi: float64(dpi), logger: logger}
}

// Extract reads text from the file at path. The strategy is chosen by ext
// alone: PDFs use their text layer when it has any non-whitespace content and
// fall back to per-page OCR otherwise; raster images go straight to OCR.
func (e *Extractor) Extract(ctx context.Context, path, ext string) (*Result, error) {
	start := time.Now()
	ext = storage.NormalizeExtension(ext)

	var (
		res *Result
		err error
	)
	switch {
	case ext == "pdf":
		res, err = e.extractPDF(ctx, path)
	case storage.IsImageExtension(ext):
		res, err = e.extractImage(ctx, path)
	default:
		return nil, domain.ValidationError(fmt.Sprintf("unsupported file type: %q", ext), nil)
	}
	if err != nil {
		return nil, err
	}

	res.Duration = time.Since(start)
	e.logger.Debug().
		Str("method", string(res.Method)).
		Int("pages", res.PageCount).
		Int("chars", len(res.Text)).
		Dur("duration", res.Duration).
		Msg("Extraction finished")
	return res, nil
}

func (e *Extractor) extractPDF(ctx context.Context, path string) (*Result, error) {
	doc, err := e.pdfs.Open(path)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	pages := doc.NumPage()
	text, err := pdf.TextLayer(ctx, doc)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) != "" {
		return &Result{Text: text, Method: MethodTextLayer, PageCount: pages}, nil
	}

	e.logger.Info().Int("pages", pages).Msg("No text layer found, running OCR")

	parts := make([]string, 0, pages)
	for i := 0; i < pages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := doc.Render(i, e.dpi)
		if err != nil {
			return nil, err
		}
		pageText, err := ocr.RecognizeImage(ctx, e.engine, img)
		if err != nil {
			return nil, domain.ExtractionError(fmt.Sprintf("OCR failed on page %d", i+1), err)
		}
		parts = append(parts, pageText)
	}
	return &Result{Text: strings.Join(parts, "\n\n"), Method: MethodOCR, PageCount: pages}, nil
}

func (e *Extractor) extractImage(ctx context.Context, path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.IOError("Failed to read image", err)
	}
	text, err := e.engine.Recognize(ctx, data)
	if err != nil {
		return nil, domain.ExtractionError("OCR failed", err)
	}
	return &Result{Text: text, Method: MethodOCR, PageCount: 1}, nil
}
