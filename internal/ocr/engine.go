// Package ocr wraps the Tesseract recognition engine.
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"

	"github.com/spherical-ai/docscan/internal/observability"
)

// DefaultLanguages are the recognition locales: Russian and English.
var DefaultLanguages = []string{"rus", "eng"}

// Engine recognizes text in an encoded raster image. Calls block until the
// whole image is processed; there are no partial results.
type Engine interface {
	Recognize(ctx context.Context, image []byte) (string, error)
}

// client is the subset of *gosseract.Client used by the engine.
type client interface {
	SetImageFromBytes(data []byte) error
	GetBoundingBoxes(level gosseract.PageIteratorLevel) ([]gosseract.BoundingBox, error)
	Text() (string, error)
	Close() error
}

// TesseractEngine is a process-wide recognizer. The underlying client is
// created on first use and reused; a client is not goroutine-safe, so calls
// are serialized.
type TesseractEngine struct {
	languages []string
	logger    *observability.Logger
	newClient func(languages []string) (client, error)

	mu     sync.Mutex
	client client
}

// NewTesseractEngine creates an engine. No native resources are allocated
// until the first Recognize call.
func NewTesseractEngine(languages []string, logger *observability.Logger) *TesseractEngine {
	if len(languages) == 0 {
		languages = DefaultLanguages
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &TesseractEngine{
		languages: languages,
		logger:    logger,
		newClient: newGosseractClient,
	}
}

func newGosseractClient(languages []string) (client, error) {
	c := gosseract.NewClient()
	if err := c.SetLanguage(languages...); err != nil {
		c.Close()
		return nil, fmt.Errorf("set languages: %w", err)
	}
	return c, nil
}

// Recognize runs one paragraph-level recognition pass and joins the detected
// paragraphs with newlines in the engine's reading order.
func (e *TesseractEngine) Recognize(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.ensureClient()
	if err != nil {
		return "", err
	}

	if err := c.SetImageFromBytes(data); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}

	boxes, err := c.GetBoundingBoxes(gosseract.RIL_PARA)
	if err != nil {
		return "", fmt.Errorf("recognize paragraphs: %w", err)
	}
	if len(boxes) == 0 {
		text, err := c.Text()
		if err != nil {
			return "", fmt.Errorf("recognize text: %w", err)
		}
		return strings.TrimSpace(text), nil
	}

	paragraphs := make([]string, 0, len(boxes))
	for _, b := range boxes {
		if p := strings.TrimSpace(b.Word); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return strings.Join(paragraphs, "\n"), nil
}

// ensureClient must be called with mu held. A failed construction leaves
// the engine uninitialized so the next call retries.
func (e *TesseractEngine) ensureClient() (client, error) {
	if e.client != nil {
		return e.client, nil
	}
	c, err := e.newClient(e.languages)
	if err != nil {
		e.logger.Error().Err(err).Strs("languages", e.languages).Msg("OCR engine initialization failed")
		return nil, fmt.Errorf("initialize ocr engine: %w", err)
	}
	e.logger.Info().Strs("languages", e.languages).Msg("OCR engine initialized")
	e.client = c
	return c, nil
}

// Close releases the native client, if any.
func (e *TesseractEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return nil
	}
	err := e.client.Close()
	e.client = nil
	return err
}

// RecognizeImage encodes img as PNG and runs engine on it.
func RecognizeImage(ctx context.Context, engine Engine, img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode page image: %w", err)
	}
	return engine.Recognize(ctx, buf.Bytes())
}
