// Package pdf opens PDF files through MuPDF (go-fitz) for text-layer
// extraction and page rendering.
package pdf

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/gen2brain/go-fitz"

	"github.com/spherical-ai/docscan/internal/domain"
)

// BaseDPI is the resolution of a page rendered at zoom 1.
const BaseDPI = 72.0

// Document is an open PDF.
type Document interface {
	NumPage() int
	Text(page int) (string, error)
	Render(page int, dpi float64) (image.Image, error)
	Close() error
}

// Opener opens PDF documents from the filesystem.
type Opener interface {
	Open(path string) (Document, error)
}

// FitzOpener opens documents with go-fitz.
type FitzOpener struct {
	validator *Validator
}

// NewFitzOpener creates an opener backed by MuPDF.
func NewFitzOpener() *FitzOpener {
	return &FitzOpener{validator: NewValidator()}
}

// Open validates path and opens the document.
func (o *FitzOpener) Open(path string) (Document, error) {
	if err := o.validator.ValidatePDFPath(path); err != nil {
		return nil, err
	}
	doc, err := fitz.New(path)
	if err != nil {
		return nil, domain.ConversionError("Failed to open PDF", err)
	}
	if doc.NumPage() == 0 {
		doc.Close()
		return nil, domain.ValidationError("PDF has no pages", nil)
	}
	return &fitzDocument{doc: doc}, nil
}

type fitzDocument struct {
	doc *fitz.Document
}

func (d *fitzDocument) NumPage() int { return d.doc.NumPage() }

func (d *fitzDocument) Text(page int) (string, error) {
	text, err := d.doc.Text(page)
	if err != nil {
		return "", domain.ExtractionError(fmt.Sprintf("Failed to read text of page %d", page+1), err)
	}
	return text, nil
}

func (d *fitzDocument) Render(page int, dpi float64) (image.Image, error) {
	img, err := d.doc.ImageDPI(page, dpi)
	if err != nil {
		return nil, domain.ConversionError(fmt.Sprintf("Failed to render page %d", page+1), err)
	}
	return img, nil
}

func (d *fitzDocument) Close() error { return d.doc.Close() }

// TextLayer concatenates the text of every page in page order, one newline
// between pages.
func TextLayer(ctx context.Context, doc Document) (string, error) {
	pages := make([]string, 0, doc.NumPage())
	for i := 0; i < doc.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text, err := doc.Text(i)
		if err != nil {
			return "", err
		}
		pages = append(pages, text)
	}
	return strings.Join(pages, "\n"), nil
}

// RenderFirstPage renders page one at the given zoom relative to 72 DPI.
func RenderFirstPage(doc Document, zoom float64) (image.Image, error) {
	if zoom <= 0 {
		zoom = 1
	}
	return doc.Render(0, BaseDPI*zoom)
}

// PageCount opens path just long enough to count its pages.
func PageCount(opener Opener, path string) (int, error) {
	doc, err := opener.Open(path)
	if err != nil {
		return 0, err
	}
	defer doc.Close()
	return doc.NumPage(), nil
}
