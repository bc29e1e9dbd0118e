package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/docscan/internal/domain"
)

// writeTextPDF writes a single-page Letter PDF showing text in Helvetica.
func writeTextPDF(t *testing.T, text string) string {
	t.Helper()

	stream := fmt.Sprintf("BT /F1 24 Tf 72 700 Td (%s) Tj ET", text)
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)

	path := filepath.Join(t.TempDir(), "sample.pdf")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestFitzOpener_TextAndRender(t *testing.T) {
	path := writeTextPDF(t, "Hello docscan")

	doc, err := NewFitzOpener().Open(path)
	require.NoError(t, err)
	defer doc.Close()

	assert.Equal(t, 1, doc.NumPage())

	text, err := TextLayer(context.Background(), doc)
	require.NoError(t, err)
	assert.Contains(t, text, "Hello docscan")

	img, err := RenderFirstPage(doc, 0.5)
	require.NoError(t, err)
	assert.InDelta(t, 306, img.Bounds().Dx(), 2)
	assert.InDelta(t, 396, img.Bounds().Dy(), 2)

	n, err := PageCount(NewFitzOpener(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestFitzOpener_RejectsBadInput(t *testing.T) {
	opener := NewFitzOpener()

	_, err := opener.Open("")
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))

	_, err = opener.Open(filepath.Join(t.TempDir(), "missing.pdf"))
	assert.True(t, domain.IsType(err, domain.ErrorTypeIO))

	txt := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("hi"), 0o644))
	_, err = opener.Open(txt)
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))

	_, err = opener.Open(t.TempDir())
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))
}

type stubDocument struct {
	pages []string
	fail  int
}

func (d *stubDocument) NumPage() int { return len(d.pages) }

func (d *stubDocument) Text(page int) (string, error) {
	if page == d.fail {
		return "", errors.New("broken page")
	}
	return d.pages[page], nil
}

func (d *stubDocument) Render(int, float64) (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, 1, 1)), nil
}

func (d *stubDocument) Close() error { return nil }

func TestTextLayer_JoinsPagesInOrder(t *testing.T) {
	doc := &stubDocument{pages: []string{"one", "two", "three"}, fail: -1}
	text, err := TextLayer(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\nthree", text)

	doc.fail = 1
	_, err = TextLayer(context.Background(), doc)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = TextLayer(ctx, &stubDocument{pages: []string{"x"}, fail: -1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestValidator_DPI(t *testing.T) {
	v := NewValidator()
	assert.NoError(t, v.ValidateDPI(300))
	assert.Error(t, v.ValidateDPI(10))
	assert.Error(t, v.ValidateDPI(5000))
}
