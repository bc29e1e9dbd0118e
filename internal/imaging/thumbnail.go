// Package imaging provides thumbnail generation and document-edge detection
// with perspective correction.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif" // register decoder
	"image/jpeg"
	_ "image/png" // register decoder
	"math"

	_ "golang.org/x/image/bmp"  // register decoder
	_ "golang.org/x/image/tiff" // register decoder
	"golang.org/x/image/draw"
)

// Decode decodes any supported raster format and reports its name.
func Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return img, format, nil
}

// Thumbnailer renders bounded JPEG previews.
type Thumbnailer struct {
	Width   int
	Height  int
	Quality int
}

// NewThumbnailer creates a thumbnailer. Zero values fall back to 300x300 at quality 85.
func NewThumbnailer(width, height, quality int) *Thumbnailer {
	if width <= 0 {
		width = 300
	}
	if height <= 0 {
		height = 300
	}
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	return &Thumbnailer{Width: width, Height: height, Quality: quality}
}

// Thumbnail fits img within the bounding box and encodes it as JPEG.
func (t *Thumbnailer) Thumbnail(img image.Image) ([]byte, error) {
	return EncodeJPEG(Fit(img, t.Width, t.Height), t.Quality)
}

// ThumbnailBytes decodes data and produces its thumbnail.
func (t *Thumbnailer) ThumbnailBytes(data []byte) ([]byte, error) {
	img, _, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return t.Thumbnail(img)
}

// FitSize returns the largest size with the aspect ratio of w x h that fits
// within maxW x maxH. Images already inside the box keep their size.
func FitSize(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 {
		return 0, 0
	}
	scale := math.Min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	if scale >= 1 {
		return w, h
	}
	return max(1, int(float64(w)*scale)), max(1, int(float64(h)*scale))
}

// Fit downscales img with a Catmull-Rom filter onto a white background so
// transparent regions do not turn black in JPEG output.
func Fit(img image.Image, maxW, maxH int) *image.RGBA {
	b := img.Bounds()
	w, h := FitSize(b.Dx(), b.Dy(), maxW, maxH)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	if w == b.Dx() && h == b.Dy() {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	}
	return dst
}

// EncodeJPEG encodes img at the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
