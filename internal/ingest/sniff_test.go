package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchesExtension(t *testing.T) {
	tests := []struct {
		head string
		ext  string
		want bool
	}{
		{"%PDF-1.7\n", "pdf", true},
		{"\x89PNG\r\n\x1a\n\x00\x00", "png", true},
		{"\xFF\xD8\xFF\xE0JFIF", "jpg", true},
		{"\xFF\xD8\xFF\xE1Exif", ".JPEG", true},
		{"GIF89a\x01\x00", "gif", true},
		{"GIF87a\x01\x00", "gif", true},
		{"BM\x36\x00", "bmp", true},
		{"II*\x00\x08\x00", "tif", true},
		{"MM\x00*\x00\x00", "tiff", true},
		{"hello world", "png", false},
		{"%PDF-1.7", "png", false},
		{"\x89PNG\r\n\x1a\n", "pdf", false},
		{"", "pdf", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MatchesExtension([]byte(tt.head), tt.ext), "%q as %s", tt.head, tt.ext)
	}
}

func TestMimeType(t *testing.T) {
	assert.Equal(t, "application/pdf", MimeType("PDF"))
	assert.Equal(t, "image/jpeg", MimeType(".jpg"))
	assert.Equal(t, "image/tiff", MimeType("tif"))
	assert.Equal(t, "application/octet-stream", MimeType("exe"))
}
