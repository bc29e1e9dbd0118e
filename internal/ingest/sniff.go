package ingest

import (
	"bytes"

	"github.com/spherical-ai/docscan/internal/storage"
)

// sniffLen is how many leading bytes are inspected.
const sniffLen = 16

type signature struct {
	format string
	magic  []byte
}

var signatures = []signature{
	{"pdf", []byte("%PDF-")},
	{"png", []byte("\x89PNG\r\n\x1a\n")},
	{"jpeg", []byte{0xFF, 0xD8, 0xFF}},
	{"gif", []byte("GIF87a")},
	{"gif", []byte("GIF89a")},
	{"bmp", []byte("BM")},
	{"tiff", []byte("II*\x00")},
	{"tiff", []byte("MM\x00*")},
}

// aliases maps accepted extensions onto the format names used by signatures.
var aliases = map[string]string{
	"jpg": "jpeg",
	"tif": "tiff",
}

// SniffFormat names the file format of head by its magic bytes, or returns
// "" when none matches.
func SniffFormat(head []byte) string {
	for _, s := range signatures {
		if bytes.HasPrefix(head, s.magic) {
			return s.format
		}
	}
	return ""
}

// MatchesExtension reports whether the content in head is consistent with ext.
func MatchesExtension(head []byte, ext string) bool {
	ext = storage.NormalizeExtension(ext)
	if a, ok := aliases[ext]; ok {
		ext = a
	}
	return SniffFormat(head) == ext
}

var mimeTypes = map[string]string{
	"pdf":  "application/pdf",
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"bmp":  "image/bmp",
	"tiff": "image/tiff",
	"tif":  "image/tiff",
}

// MimeType returns the content type for a normalized extension.
func MimeType(ext string) string {
	if m, ok := mimeTypes[storage.NormalizeExtension(ext)]; ok {
		return m
	}
	return "application/octet-stream"
}
