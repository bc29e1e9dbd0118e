// Package storage provides database models and repositories for docscan.
package storage

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OCRStatus represents the text extraction state of a document.
type OCRStatus string

const (
	OCRStatusPending    OCRStatus = "pending"
	OCRStatusProcessing OCRStatus = "processing"
	OCRStatusCompleted  OCRStatus = "completed"
	OCRStatusFailed     OCRStatus = "failed"
)

// IsTerminal reports whether no extraction is in flight for the status.
func (s OCRStatus) IsTerminal() bool {
	return s == OCRStatusCompleted || s == OCRStatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s OCRStatus) Valid() bool {
	switch s {
	case OCRStatusPending, OCRStatusProcessing, OCRStatusCompleted, OCRStatusFailed:
		return true
	}
	return false
}

// DefaultFolderColor is used when a folder is created without a color.
const DefaultFolderColor = "#3498db"

// Document is an uploaded or captured file together with its extracted text.
type Document struct {
	ID       uuid.UUID  `json:"id"`
	UserID   uuid.UUID  `json:"user_id"`
	FolderID *uuid.UUID `json:"folder_id,omitempty"`

	Title       string `json:"title"`
	Description string `json:"description,omitempty"`

	OriginalFilename string  `json:"original_filename"`
	FilePath         string  `json:"file_path"`
	ThumbnailPath    *string `json:"thumbnail_path,omitempty"`
	FileSize         int64   `json:"file_size"`
	MimeType         string  `json:"mime_type,omitempty"`
	FileExtension    string  `json:"file_extension"`

	// OCRText is the raw extraction output and is never edited by the user.
	OCRText *string `json:"ocr_text,omitempty"`
	// Content is the user-editable working text, initialized from OCRText.
	Content   *string   `json:"content,omitempty"`
	OCRStatus OCRStatus `json:"ocr_status"`
	OCRError  *string   `json:"ocr_error,omitempty"`
	Language  *string   `json:"language,omitempty"`
	PageCount int       `json:"page_count"`

	Tags       string `json:"-"`
	IsFavorite bool   `json:"is_favorite"`
	IsArchived bool   `json:"is_archived"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	LastViewed *time.Time `json:"last_viewed,omitempty"`
}

// IsPDF reports whether the document is a PDF.
func (d *Document) IsPDF() bool {
	return NormalizeExtension(d.FileExtension) == "pdf"
}

// IsImage reports whether the document is a raster image.
func (d *Document) IsImage() bool {
	return IsImageExtension(d.FileExtension)
}

// TagList returns the document tags, trimmed, in stored order.
func (d *Document) TagList() []string {
	return SplitTags(d.Tags)
}

// AddTag appends tag unless it is already present.
func (d *Document) AddTag(tag string) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return
	}
	tags := d.TagList()
	for _, t := range tags {
		if t == tag {
			return
		}
	}
	d.Tags = JoinTags(append(tags, tag))
}

// RemoveTag removes tag if present.
func (d *Document) RemoveTag(tag string) {
	tags := d.TagList()
	out := tags[:0]
	for _, t := range tags {
		if t != tag {
			out = append(out, t)
		}
	}
	d.Tags = JoinTags(out)
}

// Folder is a named, colored grouping of documents owned by one user.
type Folder struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Color       string    `json:"color"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	DocumentCount int   `json:"document_count"`
	TotalSize     int64 `json:"total_size"`
}

// StatusCount aggregates documents of one user by status.
type StatusCount struct {
	Status    OCRStatus `json:"status"`
	Count     int       `json:"count"`
	TotalSize int64     `json:"total_size"`
}

// NormalizeExtension lowercases an extension and strips any leading dot.
// A full filename is accepted as well; its extension is used.
func NormalizeExtension(ext string) string {
	ext = strings.TrimSpace(ext)
	if strings.ContainsAny(ext, `/\`) || strings.Count(ext, ".") > 1 ||
		(strings.Contains(ext, ".") && !strings.HasPrefix(ext, ".")) {
		ext = filepath.Ext(ext)
	}
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

var imageExtensions = map[string]bool{
	"png": true, "jpg": true, "jpeg": true, "gif": true, "bmp": true, "tiff": true, "tif": true,
}

// IsImageExtension reports whether ext names a raster image type.
func IsImageExtension(ext string) bool {
	return imageExtensions[NormalizeExtension(ext)]
}

// SplitTags parses the comma separated tag column.
func SplitTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// JoinTags is the inverse of SplitTags.
func JoinTags(tags []string) string {
	clean := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		clean = append(clean, t)
	}
	return strings.Join(clean, ", ")
}
