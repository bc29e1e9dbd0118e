package pdf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spherical-ai/docscan/internal/domain"
)

// MinDPI and MaxDPI bound page rendering resolution.
const (
	MinDPI = 36
	MaxDPI = 1200
)

// Validator provides input validation for PDF files
type Validator struct{}

// NewValidator creates a new validator instance
func NewValidator() *Validator {
	return &Validator{}
}

// ValidatePDFPath validates that a file path is valid and points to a PDF
func (v *Validator) ValidatePDFPath(path string) error {
	if strings.TrimSpace(path) == "" {
		return domain.ValidationError("file path cannot be empty", nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.IOError(fmt.Sprintf("file does not exist: %s", path), err)
		}
		return domain.IOError(fmt.Sprintf("cannot access file: %s", path), err)
	}

	if info.IsDir() {
		return domain.ValidationError(fmt.Sprintf("path is a directory, not a file: %s", path), nil)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".pdf" {
		return domain.ValidationError(fmt.Sprintf("file is not a PDF (has extension %s)", ext), nil)
	}

	return nil
}

// ValidateDPI validates the page rendering resolution
func (v *Validator) ValidateDPI(dpi int) error {
	if dpi < MinDPI || dpi > MaxDPI {
		return domain.ValidationError(fmt.Sprintf("dpi must be between %d and %d, got %d", MinDPI, MaxDPI, dpi), nil)
	}
	return nil
}
