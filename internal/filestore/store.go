// Package filestore persists uploaded originals and thumbnails on the local filesystem.
// Callers only ever see paths relative to the store root.
package filestore

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

const (
	originalsDir  = "originals"
	thumbnailsDir = "thumbnails"
)

var (
	// ErrTooLarge is returned when a write exceeds the byte limit.
	ErrTooLarge = errors.New("file exceeds size limit")
	// ErrOutsideRoot is returned for relative paths that escape the root.
	ErrOutsideRoot = errors.New("path escapes storage root")
)

// Store is a directory tree of per-user originals and thumbnails.
type Store struct {
	root string
	now  func() time.Time
}

// New creates the store layout under root.
func New(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve upload root: %w", err)
	}
	for _, dir := range []string{originalsDir, thumbnailsDir} {
		if err := os.MkdirAll(filepath.Join(abs, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create %s dir: %w", dir, err)
		}
	}
	return &Store{root: abs, now: time.Now}, nil
}

// Root returns the absolute store root.
func (s *Store) Root() string { return s.root }

// SaveOriginal writes r under originals/<user>/ and returns the relative path
// and the number of bytes written. A limit <= 0 disables the size check.
func (s *Store) SaveOriginal(userID uuid.UUID, originalName, ext string, r io.Reader, limit int64) (string, int64, error) {
	name, err := s.generateName(originalName, ext)
	if err != nil {
		return "", 0, err
	}
	rel := path.Join(originalsDir, userID.String(), name)
	n, err := s.write(rel, r, limit)
	if err != nil {
		return "", 0, err
	}
	return rel, n, nil
}

// SaveThumbnail writes JPEG bytes under thumbnails/<user>/ and returns the relative path.
func (s *Store) SaveThumbnail(userID, documentID uuid.UUID, data []byte) (string, error) {
	token, err := randomToken()
	if err != nil {
		return "", err
	}
	rel := path.Join(thumbnailsDir, userID.String(), "thumb_"+documentID.String()+"_"+token+".jpg")
	if _, err := s.write(rel, bytes.NewReader(data), 0); err != nil {
		return "", err
	}
	return rel, nil
}

// Abs resolves a stored relative path to an absolute filesystem path.
func (s *Store) Abs(rel string) (string, error) {
	if rel == "" || filepath.IsAbs(rel) {
		return "", ErrOutsideRoot
	}
	abs := filepath.Join(s.root, filepath.FromSlash(rel))
	if abs != s.root && !strings.HasPrefix(abs, s.root+string(filepath.Separator)) {
		return "", ErrOutsideRoot
	}
	return abs, nil
}

// Open opens a stored file for reading.
func (s *Store) Open(rel string) (*os.File, error) {
	abs, err := s.Abs(rel)
	if err != nil {
		return nil, err
	}
	return os.Open(abs)
}

// ReadFile returns the contents of a stored file.
func (s *Store) ReadFile(rel string) ([]byte, error) {
	abs, err := s.Abs(rel)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(abs)
}

// Exists reports whether the stored file is present.
func (s *Store) Exists(rel string) bool {
	abs, err := s.Abs(rel)
	if err != nil {
		return false
	}
	_, err = os.Stat(abs)
	return err == nil
}

// Remove deletes a stored file. A missing file is not an error.
func (s *Store) Remove(rel string) error {
	if rel == "" {
		return nil
	}
	abs, err := s.Abs(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// write streams r to a temp file next to rel and renames it into place.
func (s *Store) write(rel string, r io.Reader, limit int64) (int64, error) {
	abs, err := s.Abs(rel)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return 0, fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(abs), ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	n, err := io.Copy(tmp, src)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("write file: %w", err)
	}
	if limit > 0 && n > limit {
		return 0, ErrTooLarge
	}

	if err := os.Rename(tmp.Name(), abs); err != nil {
		return 0, fmt.Errorf("move file into place: %w", err)
	}
	return n, nil
}

func (s *Store) generateName(originalName, ext string) (string, error) {
	token, err := randomToken()
	if err != nil {
		return "", err
	}
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	base := SanitizeFilename(strings.TrimSuffix(filepath.Base(originalName), filepath.Ext(originalName)))
	name := fmt.Sprintf("%s_%s_%s", s.now().UTC().Format("20060102_150405"), token, base)
	if ext != "" {
		name += "." + ext
	}
	return name, nil
}

func randomToken() (string, error) {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// SanitizeFilename reduces a name to ASCII letters, digits, '-', '_' and '.'.
// Whitespace becomes '_'. An empty result yields "document".
func SanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), "._")
	if len(out) > 100 {
		out = out[:100]
	}
	if out == "" {
		return "document"
	}
	return out
}
