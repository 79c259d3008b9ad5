// Package tempstore provides transient on-disk storage for uploaded
// receipt assets. Files live only for the duration of a forward attempt
// and are removed unconditionally afterwards.
package tempstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Store writes uploads under a single directory with unique names.
type Store struct {
	dir string
}

// New creates the backing directory if needed.
func New(dir string) (*Store, error) {
	if dir == "" {
		dir = "uploads"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the backing directory path.
func (s *Store) Dir() string {
	return s.dir
}

// Save streams r to a uniquely named file, keeping only a sanitized
// extension from the client-supplied name, and returns the full path.
func (s *Store) Save(name string, r io.Reader) (string, error) {
	path := filepath.Join(s.dir, "receipt-"+uuid.NewString()+safeExt(name))

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("create asset file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write asset file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close asset file: %w", err)
	}
	return path, nil
}

// Remove deletes the file at path. Missing files are not an error: the
// caller's cleanup must be safe to run after a partial failure.
func (s *Store) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove asset file: %w", err)
	}
	return nil
}

// safeExt keeps short, purely alphanumeric extensions and drops
// anything else, so client input never influences the stored path
// beyond a plain suffix.
func safeExt(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if len(ext) < 2 || len(ext) > 6 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}
