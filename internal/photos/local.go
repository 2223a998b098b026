package photos

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalStore keeps photos under a root directory.
type LocalStore struct {
	root string
	now  func() time.Time
}

// NewLocalStore creates the root directory if it is missing.
func NewLocalStore(root string) (*LocalStore, error) {
	if root == "" {
		return nil, errors.New("photos: upload directory is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve upload dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	slog.Info("local photo store configured", "root", abs)
	return &LocalStore{root: abs, now: time.Now}, nil
}

// Save writes data and returns its path relative to the root. Non-image
// data is rejected with ErrNotAnImage.
func (s *LocalStore) Save(_ context.Context, data []byte, originalName string) (string, error) {
	_, ext, err := SniffImage(data)
	if err != nil {
		return "", err
	}
	key := newKey(originalName, ext, s.now())
	full := filepath.Join(s.root, filepath.FromSlash(key))

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create photo dir: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("write photo: %w", err)
	}
	return key, nil
}

// Open returns a reader for a stored photo.
func (s *LocalStore) Open(_ context.Context, relPath string) (io.ReadCloser, error) {
	full, err := s.resolve(relPath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrPhotoNotFound
		}
		return nil, fmt.Errorf("open photo: %w", err)
	}
	return f, nil
}

// Remove deletes a stored photo. A missing file is not an error.
func (s *LocalStore) Remove(_ context.Context, relPath string) error {
	full, err := s.resolve(relPath)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove photo: %w", err)
	}
	return nil
}

func (s *LocalStore) resolve(relPath string) (string, error) {
	clean, err := CleanPath(relPath)
	if err != nil {
		return "", err
	}
	full := filepath.Join(s.root, filepath.FromSlash(clean))
	rel, err := filepath.Rel(s.root, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", ErrInvalidPath
	}
	return full, nil
}
