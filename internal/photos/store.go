// Package photos stores incident photos on the local filesystem or in an
// S3-compatible object store.
package photos

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

var (
	ErrInvalidPath   = errors.New("invalid photo path")
	ErrPhotoNotFound = errors.New("photo not found")
)

// Store persists photo bytes and returns a relative, servable path.
type Store interface {
	Save(ctx context.Context, data []byte, originalName string) (string, error)
	Open(ctx context.Context, relPath string) (io.ReadCloser, error)
	Remove(ctx context.Context, relPath string) error
}

const keyPrefix = "incidents"

// newKey builds incidents/YYYY/MM/<uuid>_<name><ext>. Whitespace in the
// name becomes underscores and its own extension is replaced by ext.
func newKey(originalName, ext string, now time.Time) string {
	name := filepath.Base(strings.ReplaceAll(originalName, "\\", "/"))
	name = strings.TrimSuffix(name, path.Ext(name))
	if name == "" || name == "." || name == "/" {
		name = "photo"
	}
	name = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return '_'
		}
		return r
	}, name)

	return path.Join(keyPrefix, now.UTC().Format("2006/01"), fmt.Sprintf("%s_%s%s", uuid.NewString(), name, ext))
}

// CleanPath validates a client-supplied relative path. Absolute paths and
// any ".." segment are rejected.
func CleanPath(relPath string) (string, error) {
	p := strings.ReplaceAll(relPath, "\\", "/")
	if p == "" || strings.HasPrefix(p, "/") || filepath.IsAbs(relPath) {
		return "", ErrInvalidPath
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", ErrInvalidPath
		}
	}
	return path.Clean(p), nil
}
