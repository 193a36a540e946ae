package objectstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FileStorage stores blobs under a local directory, one file per key.
type FileStorage struct {
	root string
}

// NewFileStorage creates a store rooted at root.
func NewFileStorage(root string) Storage {
	return &FileStorage{root: root}
}

func (f *FileStorage) Reader(_ context.Context, key string) (io.ReadCloser, error) {
	path, err := f.filename(key)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

func (f *FileStorage) Writer(_ context.Context, key string) (io.WriteCloser, error) {
	path, err := f.filename(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	return os.Create(path)
}

func (f *FileStorage) filename(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(f.root, clean), nil
}
