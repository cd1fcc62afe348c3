package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
)

// FilesystemBackend stores cache documents as files under a root directory.
type FilesystemBackend struct {
	root string
}

// NewFilesystemBackend creates a filesystem backend rooted at root.
// An empty root defaults to the current directory.
func NewFilesystemBackend(root string) *FilesystemBackend {
	if root == "" {
		root = "."
	}
	return &FilesystemBackend{root: root}
}

// Path returns the filesystem path for the given key.
func (b *FilesystemBackend) Path(key string) string {
	return filepath.Join(b.root, key)
}

// Get returns the file's contents, or ErrNotFound if it does not exist.
func (b *FilesystemBackend) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(b.Path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// Put writes the file atomically using temp file + rename.
func (b *FilesystemBackend) Put(ctx context.Context, key string, data []byte) error {
	path := b.Path(key)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
