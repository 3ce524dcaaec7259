package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LocalFileStore stores documents as files below a base directory. Keys may
// contain "/" separators which map to subdirectories.
type LocalFileStore struct {
	basePath string
}

// NewLocalFileStore creates a new LocalFileStore at the given base path.
// It creates the directory if it does not exist.
func NewLocalFileStore(basePath string) (*LocalFileStore, error) {
	if err := os.MkdirAll(basePath, 0o750); err != nil {
		return nil, fmt.Errorf("blobstore: create base directory: %w", err)
	}
	return &LocalFileStore{basePath: basePath}, nil
}

func (s *LocalFileStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("blobstore: invalid key %q", key)
	}
	return filepath.Join(s.basePath, clean), nil
}

// Put writes the document to a temp file in the target directory and renames
// it into place so concurrent readers see either the old or the new version.
func (s *LocalFileStore) Put(_ context.Context, key string, data []byte) error {
	finalPath, err := s.path(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(finalPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("blobstore: create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(finalPath)+"-*")
	if err != nil {
		return fmt.Errorf("blobstore: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("blobstore: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("blobstore: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, finalPath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("blobstore: rename temp file: %w", err)
	}
	return nil
}

// Get reads a document. Returns ErrNotFound if it does not exist.
func (s *LocalFileStore) Get(_ context.Context, key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("blobstore: read file: %w", err)
	}
	return data, nil
}

// Delete removes a document. Missing documents are not an error.
func (s *LocalFileStore) Delete(_ context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("blobstore: remove file: %w", err)
	}
	return nil
}

// List walks the base directory and returns every key starting with prefix.
// Temp files from in-flight writes are skipped.
func (s *LocalFileStore) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.basePath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(s.basePath, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("blobstore: list: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}
