package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FilesystemStore implements BlobStore by writing files to the local disk.
// It is intended for development; the files are served by the HTTP server
// under publicURL.
type FilesystemStore struct {
	baseDir   string
	publicURL string
}

// NewFilesystemStore creates a new store rooted at baseDir.
func NewFilesystemStore(baseDir, publicURL string) (*FilesystemStore, error) {
	if baseDir == "" {
		baseDir = "data/blobs"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &FilesystemStore{baseDir: baseDir, publicURL: strings.TrimRight(publicURL, "/")}, nil
}

// Dir returns the directory the store writes to.
func (s *FilesystemStore) Dir() string {
	return s.baseDir
}

func (s *FilesystemStore) Put(ctx context.Context, name string, data []byte, opts PutOptions) (string, error) {
	key := name
	if opts.AddRandomSuffix {
		key = withRandomSuffix(name)
	}
	path, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	return s.url(key), nil
}

func (s *FilesystemStore) Delete(ctx context.Context, blobURL string) error {
	// keys are flat, so the last URL segment is the key for both http and file URLs
	path, err := s.path(filepath.Base(objectKey(s.publicURL, blobURL)))
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

func (s *FilesystemStore) List(ctx context.Context, prefix string) ([]BlobInfo, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}
	var blobs []BlobInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		blobs = append(blobs, BlobInfo{URL: s.url(e.Name()), Name: e.Name()})
	}
	sort.Slice(blobs, func(i, j int) bool { return blobs[i].Name < blobs[j].Name })
	return blobs, nil
}

func (s *FilesystemStore) Get(ctx context.Context, name string) ([]byte, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}

// path maps a key onto the base directory. Keys are flat file names.
func (s *FilesystemStore) path(key string) (string, error) {
	if key == "" || key != filepath.Base(key) || key == "." || key == ".." {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return filepath.Join(s.baseDir, key), nil
}

func (s *FilesystemStore) url(key string) string {
	if s.publicURL == "" {
		abs, _ := filepath.Abs(filepath.Join(s.baseDir, key))
		return "file://" + filepath.ToSlash(abs)
	}
	return s.publicURL + "/" + key
}
