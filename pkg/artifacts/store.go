// Package artifacts stores export bundle files on a filesystem, S3,
// or GCS backend. Every write returns the content's SHA-256 digest so
// bundle manifests can pin exactly what was stored.
package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Store is the contract for bundle file storage.
type Store interface {
	// Put persists data under key and returns its SHA-256 digest in
	// "sha256:<hex>" form. Writing the same key twice overwrites.
	Put(ctx context.Context, key string, data []byte) (string, error)
	// Get retrieves data by key.
	Get(ctx context.Context, key string) ([]byte, error)
	// Exists checks whether a key is present.
	Exists(ctx context.Context, key string) (bool, error)
}

// Digest computes the "sha256:<hex>" digest Put returns.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

func validKey(key string) error {
	if key == "" {
		return fmt.Errorf("artifacts: empty key")
	}
	if strings.Contains(key, "..") || strings.HasPrefix(key, "/") {
		return fmt.Errorf("artifacts: invalid key %q", key)
	}
	return nil
}

// FileStore is a filesystem-backed implementation of Store.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates a store rooted at the given directory.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("artifacts: ensure dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) Put(_ context.Context, key string, data []byte) (string, error) {
	if err := validKey(key); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.baseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("artifacts: ensure key dir: %w", err)
	}

	// Write to temp, then rename, so readers never see partial files.
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return "", fmt.Errorf("artifacts: write %s: %w", key, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return "", fmt.Errorf("artifacts: commit %s: %w", key, err)
	}
	return Digest(data), nil
}

func (s *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(s.baseDir, filepath.FromSlash(key)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("artifacts: %s not found", key)
		}
		return nil, fmt.Errorf("artifacts: read %s: %w", key, err)
	}
	return data, nil
}

func (s *FileStore) Exists(_ context.Context, key string) (bool, error) {
	if err := validKey(key); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err := os.Stat(filepath.Join(s.baseDir, filepath.FromSlash(key)))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("artifacts: stat %s: %w", key, err)
}
