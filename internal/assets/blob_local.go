package assets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalBlob writes assets to the local filesystem.
type LocalBlob struct {
	baseDir string
}

// NewLocalBlob creates a filesystem-backed blob store rooted at baseDir.
func NewLocalBlob(baseDir string) (*LocalBlob, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}
	return &LocalBlob{baseDir: baseDir}, nil
}

// Put writes data under key and returns a file:// URI. An existing object
// with the same key is left in place (content-hash keys make this a dedup
// hit, not a conflict).
func (b *LocalBlob) Put(_ context.Context, key string, data []byte) (string, error) {
	fullPath, err := b.resolve(key)
	if err != nil {
		return "", err
	}
	if _, statErr := os.Stat(fullPath); statErr == nil {
		return "file://" + fullPath, nil
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("create parent directories: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o600); err != nil {
		return "", fmt.Errorf("write object: %w", err)
	}
	return "file://" + fullPath, nil
}

// URL returns the retrieval URI for a stored key.
func (b *LocalBlob) URL(key string) (string, error) {
	fullPath, err := b.resolve(key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(fullPath); err != nil {
		return "", fmt.Errorf("stat object %s: %w", key, err)
	}
	return "file://" + fullPath, nil
}

// Delete removes the object for key, reporting whether it existed.
func (b *LocalBlob) Delete(_ context.Context, key string) (bool, error) {
	fullPath, err := b.resolve(key)
	if err != nil {
		return false, err
	}
	if err := os.Remove(fullPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("delete object %s: %w", key, err)
	}
	return true, nil
}

// CollectOlderThan removes objects whose mtime is before cutoff and prunes
// directories left empty. Returns the number of objects removed.
func (b *LocalBlob) CollectOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	deleted := 0
	err := filepath.WalkDir(b.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove aged asset %s: %w", path, err)
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return deleted, fmt.Errorf("walk asset root: %w", err)
	}
	b.pruneEmptyDirs()
	return deleted, nil
}

func (b *LocalBlob) pruneEmptyDirs() {
	// Repeat until a pass removes nothing, so emptied parents go too.
	for {
		removed := false
		_ = filepath.WalkDir(b.baseDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil || !d.IsDir() || path == b.baseDir {
				return nil
			}
			entries, readErr := os.ReadDir(path)
			if readErr == nil && len(entries) == 0 {
				if os.Remove(path) == nil {
					removed = true
				}
			}
			return nil
		})
		if !removed {
			return
		}
	}
}

func (b *LocalBlob) resolve(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("key is required")
	}
	fullPath := filepath.Join(b.baseDir, filepath.FromSlash(key))
	cleanBase := filepath.Clean(b.baseDir)
	if !strings.HasPrefix(filepath.Clean(fullPath), cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return fullPath, nil
}
