package storage

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ArtifactStore keeps rendered export files on local disk, grouped by
// the month they were generated in.
type ArtifactStore struct {
	root string
}

// NewArtifactStore ensures the root directory exists and returns a handle.
func NewArtifactStore(root string) (*ArtifactStore, error) {
	if root == "" {
		root = "./exports"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	return &ArtifactStore{root: root}, nil
}

// Save writes an artifact and returns its path relative to the root.
func (s *ArtifactStore) Save(name string, data []byte) (string, error) {
	rel := filepath.Join(time.Now().UTC().Format("2006-01"), filepath.Base(name))
	abs, err := s.resolve(rel)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("create artifact directory: %w", err)
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return rel, nil
}

// Open returns a read-only handle for a previously saved artifact.
func (s *ArtifactStore) Open(rel string) (*os.File, error) {
	abs, err := s.resolve(rel)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	return file, nil
}

// Delete removes an artifact if it still exists.
func (s *ArtifactStore) Delete(rel string) error {
	abs, err := s.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete artifact: %w", err)
	}
	return nil
}

// Sweep deletes artifacts older than ttl and returns their relative paths.
func (s *ArtifactStore) Sweep(ttl time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-ttl)
	var removed []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		if rel, err := filepath.Rel(s.root, path); err == nil {
			removed = append(removed, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sweep artifacts: %w", err)
	}
	return removed, nil
}

// resolve rejects paths that would escape the artifact root.
func (s *ArtifactStore) resolve(rel string) (string, error) {
	if filepath.IsAbs(rel) || strings.Contains(rel, "..") {
		return "", fmt.Errorf("artifact path %q outside storage root", rel)
	}
	return filepath.Join(s.root, rel), nil
}
