package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
)

// LocalStore keeps objects as files under a directory. Metadata is dropped.
type LocalStore struct {
	root Location
	log  *zap.Logger
}

func NewLocalStore(root Location, log *zap.Logger) *LocalStore {
	return &LocalStore{root: root, log: log}
}

func (s *LocalStore) Root() Location { return s.root }

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.root.Prefix, filepath.FromSlash(key))
}

func (s *LocalStore) List(ctx context.Context, pattern string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// I/O errors (a missing root, unreadable dirs) are ignored and yield no matches.
	matches, err := doublestar.Glob(os.DirFS(s.root.Prefix), pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to glob %s in %s: %w", pattern, s.root.Prefix, err)
	}

	keys := make([]string, 0, len(matches))
	for _, m := range matches {
		info, err := os.Stat(s.path(m))
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		keys = append(keys, m)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *LocalStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path(key))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", key, err)
	}
	return f, nil
}

// Put writes to a temp file next to the target and renames it into place.
func (s *LocalStore) Put(ctx context.Context, key string, body io.Reader, _ map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	target := s.path(key)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", key, err)
	}
	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to move %s into place: %w", key, err)
	}
	return nil
}

func (s *LocalStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	dir := s.path(prefix)
	deleted := 0
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			deleted++
		}
		return nil
	})
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to scan %s: %w", dir, err)
	}

	if err := os.RemoveAll(dir); err != nil {
		return 0, fmt.Errorf("failed to remove %s: %w", dir, err)
	}
	return deleted, nil
}

// Probe creates the root directory and writes then removes a marker file.
func (s *LocalStore) Probe(ctx context.Context) error {
	if err := os.MkdirAll(s.root.Prefix, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", s.root.Prefix, err)
	}
	marker := s.path(probeKey)
	if err := os.WriteFile(marker, []byte("local store test successful"), 0o644); err != nil {
		return fmt.Errorf("local write test failed: %w", err)
	}
	if err := os.Remove(marker); err != nil {
		s.log.Warn("failed to clean up probe file", zap.String("path", marker), zap.Error(err))
	}
	return ctx.Err()
}
