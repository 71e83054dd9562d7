package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"wastedraft/internal/storage"
)

// Store keeps blobs on the local filesystem under BaseDir.
type Store struct {
	BaseDir string
	BaseURL string
}

func New(baseDir, baseURL string) *Store {
	return &Store{BaseDir: baseDir, BaseURL: baseURL}
}

func (s *Store) Write(ctx context.Context, key string, r io.Reader, _ string) (storage.Location, error) {
	if s == nil {
		return storage.Location{}, fmt.Errorf("local store uninitialized")
	}
	if err := ctx.Err(); err != nil {
		return storage.Location{}, err
	}

	targetPath, err := s.resolve(key)
	if err != nil {
		return storage.Location{}, err
	}
	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return storage.Location{}, fmt.Errorf("ensure dir: %w", err)
	}

	tempPath := targetPath + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return storage.Location{}, fmt.Errorf("create temp file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, r); err != nil {
		file.Close()
		os.Remove(tempPath)
		return storage.Location{}, fmt.Errorf("write file: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return storage.Location{}, fmt.Errorf("sync file: %w", err)
	}

	if err := file.Close(); err != nil {
		return storage.Location{}, fmt.Errorf("close file: %w", err)
	}

	if err := os.Rename(tempPath, targetPath); err != nil {
		return storage.Location{}, fmt.Errorf("rename temp file: %w", err)
	}

	loc := storage.Location{Path: key}
	if s.BaseURL != "" {
		if u, err := url.JoinPath(s.BaseURL, filepath.ToSlash(key)); err == nil {
			loc.URL = u
		}
	}
	return loc, nil
}

func (s *Store) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	if s == nil {
		return nil, fmt.Errorf("local store uninitialized")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	targetPath, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(targetPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
		}
		return nil, fmt.Errorf("open file: %w", err)
	}
	return file, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if s == nil {
		return fmt.Errorf("local store uninitialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	targetPath, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(targetPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", storage.ErrNotFound, key)
		}
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

// resolve keeps keys inside BaseDir.
func (s *Store) resolve(key string) (string, error) {
	clean := filepath.Clean("/" + filepath.FromSlash(key))
	target := filepath.Join(s.BaseDir, clean)
	base := filepath.Clean(s.BaseDir)
	if target != base && !strings.HasPrefix(target, base+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return target, nil
}
