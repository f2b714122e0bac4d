package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrPathTraversal is returned when a relative path escapes the base directory.
var ErrPathTraversal = errors.New("path escapes storage directory")

// LocalStorage persists export runs on disk, one directory per job, under a
// base directory.
type LocalStorage struct {
	baseDir string
}

// NewLocalStorage ensures the base directory exists and returns a handle.
func NewLocalStorage(baseDir string) (*LocalStorage, error) {
	if baseDir == "" {
		baseDir = "./exports"
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve exports directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create exports directory: %w", err)
	}
	return &LocalStorage{baseDir: abs}, nil
}

// BaseDir returns the absolute base directory.
func (s *LocalStorage) BaseDir() string {
	return s.baseDir
}

// JobDir returns the directory holding the outputs of a job. The directory is
// not created; the export run creates it once its budget check passes.
func (s *LocalStorage) JobDir(jobID string) (string, error) {
	return s.resolve(jobID)
}

// Save atomically writes the given bytes to the relative path under the base dir.
func (s *LocalStorage) Save(filename string, data []byte) (string, error) {
	path, err := s.resolve(filename)
	if err != nil {
		return "", err
	}
	if _, err := WriteFileAtomic(path, data); err != nil {
		return "", fmt.Errorf("write export file: %w", err)
	}
	return filename, nil
}

// SaveStream atomically copies from reader into the target file path.
func (s *LocalStorage) SaveStream(filename string, r io.Reader) (string, error) {
	path, err := s.resolve(filename)
	if err != nil {
		return "", err
	}
	if _, err := CopyFileAtomic(path, r); err != nil {
		return "", fmt.Errorf("write export stream: %w", err)
	}
	return filename, nil
}

// Open returns a read-only handle for the stored file.
func (s *LocalStorage) Open(filename string) (*os.File, error) {
	path, err := s.resolve(filename)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open export file: %w", err)
	}
	return file, nil
}

// Delete removes a stored file or job directory if present.
func (s *LocalStorage) Delete(filename string) error {
	path, err := s.resolve(filename)
	if err != nil {
		return err
	}
	if path == s.baseDir {
		return ErrPathTraversal
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("delete export file: %w", err)
	}
	return nil
}

// Rel converts an absolute path inside the base dir into a relative one.
func (s *LocalStorage) Rel(path string) (string, error) {
	rel, err := filepath.Rel(s.baseDir, path)
	if err != nil {
		return "", fmt.Errorf("relative export path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}
	return filepath.ToSlash(rel), nil
}

// CleanupOlderThan removes job directories (and stray files) at the top level
// whose modification time is older than ttl and returns the deleted names.
func (s *LocalStorage) CleanupOlderThan(ttl time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-ttl)
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("cleanup exports: %w", err)
	}
	deleted := make([]string, 0)
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return deleted, fmt.Errorf("cleanup exports: %w", err)
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.baseDir, entry.Name())); err != nil {
			return deleted, fmt.Errorf("cleanup exports: %w", err)
		}
		deleted = append(deleted, entry.Name())
	}
	return deleted, nil
}

// Path exposes the underlying absolute path (useful for debugging).
func (s *LocalStorage) Path(filename string) string {
	path, err := s.resolve(filename)
	if err != nil {
		return ""
	}
	return path
}

func (s *LocalStorage) resolve(filename string) (string, error) {
	cleaned := filepath.Join(s.baseDir, filepath.Clean("/"+filepath.FromSlash(filename)))
	if cleaned != s.baseDir && !strings.HasPrefix(cleaned, s.baseDir+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}
	return cleaned, nil
}
