package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// WriteFileAtomic writes data to path through a temp file in the same
// directory followed by a rename, replacing any existing file.
func WriteFileAtomic(path string, data []byte) (int64, error) {
	return writeAtomic(path, func(w io.Writer) (int64, error) {
		n, err := w.Write(data)
		return int64(n), err
	})
}

// CopyFileAtomic streams r into path with the same temp+rename semantics.
func CopyFileAtomic(path string, r io.Reader) (int64, error) {
	return writeAtomic(path, func(w io.Writer) (int64, error) {
		return io.Copy(w, r)
	})
}

func writeAtomic(path string, fill func(io.Writer) (int64, error)) (int64, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("prepare directory: %w", err)
	}

	// the temp file lives next to the target so the rename stays on one volume
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	n, err := fill(tmp)
	if err != nil {
		return 0, fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		return 0, fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return 0, fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return 0, fmt.Errorf("rename into place: %w", err)
	}
	_ = syncDir(dir)
	return n, nil
}

func syncDir(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck
	return f.Sync()
}

// WriteSet records the files and directories written during one export run so
// they can be removed together if the run fails or is cancelled. Files that
// existed before the run are kept aside and put back on rollback.
type WriteSet struct {
	mu      sync.Mutex
	files   []string
	dirs    []string
	backups map[string]string
}

// NewWriteSet returns an empty set.
func NewWriteSet() *WriteSet {
	return &WriteSet{backups: make(map[string]string)}
}

// WriteFile atomically writes data to path and records it.
func (s *WriteSet) WriteFile(path string, data []byte) (int64, error) {
	return s.write(path, func() (int64, error) { return WriteFileAtomic(path, data) })
}

// CopyFile atomically copies r into path and records it.
func (s *WriteSet) CopyFile(path string, r io.Reader) (int64, error) {
	return s.write(path, func() (int64, error) { return CopyFileAtomic(path, r) })
}

func (s *WriteSet) write(path string, do func() (int64, error)) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	owned := s.owns(path)
	backup := ""
	if !owned {
		var err error
		if backup, err = keepAside(path); err != nil {
			return 0, err
		}
	}
	n, err := do()
	if err != nil {
		if backup != "" {
			_ = os.Remove(backup)
		}
		return 0, err
	}
	if !owned {
		s.files = append(s.files, path)
		if backup != "" {
			s.backups[path] = backup
		}
	}
	return n, nil
}

func (s *WriteSet) owns(path string) bool {
	for _, f := range s.files {
		if f == path {
			return true
		}
	}
	return false
}

// keepAside hard-links an existing regular file at path to a hidden sibling
// and returns its name, or "" when there is nothing to keep.
func keepAside(path string) (string, error) {
	info, err := os.Lstat(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("inspect existing file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", nil
	}
	backup := filepath.Join(filepath.Dir(path), fmt.Sprintf(".%s.prev-%d", filepath.Base(path), time.Now().UnixNano()))
	if err := os.Link(path, backup); err == nil {
		return backup, nil
	}
	src, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open existing file: %w", err)
	}
	defer src.Close() //nolint:errcheck
	if _, err := CopyFileAtomic(backup, src); err != nil {
		return "", fmt.Errorf("keep existing file: %w", err)
	}
	return backup, nil
}

// MkdirAll creates dir and records it when it did not exist before.
func (s *WriteSet) MkdirAll(dir string) error {
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	s.mu.Lock()
	s.dirs = append(s.dirs, dir)
	s.mu.Unlock()
	return nil
}

// Files returns the paths written so far.
func (s *WriteSet) Files() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.files...)
}

// Commit drops the kept-aside copies of replaced files. The set is empty
// afterwards.
func (s *WriteSet) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, backup := range s.backups {
		if err := os.Remove(backup); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = fmt.Errorf("remove %s: %w", backup, err)
		}
	}
	s.reset()
	return firstErr
}

// Rollback removes every recorded file, restoring the previous content of
// files that existed before the run, then removes every recorded directory
// that is left empty, newest first.
func (s *WriteSet) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for i := len(s.files) - 1; i >= 0; i-- {
		path := s.files[i]
		var err error
		if backup, ok := s.backups[path]; ok {
			err = os.Rename(backup, path)
		} else if err = os.Remove(path); os.IsNotExist(err) {
			err = nil
		}
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("roll back %s: %w", path, err)
		}
	}
	for i := len(s.dirs) - 1; i >= 0; i-- {
		_ = os.Remove(s.dirs[i])
	}
	s.reset()
	return firstErr
}

func (s *WriteSet) reset() {
	s.files = nil
	s.dirs = nil
	s.backups = make(map[string]string)
}
