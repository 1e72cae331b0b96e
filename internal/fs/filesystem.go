package fs

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"dsync-go/internal/dsync"
)

// OSFilesystemManager is the real filesystem implementation of FilesystemManager.
type OSFilesystemManager struct{}

// NewOSFilesystemManager creates a filesystem manager that operates on the real filesystem.
func NewOSFilesystemManager() *OSFilesystemManager {
	return &OSFilesystemManager{}
}

func (m *OSFilesystemManager) Lstat(path string) (fs.FileInfo, error) { return os.Lstat(path) }
func (m *OSFilesystemManager) Stat(path string) (fs.FileInfo, error)  { return os.Stat(path) }

func (m *OSFilesystemManager) ReadDir(path string) ([]fs.DirEntry, error) {
	return os.ReadDir(path)
}

// RealPath makes path absolute and resolves every symlink in it.
func (m *OSFilesystemManager) RealPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving absolute path: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	return resolved, nil
}

// Open opens a file for reading.
func (m *OSFilesystemManager) Open(path string) (io.ReadCloser, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("cannot open directory as file: %s", path)
	}
	return os.Open(path)
}

// CopyFile copies src over dst through a temp file in dst's directory.
func (m *OSFilesystemManager) CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("not a regular file: %s", src)
	}

	return writeAtomic(dst, in, info.Mode().Perm())
}

func (m *OSFilesystemManager) Chtimes(path string, mtime time.Time) error {
	return os.Chtimes(path, mtime, mtime)
}

func (m *OSFilesystemManager) MkdirAll(path string) error { return os.MkdirAll(path, 0755) }
func (m *OSFilesystemManager) Remove(path string) error   { return os.Remove(path) }
func (m *OSFilesystemManager) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

// WriteFile atomically replaces path with data.
func (m *OSFilesystemManager) WriteFile(path string, data []byte) error {
	return writeAtomic(path, bytes.NewReader(data), 0644)
}

func (m *OSFilesystemManager) ReadFile(path string) ([]byte, error) { return os.ReadFile(path) }

// writeAtomic writes r to a temp file next to dest, then renames it into place.
func writeAtomic(dest string, r io.Reader, perm fs.FileMode) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(dest), dsync.TempFilePrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmpFile, r); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Chmod(perm); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// Compile-time check that OSFilesystemManager implements dsync.FilesystemManager.
var _ dsync.FilesystemManager = (*OSFilesystemManager)(nil)
