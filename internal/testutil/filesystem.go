package testutil

import (
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"dsync-go/internal/dsync"
	dsfs "dsync-go/internal/fs"
)

// FaultyFilesystem wraps the real filesystem and fails chosen operations on
// chosen paths. Operation names are the FilesystemManager method names.
type FaultyFilesystem struct {
	dsync.FilesystemManager

	mu     sync.Mutex
	faults map[string]error
	calls  map[string]int
}

// NewFaultyFilesystem wraps the OS filesystem with no faults configured.
func NewFaultyFilesystem() *FaultyFilesystem {
	return &FaultyFilesystem{
		FilesystemManager: dsfs.NewOSFilesystemManager(),
		faults:            make(map[string]error),
		calls:             make(map[string]int),
	}
}

// Fail makes op on path return err from now on.
func (f *FaultyFilesystem) Fail(op, path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults[faultKey(op, path)] = err
}

// Heal removes every configured fault.
func (f *FaultyFilesystem) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = make(map[string]error)
}

// Calls reports how many times op was invoked on path.
func (f *FaultyFilesystem) Calls(op, path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[faultKey(op, path)]
}

func faultKey(op, path string) string {
	return op + " " + filepath.Clean(path)
}

func (f *FaultyFilesystem) check(op, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := faultKey(op, path)
	f.calls[key]++
	if err, ok := f.faults[key]; ok {
		return fmt.Errorf("%s %s: %w", op, path, err)
	}
	return nil
}

func (f *FaultyFilesystem) Lstat(path string) (fs.FileInfo, error) {
	if err := f.check("Lstat", path); err != nil {
		return nil, err
	}
	return f.FilesystemManager.Lstat(path)
}

func (f *FaultyFilesystem) Stat(path string) (fs.FileInfo, error) {
	if err := f.check("Stat", path); err != nil {
		return nil, err
	}
	return f.FilesystemManager.Stat(path)
}

func (f *FaultyFilesystem) ReadDir(path string) ([]fs.DirEntry, error) {
	if err := f.check("ReadDir", path); err != nil {
		return nil, err
	}
	return f.FilesystemManager.ReadDir(path)
}

func (f *FaultyFilesystem) Open(path string) (io.ReadCloser, error) {
	if err := f.check("Open", path); err != nil {
		return nil, err
	}
	return f.FilesystemManager.Open(path)
}

// CopyFile faults are keyed by the destination path.
func (f *FaultyFilesystem) CopyFile(src, dst string) error {
	if err := f.check("CopyFile", dst); err != nil {
		return err
	}
	return f.FilesystemManager.CopyFile(src, dst)
}

func (f *FaultyFilesystem) Chtimes(path string, mtime time.Time) error {
	if err := f.check("Chtimes", path); err != nil {
		return err
	}
	return f.FilesystemManager.Chtimes(path, mtime)
}

func (f *FaultyFilesystem) Remove(path string) error {
	if err := f.check("Remove", path); err != nil {
		return err
	}
	return f.FilesystemManager.Remove(path)
}

func (f *FaultyFilesystem) RemoveAll(path string) error {
	if err := f.check("RemoveAll", path); err != nil {
		return err
	}
	return f.FilesystemManager.RemoveAll(path)
}

func (f *FaultyFilesystem) WriteFile(path string, data []byte) error {
	if err := f.check("WriteFile", path); err != nil {
		return err
	}
	return f.FilesystemManager.WriteFile(path, data)
}

// Compile-time check
var _ dsync.FilesystemManager = (*FaultyFilesystem)(nil)
