package dsync

import (
	"io"
	"io/fs"
	"time"
)

// FilesystemManager is everything the engines need from the disk.
// All paths are absolute OS paths.
type FilesystemManager interface {
	// Lstat describes path without following a trailing symlink.
	Lstat(path string) (fs.FileInfo, error)

	// Stat describes path, following symlinks.
	Stat(path string) (fs.FileInfo, error)

	// ReadDir lists the entries of a directory.
	ReadDir(path string) ([]fs.DirEntry, error)

	// RealPath returns the absolute, symlink-free form of path.
	RealPath(path string) (string, error)

	// Open opens a regular file for reading.
	Open(path string) (io.ReadCloser, error)

	// CopyFile replaces dst with the content and permissions of src.
	// The replacement is atomic: readers see either the old or the new file.
	CopyFile(src, dst string) error

	// Chtimes sets the modification time of path.
	Chtimes(path string, mtime time.Time) error

	MkdirAll(path string) error
	Remove(path string) error
	RemoveAll(path string) error

	// WriteFile atomically replaces path with data.
	WriteFile(path string, data []byte) error
	ReadFile(path string) ([]byte, error)
}
