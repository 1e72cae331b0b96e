package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"dsync-go/internal/dsync"
)

// IndexFileName is the version index inside a version store.
const IndexFileName = ".index.json"

var (
	// ErrNoVersions is returned when a path has never been archived.
	ErrNoVersions = errors.New("no versions recorded")

	// ErrBadVersionPath is returned for a path that is not <path>.<millis>
	// inside the version store.
	ErrBadVersionPath = errors.New("not a version path")

	// ErrForeignStore is returned when a version store records a different tree.
	ErrForeignStore = errors.New("version store belongs to another tree")
)

// VersionArchive is a filesystem-based implementation of the dsync.Archive
// interface. Versions of paths in the tree under root are stored as:
//
//	<dir>/
//	  .index.json                  (tree root, relative path -> [epoch millis])
//	  <relative path>.<millis>     (one copy per version, file or directory)
//
// dir defaults to <root>/.versions.directoryIndex. Versions are never pruned.
type VersionArchive struct {
	fsys   dsync.FilesystemManager
	root   string
	dir    string
	clock  dsync.Clock
	logger dsync.Logger

	index  map[string][]int64
	last   string
	shared bool // store lives outside the tree and must record its root
}

type savedIndex struct {
	Root     string             `json:"root,omitempty"`
	Versions map[string][]int64 `json:"versions"`
}

// OpenVersionArchive opens, creating if needed, the version store for root.
// An empty dir places the store inside the tree. A store that cannot be
// written is an error. A store given by dir records its tree root, and
// opening it for a different root is an error.
func OpenVersionArchive(fsys dsync.FilesystemManager, root, dir string, clock dsync.Clock, logger dsync.Logger) (*VersionArchive, error) {
	shared := dir != ""
	if !shared {
		dir = filepath.Join(root, dsync.VersionsDirName)
	}
	if clock == nil {
		clock = dsync.RealClock{}
	}
	if logger == nil {
		logger = dsync.NewNopLogger()
	}

	if err := fsys.MkdirAll(dir); err != nil {
		return nil, fmt.Errorf("failed to create version store: %w", err)
	}

	a := &VersionArchive{
		fsys:   fsys,
		root:   root,
		dir:    dir,
		clock:  clock,
		logger: logger,
		index:  make(map[string][]int64),
		shared: shared,
	}
	if err := a.loadIndex(); err != nil {
		return nil, err
	}

	if err := a.saveIndex(); err != nil {
		return nil, fmt.Errorf("version store %s is not writable: %w", dir, err)
	}
	return a, nil
}

func (a *VersionArchive) Root() string { return a.root }

// Dir is the version store directory.
func (a *VersionArchive) Dir() string { return a.dir }

// LastArchived is the store path written by the latest successful AddVersion.
func (a *VersionArchive) LastArchived() string { return a.last }

// AddVersion records a new version of relPath stamped with the current
// time, then copies the file or directory into the store. The record is
// kept even if the copy fails. A path that does not exist is not recorded
// and the error wraps fs.ErrNotExist.
func (a *VersionArchive) AddVersion(relPath string) (string, error) {
	rel, err := cleanRel(relPath)
	if err != nil {
		return "", err
	}

	src := filepath.Join(a.root, rel)
	if _, err := a.fsys.Lstat(src); err != nil {
		return "", fmt.Errorf("archiving %s: %w", rel, err)
	}

	ms := a.clock.Now().UnixMilli()
	if v := a.index[rel]; len(v) > 0 && ms <= v[len(v)-1] {
		ms = v[len(v)-1] + 1
	}
	a.index[rel] = append(a.index[rel], ms)
	if err := a.saveIndex(); err != nil {
		a.logger.Warn("cannot save version index", "dir", a.dir, "error", err)
	}

	target := a.VersionPath(rel, time.UnixMilli(ms))
	if err := a.copyTree(src, target); err != nil {
		a.logger.Warn("version recorded but copy failed", "path", rel, "target", target, "error", err)
		return target, fmt.Errorf("archiving %s: %w", rel, err)
	}

	a.last = target
	a.logger.Debug("version archived", "path", rel, "target", target)
	return target, nil
}

// Recover copies a stored version back to its original location,
// overwriting what is there. versionedPath may be absolute or relative to
// the store.
func (a *VersionArchive) Recover(versionedPath string) error {
	p := versionedPath
	if !filepath.IsAbs(p) {
		p = filepath.Join(a.dir, p)
	}

	rel, ms, err := a.parseVersionPath(p)
	if err != nil {
		a.logger.Warn("cannot recover", "path", versionedPath, "error", err)
		return err
	}

	original := filepath.Join(a.root, rel)
	if err := a.copyTree(p, original); err != nil {
		a.logger.Warn("recovery failed", "version", p, "target", original, "error", err)
		return fmt.Errorf("recovering %s: %w", rel, err)
	}

	a.logger.Info("version recovered", "path", rel, "version", time.UnixMilli(ms).UTC().Format(time.RFC3339Nano))
	return nil
}

// RecoverLatest recovers the newest recorded version of relPath.
func (a *VersionArchive) RecoverLatest(relPath string) error {
	rel, err := cleanRel(relPath)
	if err != nil {
		return err
	}
	v := a.index[rel]
	if len(v) == 0 {
		a.logger.Warn("cannot recover", "path", rel, "error", ErrNoVersions)
		return fmt.Errorf("%w: %s", ErrNoVersions, rel)
	}
	return a.Recover(a.VersionPath(rel, time.UnixMilli(v[len(v)-1])))
}

// Versions lists the recorded versions of relPath, oldest first.
func (a *VersionArchive) Versions(relPath string) []time.Time {
	rel, err := cleanRel(relPath)
	if err != nil {
		return nil
	}
	out := make([]time.Time, 0, len(a.index[rel]))
	for _, ms := range a.index[rel] {
		out = append(out, time.UnixMilli(ms))
	}
	return out
}

// VersionPath is where the version of relPath taken at t lives.
func (a *VersionArchive) VersionPath(relPath string, t time.Time) string {
	return filepath.Join(a.dir, filepath.Clean(relPath)+"."+strconv.FormatInt(t.UnixMilli(), 10))
}

// Paths lists every archived relative path in lexical order.
func (a *VersionArchive) Paths() []string {
	out := make([]string, 0, len(a.index))
	for p := range a.index {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (a *VersionArchive) parseVersionPath(p string) (string, int64, error) {
	r, err := filepath.Rel(a.dir, filepath.Clean(p))
	if err != nil || r == "." || strings.HasPrefix(r, "..") {
		return "", 0, fmt.Errorf("%w: %s is outside %s", ErrBadVersionPath, p, a.dir)
	}
	ext := filepath.Ext(r)
	if len(ext) < 2 {
		return "", 0, fmt.Errorf("%w: %s has no timestamp suffix", ErrBadVersionPath, p)
	}
	ms, err := strconv.ParseInt(ext[1:], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %s has no timestamp suffix", ErrBadVersionPath, p)
	}
	return strings.TrimSuffix(r, ext), ms, nil
}

// copyTree copies a file or a directory tree, keeping modification times.
// Symlinks are skipped. Every child is attempted; the first error is returned.
func (a *VersionArchive) copyTree(src, dst string) error {
	info, err := a.fsys.Lstat(src)
	if err != nil {
		return err
	}

	switch mode := info.Mode(); {
	case mode.IsRegular():
		if err := a.fsys.MkdirAll(filepath.Dir(dst)); err != nil {
			return err
		}
		if err := a.fsys.CopyFile(src, dst); err != nil {
			return err
		}
		return a.fsys.Chtimes(dst, info.ModTime())

	case mode.IsDir():
		if err := a.fsys.MkdirAll(dst); err != nil {
			return err
		}
		children, err := a.fsys.ReadDir(src)
		if err != nil {
			return err
		}
		var firstErr error
		for _, c := range children {
			if c.Name() == dsync.VersionsDirName {
				continue
			}
			if err := a.copyTree(filepath.Join(src, c.Name()), filepath.Join(dst, c.Name())); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if firstErr != nil {
			return firstErr
		}
		return a.fsys.Chtimes(dst, info.ModTime())

	default:
		a.logger.Debug("not archiving special file", "path", src, "mode", mode.String())
		return nil
	}
}

// loadIndex reads the saved index. An unreadable or corrupt index starts
// empty; a shared index written for another root is an error.
func (a *VersionArchive) loadIndex() error {
	path := filepath.Join(a.dir, IndexFileName)
	data, err := a.fsys.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			a.logger.Warn("cannot read version index, starting empty", "path", path, "error", err)
		}
		return nil
	}

	var idx savedIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		a.logger.Warn("corrupt version index, starting empty", "path", path, "error", err)
		return nil
	}
	if a.shared && idx.Root != "" && filepath.Clean(filepath.FromSlash(idx.Root)) != filepath.Clean(a.root) {
		return fmt.Errorf("%w: %s records %s, not %s", ErrForeignStore, a.dir, idx.Root, a.root)
	}
	for p, v := range idx.Versions {
		sort.Slice(v, func(i, j int) bool { return v[i] < v[j] })
		a.index[filepath.FromSlash(p)] = v
	}
	return nil
}

func (a *VersionArchive) saveIndex() error {
	idx := savedIndex{Versions: make(map[string][]int64, len(a.index))}
	if a.shared {
		idx.Root = filepath.ToSlash(a.root)
	}
	for p, v := range a.index {
		idx.Versions[filepath.ToSlash(p)] = v
	}
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding version index: %w", err)
	}
	return a.fsys.WriteFile(filepath.Join(a.dir, IndexFileName), data)
}

func cleanRel(relPath string) (string, error) {
	rel := filepath.Clean(relPath)
	if rel == "." || filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid relative path %q", relPath)
	}
	return rel, nil
}

// Compile-time check that VersionArchive implements dsync.Archive.
var _ dsync.Archive = (*VersionArchive)(nil)
