package dsync

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"
)

// Names that never become snapshot entries, wherever they appear in a tree.
const (
	StateFileName   = ".dirSync.fileList"
	LastIndexMarker = ".last.directoryIndex"
	VersionsDirName = ".versions.directoryIndex"
	TempFilePrefix  = ".dsync-tmp-"
)

// Snapshot is the recorded set of files and directories of one tree, each
// with the modification time observed while walking. The base directory
// itself is not an entry.
//
// Entries are keyed by absolute path until Relative is called. Symlinks are
// never entries and are never followed; they are kept on a side list.
type Snapshot struct {
	fsys   FilesystemManager
	logger Logger

	dir        string
	separator  string
	ignoreExpr string
	ignore     *regexp.Regexp

	entries  map[string]time.Time
	symlinks []string
	relative bool

	createdAt  time.Time
	lastListed time.Time

	// jsonOnly snapshots were read from a saved state file. They are never
	// walked or saved, and their fingerprints are the stored ones.
	jsonOnly     bool
	fingerprints map[string]string
}

// BuildSnapshot walks dir and records every entry whose relative path does
// not fully match ignoreRegex. An empty ignoreRegex filters nothing.
//
// An unreadable dir or an invalid expression is returned as an error;
// problems with individual entries are logged and skipped.
func BuildSnapshot(fsys FilesystemManager, dir, ignoreRegex string, clock Clock, logger Logger) (*Snapshot, error) {
	s, err := newSnapshot(fsys, dir, ignoreRegex, logger)
	if err != nil {
		return nil, err
	}

	info, err := fsys.Stat(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading base directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("base is not a directory: %s", s.dir)
	}
	if _, err := fsys.ReadDir(s.dir); err != nil {
		return nil, fmt.Errorf("reading base directory: %w", err)
	}

	s.createdAt = orRealClock(clock).Now()
	s.Add(s.dir)

	s.logger.Debug("snapshot built", "dir", s.dir, "entries", len(s.entries), "symlinks", len(s.symlinks))
	return s, nil
}

func newSnapshot(fsys FilesystemManager, dir, ignoreRegex string, logger Logger) (*Snapshot, error) {
	logger = orNop(logger)

	canonical, err := fsys.RealPath(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving base directory %s: %w", dir, err)
	}

	re, err := compileIgnore(ignoreRegex)
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		fsys:       fsys,
		logger:     logger,
		dir:        canonical,
		separator:  string(filepath.Separator),
		ignoreExpr: ignoreRegex,
		ignore:     re,
		entries:    make(map[string]time.Time),
	}, nil
}

// compileIgnore anchors expr so it must match a whole relative path.
func compileIgnore(expr string) (*regexp.Regexp, error) {
	if expr == "" {
		return nil, nil
	}
	re, err := regexp.Compile(`^(?:` + expr + `)$`)
	if err != nil {
		return nil, fmt.Errorf("invalid ignore expression %q: %w", expr, err)
	}
	return re, nil
}

// Add records path and, for a directory, everything beneath it. path may be
// absolute or relative to the base. It reports whether the entry set grew.
func (s *Snapshot) Add(path string) bool {
	if s.jsonOnly {
		s.logger.Debug("saved snapshot is read-only", "path", path)
		return false
	}

	abs := s.abs(path)
	rel, ok := s.rel(abs)
	if !ok {
		s.logger.Warn("path outside snapshot directory", "path", path, "dir", s.dir)
		return false
	}
	if rel == "." {
		return s.addChildren(abs)
	}
	if s.excluded(rel) {
		return false
	}

	info, err := s.fsys.Lstat(abs)
	if err != nil {
		s.logger.Warn("cannot stat path", "path", abs, "error", err)
		return false
	}

	switch mode := info.Mode(); {
	case mode&fs.ModeSymlink != 0:
		s.addSymlink(abs)
		return false
	case mode.IsRegular():
		return s.put(abs, rel, info.ModTime())
	case mode.IsDir():
		grew := s.put(abs, rel, info.ModTime())
		return s.addChildren(abs) || grew
	default:
		s.logger.Debug("skipping special file", "path", abs, "mode", mode.String())
		return false
	}
}

// AddAll adds every path and reports whether any of them grew the set.
func (s *Snapshot) AddAll(paths []string) bool {
	grew := false
	for _, p := range paths {
		if s.Add(p) {
			grew = true
		}
	}
	return grew
}

func (s *Snapshot) addChildren(dir string) bool {
	children, err := s.fsys.ReadDir(dir)
	if err != nil {
		s.logger.Warn("cannot list directory", "path", dir, "error", err)
		return false
	}
	grew := false
	for _, c := range children {
		if s.Add(filepath.Join(dir, c.Name())) {
			grew = true
		}
	}
	return grew
}

func (s *Snapshot) put(abs, rel string, mtime time.Time) bool {
	key := abs
	if s.relative {
		key = rel
	}
	_, existed := s.entries[key]
	s.entries[key] = mtime
	return !existed
}

func (s *Snapshot) addSymlink(abs string) {
	for _, l := range s.symlinks {
		if l == abs {
			return
		}
	}
	s.logger.Debug("skipping symlink", "path", abs)
	s.symlinks = append(s.symlinks, abs)
}

func (s *Snapshot) excluded(rel string) bool {
	base := filepath.Base(rel)
	switch base {
	case StateFileName, LastIndexMarker, VersionsDirName:
		return true
	}
	if strings.HasPrefix(base, TempFilePrefix) {
		return true
	}
	return s.IsIgnored(rel)
}

// IsIgnored reports whether rel fully matches the ignore expression.
func (s *Snapshot) IsIgnored(rel string) bool {
	return s.ignore != nil && s.ignore.MatchString(rel)
}

// abs turns a key or caller-supplied path into an absolute path.
func (s *Snapshot) abs(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(s.dir, path)
}

// rel expresses path relative to the base. ok is false outside the base.
func (s *Snapshot) rel(path string) (string, bool) {
	if !filepath.IsAbs(path) {
		return filepath.Clean(path), true
	}
	rel, err := filepath.Rel(s.dir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}

// key maps a caller path onto the snapshot's own key style.
func (s *Snapshot) key(path string) string {
	if s.relative {
		rel, _ := s.rel(s.abs(path))
		return rel
	}
	return s.abs(path)
}

// Contains reports whether path is an entry.
func (s *Snapshot) Contains(path string) bool {
	_, ok := s.entries[s.key(path)]
	return ok
}

// ModTime returns the time recorded for path.
func (s *Snapshot) ModTime(path string) (time.Time, bool) {
	t, ok := s.entries[s.key(path)]
	return t, ok
}

// Entries returns the entry keys in lexical order.
func (s *Snapshot) Entries() []string {
	out := lo.Keys(s.entries)
	sort.Strings(out)
	return out
}

func (s *Snapshot) Len() int    { return len(s.entries) }
func (s *Snapshot) Empty() bool { return len(s.entries) == 0 }

// Symlinks returns the symlinks found while walking, absolute or relative.
func (s *Snapshot) Symlinks(relative bool) []string {
	out := make([]string, 0, len(s.symlinks))
	for _, l := range s.symlinks {
		if relative {
			if rel, ok := s.rel(l); ok {
				out = append(out, rel)
			}
			continue
		}
		out = append(out, l)
	}
	return out
}

func (s *Snapshot) Dir() string           { return s.dir }
func (s *Snapshot) Separator() string     { return s.separator }
func (s *Snapshot) IgnoreRegex() string   { return s.ignoreExpr }
func (s *Snapshot) CreatedAt() time.Time  { return s.createdAt }
func (s *Snapshot) LastListed() time.Time { return s.lastListed }
func (s *Snapshot) JSONOnly() bool        { return s.jsonOnly }
func (s *Snapshot) IsRelative() bool      { return s.relative }

// Relative returns a copy whose entries are keyed relative to the base.
func (s *Snapshot) Relative() *Snapshot {
	out := s.clone()
	if s.relative {
		return out
	}
	out.entries = make(map[string]time.Time, len(s.entries))
	for p, t := range s.entries {
		if rel, ok := s.rel(p); ok {
			out.entries[rel] = t
		}
	}
	out.relative = true
	return out
}

// Without returns a copy lacking every entry equal to or beneath one of the
// given relative paths.
func (s *Snapshot) Without(paths PathSet) *Snapshot {
	out := s.clone()
	if paths.Len() == 0 {
		return out
	}
	for p := range s.entries {
		rel, ok := s.rel(p)
		if ok && paths.Covers(rel) {
			delete(out.entries, p)
		}
	}
	return out
}

// Fingerprints maps the fingerprint of every regular file, apart from the
// relative paths in ignore, to its canonical absolute path. Saved snapshots
// return their stored map.
func (s *Snapshot) Fingerprints(ignore PathSet) map[string]string {
	out := make(map[string]string)

	if s.jsonOnly {
		for fp, p := range s.fingerprints {
			if rel, ok := s.rel(p); ok && ignore.Contains(rel) {
				continue
			}
			out[fp] = p
		}
		return out
	}

	for key := range s.entries {
		abs := s.abs(key)
		rel, ok := s.rel(abs)
		if !ok || ignore.Contains(rel) {
			continue
		}

		info, err := s.fsys.Lstat(abs)
		if err != nil {
			s.logger.Debug("entry vanished since walk", "path", abs, "error", err)
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}

		resolved, err := s.fsys.RealPath(abs)
		if err != nil {
			s.logger.Warn("cannot resolve canonical path", "path", abs, "error", err)
			resolved = abs
		}
		out[Fingerprint(rel, info.ModTime())] = resolved
	}
	return out
}

func (s *Snapshot) clone() *Snapshot {
	out := *s
	out.entries = make(map[string]time.Time, len(s.entries))
	for p, t := range s.entries {
		out.entries[p] = t
	}
	out.symlinks = append([]string(nil), s.symlinks...)
	if s.fingerprints != nil {
		out.fingerprints = make(map[string]string, len(s.fingerprints))
		for k, v := range s.fingerprints {
			out.fingerprints[k] = v
		}
	}
	return &out
}
