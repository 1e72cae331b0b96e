package dsync

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// LargeTreeEntries is the snapshot size above which a comparison is
// announced before it starts.
const LargeTreeEntries = 1000

// ErrKindMismatch is returned when a path is a file on one side and a
// directory on the other. Such paths are never synced.
var ErrKindMismatch = errors.New("file on one side, directory on the other")

// Side names one of the two snapshots being compared.
type Side int

const (
	SideCurrent Side = iota
	SidePrevious
)

func (s Side) String() string {
	if s == SidePrevious {
		return "previous"
	}
	return "current"
}

// Other returns the opposite side.
func (s Side) Other() Side {
	if s == SidePrevious {
		return SideCurrent
	}
	return SidePrevious
}

// DiffResult classifies relative paths into three disjoint sets. It is
// computed once per DiffEngine and never changes afterwards.
type DiffResult struct {
	added      PathSet
	deleted    PathSet
	changed    PathSet
	candidates PathSet
	conflicts  PathSet
	sources    map[string]Side
}

// New lists paths present only in the current snapshot.
func (r *DiffResult) New() []string { return r.added.Sorted() }

// Deleted lists paths present only in the previous snapshot.
func (r *DiffResult) Deleted() []string { return r.deleted.Sorted() }

// Changed lists paths present on both sides whose content differs and
// whose copy on one side is strictly newer than the other.
func (r *DiffResult) Changed() []string { return r.changed.Sorted() }

// Candidates lists every file present on both sides whose fingerprints
// differ, whether or not the content check confirmed a change.
func (r *DiffResult) Candidates() []string { return r.candidates.Sorted() }

// Conflicts lists candidates that are a file on one side and a directory
// on the other. They are in none of the three sets.
func (r *DiffResult) Conflicts() []string { return r.conflicts.Sorted() }

// Source reports which side holds the newer copy of a changed path.
func (r *DiffResult) Source(path string) (Side, bool) {
	s, ok := r.sources[path]
	return s, ok
}

func (r *DiffResult) IsNew(path string) bool     { return r.added.Contains(path) }
func (r *DiffResult) IsDeleted(path string) bool { return r.deleted.Contains(path) }
func (r *DiffResult) IsChanged(path string) bool { return r.changed.Contains(path) }

// Empty reports whether the two snapshots are in agreement.
func (r *DiffResult) Empty() bool {
	return r.added.Len() == 0 && r.deleted.Len() == 0 && r.changed.Len() == 0
}

// DiffEngine compares a current and a previous snapshot. Both are taken
// relative on construction and every path under a symlink recorded by
// either side is removed from both.
//
// A DiffEngine is not safe for concurrent use. Build a new one for a fresh
// comparison.
type DiffEngine struct {
	fsys     FilesystemManager
	current  *Snapshot
	previous *Snapshot
	logger   Logger

	result *DiffResult
}

// NewDiffEngine prepares a comparison of current against previous.
func NewDiffEngine(current, previous *Snapshot, logger Logger) *DiffEngine {
	logger = orNop(logger)

	cur := current.Relative()
	prev := previous.Relative()

	links := NewPathSet(cur.Symlinks(true)...).Union(NewPathSet(prev.Symlinks(true)...))
	if links.Len() > 0 {
		logger.Debug("excluding symlinked paths from comparison", "count", links.Len())
		cur = cur.Without(links)
		prev = prev.Without(links)
	}

	if cur.Len() > LargeTreeEntries || prev.Len() > LargeTreeEntries {
		logger.Info("comparing large trees, this may take a while",
			"current", cur.Dir(), "current_entries", cur.Len(),
			"previous", prev.Dir(), "previous_entries", prev.Len())
	}

	return &DiffEngine{
		fsys:     current.fsys,
		current:  cur,
		previous: prev,
		logger:   logger,
	}
}

func (d *DiffEngine) Current() *Snapshot  { return d.current }
func (d *DiffEngine) Previous() *Snapshot { return d.previous }

// Dir returns the base directory of one side.
func (d *DiffEngine) Dir(side Side) string {
	if side == SidePrevious {
		return d.previous.dir
	}
	return d.current.dir
}

// New, Deleted and Changed are shortcuts into Result.
func (d *DiffEngine) New() []string     { return d.Result().New() }
func (d *DiffEngine) Deleted() []string { return d.Result().Deleted() }
func (d *DiffEngine) Changed() []string { return d.Result().Changed() }

// Result computes the classification on first use and returns the same
// value on every later call.
func (d *DiffEngine) Result() *DiffResult {
	if d.result == nil {
		d.result = d.compute()
	}
	return d.result
}

func (d *DiffEngine) compute() *DiffResult {
	r := &DiffResult{
		added:      make(PathSet),
		deleted:    make(PathSet),
		changed:    make(PathSet),
		candidates: make(PathSet),
		conflicts:  make(PathSet),
		sources:    make(map[string]Side),
	}

	for p := range d.current.entries {
		if _, ok := d.previous.entries[p]; !ok {
			r.added.Add(p)
		}
	}
	for p := range d.previous.entries {
		if _, ok := d.current.entries[p]; !ok {
			r.deleted.Add(p)
		}
	}

	ignore := r.added.Union(r.deleted)
	modsC := d.current.Fingerprints(ignore)
	modsP := d.previous.Fingerprints(ignore)

	// A fingerprint seen on both sides is unchanged. Whatever is left is a
	// candidate that still needs its bytes compared.
	var pending []string
	for fp, p := range modsC {
		if _, ok := modsP[fp]; !ok {
			pending = append(pending, p)
		}
	}
	for fp, p := range modsP {
		if _, ok := modsC[fp]; !ok {
			pending = append(pending, p)
		}
	}
	sort.Strings(pending)

	contentDiffers := make(map[string]bool)
	for _, p := range pending {
		side, rel, ok := d.locate(p)
		if !ok {
			d.logger.Warn("candidate outside both trees", "path", p)
			continue
		}
		if !d.current.Contains(rel) || !d.previous.Contains(rel) {
			continue
		}
		r.candidates.Add(rel)
		if r.changed.Contains(rel) || d.current.dir == d.previous.dir {
			// A tree compared with its own saved state has only one copy of
			// each file, so there are no bytes to compare.
			continue
		}

		differs, seen := contentDiffers[rel]
		if !seen {
			var err error
			differs, err = d.ContentChanged(rel)
			if errors.Is(err, ErrKindMismatch) {
				d.logger.Warn("path is a file on one side and a directory on the other, skipping", "path", rel)
				r.conflicts.Add(rel)
				differs = false
			} else if err != nil {
				d.logger.Warn("cannot compare content, skipping", "path", rel, "error", err)
				differs = false
			}
			contentDiffers[rel] = differs
		}
		if !differs {
			continue
		}

		self := filepath.Join(d.Dir(side), rel)
		other := filepath.Join(d.Dir(side.Other()), rel)
		newer, err := d.isNewer(self, other)
		if err != nil {
			d.logger.Warn("cannot compare modification times, skipping", "path", rel, "error", err)
			continue
		}
		if !newer {
			continue
		}
		r.changed.Add(rel)
		r.sources[rel] = side
	}

	d.logger.Debug("diff computed",
		"new", r.added.Len(), "deleted", r.deleted.Len(),
		"changed", r.changed.Len(), "candidates", r.candidates.Len(),
		"conflicts", r.conflicts.Len())
	return r
}

// isNewer reports whether a was modified strictly after b, at millisecond
// resolution.
func (d *DiffEngine) isNewer(a, b string) (bool, error) {
	ia, err := d.fsys.Stat(a)
	if err != nil {
		return false, err
	}
	ib, err := d.fsys.Stat(b)
	if err != nil {
		return false, err
	}
	return ia.ModTime().UnixMilli() > ib.ModTime().UnixMilli(), nil
}

// ContentChanged reports whether the CRC32 of path differs between the two
// sides. Directories never differ. A path that is a directory on only one
// side yields ErrKindMismatch.
func (d *DiffEngine) ContentChanged(path string) (bool, error) {
	rel, err := d.MakeRelative(path)
	if err != nil {
		return false, err
	}
	a := filepath.Join(d.current.dir, rel)
	b := filepath.Join(d.previous.dir, rel)

	ia, err := d.fsys.Stat(a)
	if err != nil {
		return false, err
	}
	ib, err := d.fsys.Stat(b)
	if err != nil {
		return false, err
	}
	if ia.IsDir() != ib.IsDir() {
		return false, fmt.Errorf("%w: %s", ErrKindMismatch, rel)
	}
	if ia.IsDir() {
		d.logger.Warn("content comparison requested for a directory", "path", rel)
		return false, nil
	}

	ca, err := Checksum(d.fsys, a)
	if err != nil {
		return false, err
	}
	cb, err := Checksum(d.fsys, b)
	if err != nil {
		return false, err
	}
	return ca != cb, nil
}

// MakeRelative strips whichever base directory contains path. Relative
// paths are returned cleaned.
func (d *DiffEngine) MakeRelative(path string) (string, error) {
	if !filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	_, rel, ok := d.locate(path)
	if !ok {
		return "", fmt.Errorf("path %s is outside %s and %s", path, d.current.dir, d.previous.dir)
	}
	return rel, nil
}

// ComplementPath maps an absolute path on one side to the same relative
// location on the other.
func (d *DiffEngine) ComplementPath(path string) (string, error) {
	side, rel, ok := d.locate(path)
	if !ok {
		return "", fmt.Errorf("path %s is outside %s and %s", path, d.current.dir, d.previous.dir)
	}
	return filepath.Join(d.Dir(side.Other()), rel), nil
}

// ComplementDirectory returns the base directory opposite the one
// containing path.
func (d *DiffEngine) ComplementDirectory(path string) (string, error) {
	side, _, ok := d.locate(path)
	if !ok {
		return "", fmt.Errorf("path %s is outside %s and %s", path, d.current.dir, d.previous.dir)
	}
	return d.Dir(side.Other()), nil
}

// locate finds the side whose base is the longest prefix of path.
func (d *DiffEngine) locate(path string) (Side, string, bool) {
	var (
		side    Side
		rel     string
		longest = -1
	)
	for _, s := range []Side{SideCurrent, SidePrevious} {
		dir := d.Dir(s)
		r, ok := within(dir, path)
		if ok && len(dir) > longest {
			side, rel, longest = s, r, len(dir)
		}
	}
	return side, rel, longest >= 0
}

func within(dir, path string) (string, bool) {
	rel, err := filepath.Rel(dir, filepath.Clean(path))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}
