package dsync_test

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"dsync-go/internal/dsync"
	dsfs "dsync-go/internal/fs"
	"dsync-go/internal/testutil"
)

func TestDiffEngine_selfDiffIsEmpty(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	testutil.WriteTree(t, dir, map[string]string{
		"a.txt":       "a",
		"sub/b.txt":   "b",
		"sub/c/d.txt": "d",
		"empty/":      "",
	})
	fsys := dsfs.NewOSFilesystemManager()

	s := mustSnapshot(t, fsys, dir, "")
	for name, d := range map[string]*dsync.DiffEngine{
		"same instance":  dsync.NewDiffEngine(s, s, nil),
		"two snapshots":  dsync.NewDiffEngine(s, mustSnapshot(t, fsys, dir, ""), nil),
		"relative input": dsync.NewDiffEngine(s.Relative(), s, nil),
	} {
		if r := d.Result(); !r.Empty() || len(r.Candidates()) != 0 {
			t.Errorf("%s: new %v, deleted %v, changed %v, candidates %v; want all empty",
				name, r.New(), r.Deleted(), r.Changed(), r.Candidates())
		}
	}
}

func TestDiffEngine_newAndDeleted(t *testing.T) {
	t.Parallel()
	base, branch := t.TempDir(), t.TempDir()
	testutil.WriteTree(t, base, map[string]string{
		"shared.txt":    "s",
		"fresh/one.txt": "1",
	})
	testutil.WriteTree(t, branch, map[string]string{
		"shared.txt": "s",
		"stale.txt":  "x",
	})
	testutil.SetMtime(t, base, "shared.txt", older)
	testutil.SetMtime(t, branch, "shared.txt", older)

	d := mustDiff(t, dsfs.NewOSFilesystemManager(), base, branch)

	if got := d.New(); !equalPaths(got, "fresh", filepath.Join("fresh", "one.txt")) {
		t.Errorf("New() = %v", got)
	}
	if got := d.Deleted(); !equalPaths(got, "stale.txt") {
		t.Errorf("Deleted() = %v, want [stale.txt]", got)
	}
	if got := d.Changed(); len(got) != 0 {
		t.Errorf("Changed() = %v, want empty", got)
	}
}

func TestDiffEngine_changed(t *testing.T) {
	sameMilli := older.Add(250 * time.Microsecond)

	tests := []struct {
		name          string
		baseContent   string
		branchContent string
		baseMtime     time.Time
		branchMtime   time.Time
		wantCandidate bool
		wantChanged   bool
		wantSource    dsync.Side
	}{
		{
			name:          "content differs and base is newer",
			baseContent:   "v2",
			branchContent: "v1",
			baseMtime:     newer,
			branchMtime:   older,
			wantCandidate: true,
			wantChanged:   true,
			wantSource:    dsync.SideCurrent,
		},
		{
			name:          "content differs and branch is newer",
			baseContent:   "v1",
			branchContent: "v2",
			baseMtime:     older,
			branchMtime:   newer,
			wantCandidate: true,
			wantChanged:   true,
			wantSource:    dsync.SidePrevious,
		},
		{
			name:          "same bytes, different times",
			baseContent:   "same",
			branchContent: "same",
			baseMtime:     newer,
			branchMtime:   older,
			wantCandidate: true,
			wantChanged:   false,
		},
		{
			name:          "content differs within the same millisecond",
			baseContent:   "left",
			branchContent: "right",
			baseMtime:     older,
			branchMtime:   sameMilli,
			wantCandidate: false,
			wantChanged:   false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			base, branch := t.TempDir(), t.TempDir()
			testutil.WriteFile(t, base, "doc.txt", tt.baseContent)
			testutil.WriteFile(t, branch, "doc.txt", tt.branchContent)
			testutil.SetMtime(t, base, "doc.txt", tt.baseMtime)
			testutil.SetMtime(t, branch, "doc.txt", tt.branchMtime)

			r := mustDiff(t, dsfs.NewOSFilesystemManager(), base, branch).Result()

			if got := equalPaths(r.Candidates(), "doc.txt"); got != tt.wantCandidate {
				t.Errorf("Candidates() = %v, want doc.txt listed = %v", r.Candidates(), tt.wantCandidate)
			}
			if r.IsChanged("doc.txt") != tt.wantChanged {
				t.Fatalf("IsChanged() = %v, want %v", r.IsChanged("doc.txt"), tt.wantChanged)
			}
			if !tt.wantChanged {
				if _, ok := r.Source("doc.txt"); ok {
					t.Error("Source() set for an unchanged path")
				}
				return
			}
			if side, ok := r.Source("doc.txt"); !ok || side != tt.wantSource {
				t.Errorf("Source() = %v, %v; want %v", side, ok, tt.wantSource)
			}
		})
	}
}

func TestDiffEngine_fileAgainstDirectoryIsAConflict(t *testing.T) {
	t.Parallel()
	base, branch := t.TempDir(), t.TempDir()
	testutil.WriteFile(t, base, "x", "plain file")
	testutil.WriteFile(t, branch, "x/y", "nested")
	testutil.SetMtime(t, base, "x", newer)
	testutil.SetMtime(t, branch, "x", older)

	r := mustDiff(t, dsfs.NewOSFilesystemManager(), base, branch).Result()

	if !equalPaths(r.Conflicts(), "x") {
		t.Errorf("Conflicts() = %v, want [x]", r.Conflicts())
	}
	if r.IsChanged("x") || r.IsNew("x") || r.IsDeleted("x") {
		t.Error("conflicting path classified as new, deleted or changed")
	}
	if !equalPaths(r.Deleted(), filepath.Join("x", "y")) {
		t.Errorf("Deleted() = %v, want [x/y]", r.Deleted())
	}
}

func TestDiffEngine_largeTreesAreAnnounced(t *testing.T) {
	t.Parallel()
	base, branch := t.TempDir(), t.TempDir()
	files := make(map[string]string, dsync.LargeTreeEntries+1)
	for i := 0; i <= dsync.LargeTreeEntries; i++ {
		files[fmt.Sprintf("f%04d.txt", i)] = ""
	}
	testutil.WriteTree(t, base, files)
	testutil.WriteFile(t, branch, "only.txt", "")
	fsys := dsfs.NewOSFilesystemManager()

	logger := &recordingLogger{}
	dsync.NewDiffEngine(mustSnapshot(t, fsys, base, ""), mustSnapshot(t, fsys, branch, ""), logger)
	if !logger.has("INFO", "comparing large trees") {
		t.Errorf("no large-tree message logged, got %v", logger.lines())
	}

	small := &recordingLogger{}
	dsync.NewDiffEngine(mustSnapshot(t, fsys, branch, ""), mustSnapshot(t, fsys, branch, ""), small)
	if small.has("INFO", "comparing large trees") {
		t.Error("large-tree message logged for a small tree")
	}
}

func TestDiffEngine_unreadableCandidateIsDropped(t *testing.T) {
	t.Parallel()
	base, branch := testutil.RealDir(t), testutil.RealDir(t)
	testutil.WriteTree(t, base, map[string]string{"x.txt": "new", "y.txt": "new"})
	testutil.WriteTree(t, branch, map[string]string{"x.txt": "old", "y.txt": "old"})
	for _, p := range []string{"x.txt", "y.txt"} {
		testutil.SetMtime(t, base, p, newer)
		testutil.SetMtime(t, branch, p, older)
	}

	fsys := testutil.NewFaultyFilesystem()
	fsys.Fail("Open", filepath.Join(base, "x.txt"), fs.ErrPermission)

	r := mustDiff(t, fsys, base, branch).Result()

	if r.IsChanged("x.txt") {
		t.Error("unreadable x.txt reported as changed")
	}
	if !r.IsChanged("y.txt") {
		t.Error("y.txt not reported as changed")
	}
}

func TestDiffEngine_disjoint(t *testing.T) {
	t.Parallel()
	base, branch := t.TempDir(), t.TempDir()
	testutil.WriteTree(t, base, map[string]string{
		"a.txt":     "a2",
		"b.txt":     "b",
		"dir/c.txt": "c",
		"only/":     "",
	})
	testutil.WriteTree(t, branch, map[string]string{
		"a.txt":     "a1",
		"b.txt":     "b",
		"dir/":      "",
		"gone.txt":  "g",
		"old/z.txt": "z",
	})
	testutil.SetMtime(t, base, "a.txt", newer)
	testutil.SetMtime(t, branch, "a.txt", older)

	r := mustDiff(t, dsfs.NewOSFilesystemManager(), base, branch).Result()

	seen := make(map[string]string)
	for name, set := range map[string][]string{"new": r.New(), "deleted": r.Deleted(), "changed": r.Changed()} {
		for _, p := range set {
			if prev, ok := seen[p]; ok {
				t.Errorf("%q is in both %s and %s", p, prev, name)
			}
			seen[p] = name
		}
	}
	if len(r.Changed()) != 1 {
		t.Errorf("Changed() = %v, want [a.txt]", r.Changed())
	}
}

func TestDiffEngine_symlinkedPathsAreExcluded(t *testing.T) {
	t.Parallel()
	base, branch := t.TempDir(), t.TempDir()
	outside := t.TempDir()
	testutil.WriteFile(t, outside, "inner.txt", "elsewhere")
	testutil.WriteFile(t, base, "a.txt", "a")
	if err := os.Symlink(outside, filepath.Join(base, "shared")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	testutil.WriteTree(t, branch, map[string]string{
		"a.txt":            "a",
		"shared/inner.txt": "real",
	})
	testutil.SetMtime(t, base, "a.txt", older)
	testutil.SetMtime(t, branch, "a.txt", older)

	d := mustDiff(t, dsfs.NewOSFilesystemManager(), base, branch)

	if r := d.Result(); !r.Empty() {
		t.Errorf("new %v, deleted %v, changed %v; want nothing under the symlink", r.New(), r.Deleted(), r.Changed())
	}
	if d.Previous().Contains(filepath.Join("shared", "inner.txt")) {
		t.Error("previous side still holds a path under the symlink")
	}
}

func TestDiffEngine_ResultIsComputedOnce(t *testing.T) {
	t.Parallel()
	base, branch := t.TempDir(), t.TempDir()
	testutil.WriteFile(t, base, "a.txt", "a")

	d := mustDiff(t, dsfs.NewOSFilesystemManager(), base, branch)
	first := d.Result()

	testutil.WriteFile(t, base, "b.txt", "b")
	if d.Result() != first {
		t.Error("Result() recomputed")
	}
	if got := d.New(); !equalPaths(got, "a.txt") {
		t.Errorf("New() = %v, want [a.txt]", got)
	}
}

func TestDiffEngine_paths(t *testing.T) {
	t.Parallel()
	base, branch := testutil.RealDir(t), testutil.RealDir(t)
	testutil.WriteTree(t, base, map[string]string{"sub/a.txt": "a"})
	testutil.WriteTree(t, branch, map[string]string{"sub/a.txt": "b"})

	d := mustDiff(t, dsfs.NewOSFilesystemManager(), base, branch)

	abs := filepath.Join(base, "sub", "a.txt")
	if got, err := d.ComplementPath(abs); err != nil || got != filepath.Join(branch, "sub", "a.txt") {
		t.Errorf("ComplementPath() = %q, %v", got, err)
	}
	if got, err := d.ComplementDirectory(filepath.Join(branch, "sub")); err != nil || got != base {
		t.Errorf("ComplementDirectory() = %q, %v; want %q", got, err, base)
	}
	if got, err := d.MakeRelative(abs); err != nil || got != filepath.Join("sub", "a.txt") {
		t.Errorf("MakeRelative() = %q, %v", got, err)
	}
	if _, err := d.MakeRelative(filepath.Join(t.TempDir(), "x")); err == nil {
		t.Error("MakeRelative() expected error outside both trees")
	}
	if d.Dir(dsync.SideCurrent) != base || d.Dir(dsync.SidePrevious) != branch {
		t.Errorf("Dir() = %q, %q", d.Dir(dsync.SideCurrent), d.Dir(dsync.SidePrevious))
	}

	changed, err := d.ContentChanged("sub")
	if err != nil || changed {
		t.Errorf("ContentChanged(dir) = %v, %v; want false, nil", changed, err)
	}
	changed, err = d.ContentChanged(abs)
	if err != nil || !changed {
		t.Errorf("ContentChanged(file) = %v, %v; want true, nil", changed, err)
	}
}
