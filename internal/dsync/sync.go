package dsync

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
)

// SyncEngine replays a DiffEngine's result onto the two trees it compared.
// The current side is the base, the previous side is the branch.
//
// Every pass logs and collects per-path failures and keeps going.
type SyncEngine struct {
	fsys   FilesystemManager
	diff   *DiffEngine
	base   string
	branch string

	baseArchive   Archive
	branchArchive Archive

	logger Logger
}

// NewSyncEngine wires a sync over diff. Either archive may be nil, in which
// case nothing is archived on that side.
func NewSyncEngine(fsys FilesystemManager, diff *DiffEngine, baseArchive, branchArchive Archive, logger Logger) *SyncEngine {
	return &SyncEngine{
		fsys:          fsys,
		diff:          diff,
		base:          diff.Dir(SideCurrent),
		branch:        diff.Dir(SidePrevious),
		baseArchive:   baseArchive,
		branchArchive: branchArchive,
		logger:        orNop(logger),
	}
}

func (e *SyncEngine) Diff() *DiffEngine { return e.diff }
func (e *SyncEngine) Base() string      { return e.base }
func (e *SyncEngine) Branch() string    { return e.branch }

func (e *SyncEngine) archive(side Side) Archive {
	if side == SidePrevious {
		return e.branchArchive
	}
	return e.baseArchive
}

// Sync copies new files, then updates changed files, then removes deleted
// files. The diff is fully computed before either tree is touched.
func (e *SyncEngine) Sync(force bool) *Report {
	result := e.diff.Result()
	e.logger.Info("sync started", "base", e.base, "branch", e.branch,
		"new", result.added.Len(), "changed", result.changed.Len(), "deleted", result.deleted.Len())

	r := &Report{
		New:     e.CopyNewFiles(),
		Changed: e.UpdateChangedFiles(),
		Deleted: e.RemoveDeletedFiles(force),
	}

	e.logger.Info("sync finished", "base", e.base, "branch", e.branch,
		"new", r.New.Succeeded, "changed", r.Changed.Succeeded, "deleted", r.Deleted.Succeeded,
		"failed", len(r.Failures()))
	return r
}

// CopyNewFiles copies every new path from whichever tree holds it to the
// other. Directories are created, not copied; their contents arrive as
// entries of their own.
func (e *SyncEngine) CopyNewFiles() Outcome {
	out := Outcome{Op: OpCopyNew}

	for _, rel := range e.diff.New() {
		src := filepath.Join(e.base, rel)
		dst := filepath.Join(e.branch, rel)

		info, err := e.fsys.Lstat(src)
		if errors.Is(err, fs.ErrNotExist) {
			src, dst = dst, src
			info, err = e.fsys.Lstat(src)
		}
		if err != nil {
			e.logger.Warn("cannot copy new path", "path", rel, "source", src, "error", err)
			out.fail(rel, err)
			continue
		}

		switch {
		case info.IsDir():
			err = e.fsys.MkdirAll(dst)
		case info.Mode().IsRegular():
			err = e.clone(src, dst)
		default:
			err = fmt.Errorf("unsupported file type %s", info.Mode().Type())
		}
		if err != nil {
			e.logger.Warn("cannot copy new path", "path", rel, "source", src, "target", dst, "error", err)
			out.fail(rel, err)
			continue
		}

		e.logger.Debug("copied new path", "source", src, "target", dst)
		out.Succeeded++
	}
	return out
}

// UpdateChangedFiles copies each changed file from its newer side over the
// stale one, archiving the stale copy first. A file whose stale copy cannot
// be archived is left alone. Paths that are a file on one side and a
// directory on the other are reported as failures.
func (e *SyncEngine) UpdateChangedFiles() Outcome {
	out := Outcome{Op: OpUpdateChanged}
	result := e.diff.Result()

	for _, rel := range result.Changed() {
		side, _ := result.Source(rel)
		src := filepath.Join(e.diff.Dir(side), rel)
		dst := filepath.Join(e.diff.Dir(side.Other()), rel)

		if err := e.archiveBefore(side.Other(), rel); err != nil {
			e.logger.Warn("cannot archive stale copy, not overwriting", "path", dst, "error", err)
			out.fail(rel, err)
			continue
		}

		if err := e.clone(src, dst); err != nil {
			e.logger.Warn("cannot update changed file", "source", src, "target", dst, "error", err)
			out.fail(rel, err)
			continue
		}

		e.logger.Debug("updated changed file", "source", src, "target", dst)
		out.Succeeded++
	}

	for _, rel := range result.Conflicts() {
		out.fail(rel, ErrKindMismatch)
	}
	return out
}

// RemoveDeletedFiles deletes, from the branch, every path that is no longer
// in the base, deepest paths first. When the base snapshot is empty nothing
// is deleted unless force is set.
func (e *SyncEngine) RemoveDeletedFiles(force bool) Outcome {
	out := Outcome{Op: OpRemoveDeleted}
	deleted := e.diff.Deleted()

	if e.diff.Current().Empty() && !force {
		if len(deleted) > 0 {
			e.logger.Warn("base snapshot is empty, refusing to delete from branch",
				"base", e.base, "branch", e.branch, "pending", len(deleted))
		}
		out.Refused = true
		return out
	}

	for _, rel := range deepestFirst(deleted) {
		target := filepath.Join(e.branch, rel)

		info, err := e.fsys.Lstat(target)
		if errors.Is(err, fs.ErrNotExist) {
			e.logger.Debug("already removed", "path", target)
			out.Succeeded++
			continue
		}
		if err != nil {
			e.logger.Warn("cannot inspect path for removal", "path", target, "error", err)
			out.fail(rel, err)
			continue
		}

		if info.IsDir() {
			err = e.removeDir(rel, target)
		} else {
			err = e.removeFile(rel, target)
		}
		if err != nil {
			out.fail(rel, err)
			continue
		}
		out.Succeeded++
	}
	return out
}

func (e *SyncEngine) removeFile(rel, target string) error {
	if err := e.archiveBefore(SidePrevious, rel); err != nil {
		e.logger.Warn("cannot archive file, not removing", "path", target, "error", err)
		return err
	}

	err := e.fsys.Remove(target)
	switch {
	case err == nil:
		e.logger.Debug("removed file", "path", target)
		return nil
	case errors.Is(err, fs.ErrNotExist):
		e.logger.Debug("file already gone", "path", target)
		return nil
	default:
		e.logger.Warn("cannot remove file", "path", target, "error", err)
		return err
	}
}

func (e *SyncEngine) removeDir(rel, target string) error {
	children, err := e.fsys.ReadDir(target)
	if err != nil {
		e.logger.Warn("cannot list directory for removal", "path", target, "error", err)
		return err
	}
	if len(children) > 0 {
		if err := e.archiveBefore(SidePrevious, rel); err != nil {
			e.logger.Warn("cannot archive directory, not removing", "path", target, "error", err)
			return err
		}
	}

	if err := e.fsys.RemoveAll(target); err != nil {
		e.logger.Warn("cannot remove directory", "path", target, "error", err)
		return err
	}
	e.logger.Debug("removed directory", "path", target)
	return nil
}

// archiveBefore stores the current state of rel on side. A path that is
// already gone needs no archiving.
func (e *SyncEngine) archiveBefore(side Side, rel string) error {
	a := e.archive(side)
	if a == nil {
		return nil
	}
	if _, err := a.AddVersion(rel); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("archiving %s: %w", rel, err)
	}
	return nil
}

// clone copies src to dst and gives dst the modification time of src. If
// the target filesystem stores a coarser time, src is re-stamped to match
// so both sides fingerprint the same on the next run.
func (e *SyncEngine) clone(src, dst string) error {
	if err := e.fsys.MkdirAll(filepath.Dir(dst)); err != nil {
		return fmt.Errorf("creating parent of %s: %w", dst, err)
	}
	if err := e.fsys.CopyFile(src, dst); err != nil {
		return fmt.Errorf("copying %s to %s: %w", src, dst, err)
	}

	si, err := e.fsys.Stat(src)
	if err != nil {
		return fmt.Errorf("reading time of %s: %w", src, err)
	}
	if err := e.fsys.Chtimes(dst, si.ModTime()); err != nil {
		return fmt.Errorf("setting time of %s: %w", dst, err)
	}

	di, err := e.fsys.Stat(dst)
	if err != nil {
		return fmt.Errorf("reading time of %s: %w", dst, err)
	}
	if di.ModTime().UnixMilli() != si.ModTime().UnixMilli() {
		e.logger.Debug("target truncated modification time, aligning source", "source", src, "target", dst)
		if err := e.fsys.Chtimes(src, di.ModTime()); err != nil {
			return fmt.Errorf("aligning time of %s: %w", src, err)
		}
	}
	return nil
}
