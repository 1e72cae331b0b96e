package dsync

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

// Service is the entry point for the CLI: it builds snapshots and engines
// from raw directory names and wires in archives.
type Service struct {
	fsys     FilesystemManager
	archives ArchiveOpener
	history  RunHistory
	logger   Logger
	clock    Clock
}

// NewService creates a Service. history may be nil when runs are not recorded.
func NewService(fsys FilesystemManager, archives ArchiveOpener, history RunHistory, logger Logger, clock Clock) *Service {
	return &Service{
		fsys:     fsys,
		archives: archives,
		history:  history,
		logger:   orNop(logger),
		clock:    orRealClock(clock),
	}
}

// Snapshot walks dir and saves the result as its new baseline.
func (s *Service) Snapshot(dir, ignoreRegex string) (*Snapshot, error) {
	snap, err := BuildSnapshot(s.fsys, dir, ignoreRegex, s.clock, s.logger)
	if err != nil {
		return nil, err
	}
	if err := snap.Save(); err != nil {
		return nil, err
	}
	s.logger.Info("baseline saved", "dir", snap.Dir(), "entries", snap.Len())
	return snap, nil
}

// TreeStatus describes how a tree moved away from its saved baseline.
type TreeStatus struct {
	Dir        string
	LastListed time.Time
	New        []string
	Deleted    []string
	Modified   []string
}

// Clean reports whether nothing moved.
func (t *TreeStatus) Clean() bool {
	return len(t.New) == 0 && len(t.Deleted) == 0 && len(t.Modified) == 0
}

// Status compares dir against the baseline saved in it. An empty
// ignoreRegex reuses the baseline's own expression.
func (s *Service) Status(dir, ignoreRegex string) (*TreeStatus, error) {
	baseline, err := LoadSnapshotFile(s.fsys, dir, s.logger)
	if err != nil {
		return nil, err
	}
	if ignoreRegex == "" {
		ignoreRegex = baseline.IgnoreRegex()
	}

	current, err := BuildSnapshot(s.fsys, dir, ignoreRegex, s.clock, s.logger)
	if err != nil {
		return nil, err
	}

	r := NewDiffEngine(current, baseline, s.logger).Result()
	return &TreeStatus{
		Dir:        current.Dir(),
		LastListed: baseline.LastListed(),
		New:        r.New(),
		Deleted:    r.Deleted(),
		Modified:   r.Candidates(),
	}, nil
}

// Compare walks both trees and returns a DiffEngine with base as the
// current side and branch as the previous side. Nothing is written.
func (s *Service) Compare(base, branch, ignoreRegex string) (*DiffEngine, error) {
	current, err := BuildSnapshot(s.fsys, base, ignoreRegex, s.clock, s.logger)
	if err != nil {
		return nil, fmt.Errorf("base: %w", err)
	}
	previous, err := BuildSnapshot(s.fsys, branch, ignoreRegex, s.clock, s.logger)
	if err != nil {
		return nil, fmt.Errorf("branch: %w", err)
	}
	if err := checkDisjoint(current.Dir(), previous.Dir()); err != nil {
		return nil, err
	}
	return NewDiffEngine(current, previous, s.logger), nil
}

func checkDisjoint(a, b string) error {
	if a == b {
		return fmt.Errorf("base and branch are the same directory: %s", a)
	}
	if _, ok := within(a, b); ok {
		return fmt.Errorf("branch %s is inside base %s", b, a)
	}
	if _, ok := within(b, a); ok {
		return fmt.Errorf("base %s is inside branch %s", a, b)
	}
	return nil
}

// Sync makes branch mirror base and saves fresh baselines in both trees.
// Configuration problems are returned before either tree is touched;
// per-path problems are in the report.
func (s *Service) Sync(base, branch, ignoreRegex string, force bool) (*Report, error) {
	diff, err := s.Compare(base, branch, ignoreRegex)
	if err != nil {
		return nil, err
	}

	baseArchive, err := s.archives.OpenArchive(diff.Dir(SideCurrent))
	if err != nil {
		return nil, fmt.Errorf("opening base archive: %w", err)
	}
	branchArchive, err := s.archives.OpenArchive(diff.Dir(SidePrevious))
	if err != nil {
		return nil, fmt.Errorf("opening branch archive: %w", err)
	}

	report := NewSyncEngine(s.fsys, diff, baseArchive, branchArchive, s.logger).Sync(force)

	for _, dir := range []string{diff.Dir(SideCurrent), diff.Dir(SidePrevious)} {
		if _, err := s.Snapshot(dir, ignoreRegex); err != nil {
			s.logger.Warn("cannot save baseline after sync", "dir", dir, "error", err)
		}
	}
	return report, nil
}

// VersionInfo lists the archived versions of one path.
type VersionInfo struct {
	Path     string
	Versions []time.Time
	Stored   []string
}

// Versions lists archived versions in dir's archive, for relPath only when
// it is non-empty.
func (s *Service) Versions(dir, relPath string) ([]VersionInfo, error) {
	archive, rel, err := s.openFor(dir, relPath)
	if err != nil {
		return nil, err
	}

	paths := archive.Paths()
	if rel != "" {
		paths = []string{rel}
	}

	var out []VersionInfo
	for _, p := range paths {
		info := VersionInfo{Path: p, Versions: archive.Versions(p)}
		for _, t := range info.Versions {
			info.Stored = append(info.Stored, archive.VersionPath(p, t))
		}
		out = append(out, info)
	}
	return out, nil
}

// Recover restores relPath in dir from versionedPath, or from its newest
// version when versionedPath is empty.
func (s *Service) Recover(dir, relPath, versionedPath string) error {
	archive, rel, err := s.openFor(dir, relPath)
	if err != nil {
		return err
	}
	if versionedPath != "" {
		return archive.Recover(versionedPath)
	}
	if rel == "" {
		return errors.New("a path to recover is required")
	}
	return archive.RecoverLatest(rel)
}

func (s *Service) openFor(dir, relPath string) (Archive, string, error) {
	root, err := s.fsys.RealPath(dir)
	if err != nil {
		return nil, "", fmt.Errorf("resolving directory %s: %w", dir, err)
	}
	archive, err := s.archives.OpenArchive(root)
	if err != nil {
		return nil, "", fmt.Errorf("opening archive: %w", err)
	}

	rel := relPath
	if filepath.IsAbs(rel) {
		r, ok := within(root, rel)
		if !ok {
			return nil, "", fmt.Errorf("path %s is outside %s", relPath, root)
		}
		rel = r
	}
	if rel != "" {
		rel = filepath.Clean(rel)
	}
	return archive, rel, nil
}
