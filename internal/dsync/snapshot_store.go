package dsync

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"time"
)

type savedDirectory struct {
	Path      string `json:"path"`
	Separator string `json:"separator"`
}

// savedSnapshot is the on-disk form of a Snapshot. Times are epoch millis.
type savedSnapshot struct {
	Directory     savedDirectory    `json:"directory"`
	IgnoreRegex   string            `json:"ignoreRegex"`
	LastListDate  *int64            `json:"lastListDate,omitempty"`
	Files         map[string]int64  `json:"files"`
	Modifications map[string]string `json:"modifications"`
}

// Save writes the snapshot to the state file in its base directory and
// marks its creation time as the last listing. Saved snapshots are left alone.
func (s *Snapshot) Save() error {
	if s.jsonOnly {
		return nil
	}

	s.lastListed = s.createdAt
	data, err := s.encode()
	if err != nil {
		return err
	}

	path := filepath.Join(s.dir, StateFileName)
	if err := s.fsys.WriteFile(path, data); err != nil {
		return fmt.Errorf("writing snapshot state: %w", err)
	}
	s.logger.Debug("snapshot saved", "path", path, "entries", len(s.entries))
	return nil
}

func (s *Snapshot) encode() ([]byte, error) {
	rec := savedSnapshot{
		Directory:     savedDirectory{Path: s.dir, Separator: s.separator},
		IgnoreRegex:   s.ignoreExpr,
		Files:         make(map[string]int64, len(s.entries)),
		Modifications: s.Fingerprints(nil),
	}
	if !s.lastListed.IsZero() {
		ms := s.lastListed.UnixMilli()
		rec.LastListDate = &ms
	}
	for p, t := range s.entries {
		rel, ok := s.rel(p)
		if !ok {
			continue
		}
		rec.Files[rel] = t.UnixMilli()
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return data, nil
}

// LoadSnapshot parses a saved snapshot without touching the tree it
// describes. The result is relative and read-only.
func LoadSnapshot(fsys FilesystemManager, r io.Reader, logger Logger) (*Snapshot, error) {
	var rec savedSnapshot
	if err := json.NewDecoder(r).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	if rec.Directory.Path == "" {
		return nil, errors.New("decoding snapshot: missing directory")
	}

	re, err := compileIgnore(rec.IgnoreRegex)
	if err != nil {
		return nil, err
	}

	sep := rec.Directory.Separator
	if sep == "" {
		sep = string(filepath.Separator)
	}

	s := &Snapshot{
		fsys:         fsys,
		logger:       orNop(logger),
		dir:          filepath.Clean(rec.Directory.Path),
		separator:    string(filepath.Separator),
		ignoreExpr:   rec.IgnoreRegex,
		ignore:       re,
		entries:      make(map[string]time.Time, len(rec.Files)),
		relative:     true,
		jsonOnly:     true,
		fingerprints: make(map[string]string, len(rec.Modifications)),
	}
	for p, ms := range rec.Files {
		if sep != s.separator {
			p = strings.ReplaceAll(p, sep, s.separator)
		}
		s.entries[filepath.Clean(p)] = time.UnixMilli(ms)
	}
	for fp, p := range rec.Modifications {
		s.fingerprints[fp] = p
	}
	if rec.LastListDate != nil {
		s.lastListed = time.UnixMilli(*rec.LastListDate)
		s.createdAt = s.lastListed
	}
	return s, nil
}

// LoadSnapshotFile reads the state file saved in dir. A missing or corrupt
// file yields an empty baseline, so every current entry later reads as new.
func LoadSnapshotFile(fsys FilesystemManager, dir string, logger Logger) (*Snapshot, error) {
	logger = orNop(logger)

	canonical, err := fsys.RealPath(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving base directory %s: %w", dir, err)
	}

	path := filepath.Join(canonical, StateFileName)
	data, err := fsys.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Info("no saved snapshot, using empty baseline", "dir", canonical)
		} else {
			logger.Warn("cannot read saved snapshot, using empty baseline", "path", path, "error", err)
		}
		return emptyBaseline(fsys, canonical, logger), nil
	}

	s, err := LoadSnapshot(fsys, bytes.NewReader(data), logger)
	if err != nil {
		logger.Warn("corrupt saved snapshot, using empty baseline", "path", path, "error", err)
		return emptyBaseline(fsys, canonical, logger), nil
	}

	if s.dir != canonical {
		logger.Info("saved snapshot belongs to a moved tree, rebasing", "saved", s.dir, "dir", canonical)
		s.rebase(canonical)
	}
	return s, nil
}

func emptyBaseline(fsys FilesystemManager, dir string, logger Logger) *Snapshot {
	return &Snapshot{
		fsys:         fsys,
		logger:       logger,
		dir:          dir,
		separator:    string(filepath.Separator),
		entries:      make(map[string]time.Time),
		relative:     true,
		jsonOnly:     true,
		fingerprints: make(map[string]string),
	}
}

// rebase moves stored fingerprint targets from the saved base to dir.
func (s *Snapshot) rebase(dir string) {
	old := s.dir
	s.dir = dir
	for fp, p := range s.fingerprints {
		rel, err := filepath.Rel(old, p)
		if err != nil || strings.HasPrefix(rel, "..") {
			delete(s.fingerprints, fp)
			continue
		}
		s.fingerprints[fp] = filepath.Join(dir, rel)
	}
}
