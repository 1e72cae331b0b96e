package dsync_test

import (
	"strings"
	"sync"
	"testing"
	"time"

	"dsync-go/internal/config"
	"dsync-go/internal/dsync"
	dsfs "dsync-go/internal/fs"
	"dsync-go/internal/testutil"
	"dsync-go/internal/vault"
)

var (
	older = time.Date(2023, 11, 2, 14, 0, 0, 0, time.UTC)
	newer = older.Add(90 * time.Minute)
)

func mustSnapshot(t *testing.T, fsys dsync.FilesystemManager, dir, ignore string) *dsync.Snapshot {
	t.Helper()
	s, err := dsync.BuildSnapshot(fsys, dir, ignore, testutil.FixedClock(), nil)
	if err != nil {
		t.Fatalf("BuildSnapshot(%s) error = %v", dir, err)
	}
	return s
}

func mustDiff(t *testing.T, fsys dsync.FilesystemManager, base, branch string) *dsync.DiffEngine {
	t.Helper()
	return dsync.NewDiffEngine(mustSnapshot(t, fsys, base, ""), mustSnapshot(t, fsys, branch, ""), nil)
}

func newTestService(t *testing.T) *dsync.Service {
	t.Helper()
	fsys := dsfs.NewOSFilesystemManager()
	clock := testutil.TickingClock(newer.Add(24*time.Hour), time.Millisecond)
	opener, err := vault.NewOpenerFromConfig(config.ArchiveConfig{Type: "tree"}, fsys, clock, nil)
	if err != nil {
		t.Fatalf("NewOpenerFromConfig() error = %v", err)
	}
	return dsync.NewService(fsys, opener, testutil.NewTestHistory(t), nil, clock)
}

func openArchive(t *testing.T, root string) *vault.VersionArchive {
	t.Helper()
	a, err := vault.OpenVersionArchive(dsfs.NewOSFilesystemManager(), root, "", nil, nil)
	if err != nil {
		t.Fatalf("OpenVersionArchive() error = %v", err)
	}
	return a
}

func equalPaths(got []string, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

// recordingLogger keeps "LEVEL msg" for every call.
type recordingLogger struct {
	mu  sync.Mutex
	got []string
}

func (l *recordingLogger) record(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.got = append(l.got, level+" "+msg)
}

func (l *recordingLogger) Debug(msg string, _ ...any) { l.record("DEBUG", msg) }
func (l *recordingLogger) Info(msg string, _ ...any)  { l.record("INFO", msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.record("WARN", msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.record("ERROR", msg) }

func (l *recordingLogger) lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.got...)
}

// has reports whether a message at level starts with prefix.
func (l *recordingLogger) has(level, prefix string) bool {
	for _, line := range l.lines() {
		if strings.HasPrefix(line, level+" "+prefix) {
			return true
		}
	}
	return false
}
