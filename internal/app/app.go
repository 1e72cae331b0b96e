package app

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"dsync-go/internal/config"
	"dsync-go/internal/database"
	"dsync-go/internal/dsync"
	"dsync-go/internal/fs"
	"dsync-go/internal/model"
	"dsync-go/internal/vault"
)

// DSApp is the application layer between the CLI and dsync.Service.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw string paths, and manages the history lifecycle on Close.
type DSApp struct {
	cfg     *config.Config
	history dsync.RunHistory
	service *dsync.Service
	op      *SyncOperation
	logSink io.Closer
}

// NewDSApp creates a fully wired DSApp from the given config.
// operation identifies the CLI command being run (e.g. "Sync", "Status").
// The caller must call Close when done.
func NewDSApp(cfg *config.Config, operation string) (*DSApp, error) {
	fsmgr := fs.NewOSFilesystemManager()

	history, err := database.NewDatabaseFromConfig(cfg.Database, dsync.RealClock{}, dsync.UUIDGenerator{})
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}

	if err := history.CheckMigrations(); err != nil {
		history.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	opID := time.Now().UTC().Format("20060102T150405Z")
	logger, logSink, err := newLogger(cfg.LogDir, opID, cfg.Log)
	if err != nil {
		history.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	adapter := &slogAdapter{l: logger}

	opener, err := vault.NewOpenerFromConfig(cfg.Archive, fsmgr, dsync.RealClock{}, adapter)
	if err != nil {
		history.Close()
		logSink.Close()
		return nil, fmt.Errorf("creating archive opener: %w", err)
	}

	svc := dsync.NewService(fsmgr, opener, history, adapter, dsync.RealClock{})

	return &DSApp{
		cfg:     cfg,
		history: history,
		service: svc,
		op:      NewSyncOperation(operation),
		logSink: logSink,
	}, nil
}

// persistOperation records the operation in the run history.
// This should only be called for tree-mutating commands.
func (a *DSApp) persistOperation(base, branch string) error {
	if a.op.Persisted() {
		return nil // already persisted
	}
	run, err := a.history.CreateSyncRun(a.op.Operation, base, branch)
	if err != nil {
		return fmt.Errorf("recording sync run: %w", err)
	}
	a.op.ID = run.ID
	return nil
}

// ignoreFor builds the ignore expression shared by the given trees from
// the configured expression, the flag value and each tree's ignore file.
func (a *DSApp) ignoreFor(flagRegex string, dirs ...string) (string, error) {
	expr, err := fs.CombinePatterns([]string{a.cfg.IgnoreRegex, flagRegex})
	if err != nil {
		return "", err
	}
	for _, dir := range dirs {
		expr, err = fs.IgnoreExpression(dir, expr)
		if err != nil {
			return "", fmt.Errorf("reading ignore file in %s: %w", dir, err)
		}
	}
	return expr, nil
}

// Snapshot walks the directory and saves it as the new baseline.
func (a *DSApp) Snapshot(rawDir, ignoreRegex string) (*dsync.Snapshot, error) {
	expr, err := a.ignoreFor(ignoreRegex, rawDir)
	if err != nil {
		return nil, err
	}
	return a.service.Snapshot(rawDir, expr)
}

// Status reports what moved in the directory since its saved baseline.
func (a *DSApp) Status(rawDir, ignoreRegex string) (*dsync.TreeStatus, error) {
	expr, err := a.ignoreFor(ignoreRegex, rawDir)
	if err != nil {
		return nil, err
	}
	return a.service.Status(rawDir, expr)
}

// Diff compares two trees without touching either of them.
func (a *DSApp) Diff(base, branch, ignoreRegex string) (*dsync.DiffResult, error) {
	expr, err := a.ignoreFor(ignoreRegex, base, branch)
	if err != nil {
		return nil, err
	}
	d, err := a.service.Compare(base, branch, expr)
	if err != nil {
		return nil, err
	}
	return d.Result(), nil
}

// Sync makes branch mirror base. force (or sync.force_delete in config)
// allows deletions when base looks empty. The run is recorded in the history.
func (a *DSApp) Sync(base, branch, ignoreRegex string, force bool) (*dsync.Report, error) {
	expr, err := a.ignoreFor(ignoreRegex, base, branch)
	if err != nil {
		return nil, err
	}
	if err := a.persistOperation(absOrRaw(base), absOrRaw(branch)); err != nil {
		return nil, err
	}

	report, err := a.service.Sync(base, branch, expr, force || a.cfg.Sync.ForceDelete)
	if err != nil {
		a.op.Fail()
		return nil, err
	}

	a.op.Counts = dsync.CountsOf(report)
	if len(report.Failures()) > 0 {
		a.op.Fail()
	}
	return report, nil
}

// Versions lists archived versions in a tree, for one path when relPath is set.
func (a *DSApp) Versions(rawDir, relPath string) ([]dsync.VersionInfo, error) {
	return a.service.Versions(rawDir, relPath)
}

// Recover restores relPath in the tree from the given stored version, or
// from its newest version when versionedPath is empty.
func (a *DSApp) Recover(rawDir, relPath, versionedPath string) error {
	if err := a.persistOperation(absOrRaw(rawDir), ""); err != nil {
		return err
	}
	if err := a.service.Recover(rawDir, relPath, versionedPath); err != nil {
		a.op.Fail()
		return err
	}
	return nil
}

// History returns the most recent recorded runs.
func (a *DSApp) History(limit int) ([]*model.SyncRun, error) {
	return a.service.History(limit)
}

// Run returns one recorded run by id.
func (a *DSApp) Run(id string) (*model.SyncRun, error) {
	return a.service.Run(id)
}

// backupHistory snapshots the history database into data_dir beside the
// live file. In-memory histories are not backed up.
func (a *DSApp) backupHistory() error {
	if a.cfg.Database.Type != "sqlite" {
		return nil
	}

	// Snapshot the DB to a temp file, then move it over the previous backup
	tmpFile, err := os.CreateTemp(a.cfg.Database.DataDir, ".history-backup-*.db")
	if err != nil {
		return fmt.Errorf("creating temp file for history backup: %w", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()

	if err := a.history.BackupTo(tmpPath); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, filepath.Join(a.cfg.Database.DataDir, database.HistoryBackupFileName)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replacing history backup: %w", err)
	}
	return nil
}

// Close finalizes the operation and closes all resources.
// For persisted operations the run record is finished and the history
// backed up first.
func (a *DSApp) Close() error {
	var firstErr error

	if a.op.Persisted() {
		if err := a.history.FinishSyncRun(a.op.ID, a.op.Status, a.op.Counts); err != nil {
			firstErr = fmt.Errorf("finishing sync run: %w", err)
		}
		if err := a.backupHistory(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("backing up history: %w", err)
		}
	}

	if err := a.history.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}

	if a.logSink != nil {
		a.logSink.Close()
	}

	return firstErr
}

func absOrRaw(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
