package dsync

import (
	"errors"
	"fmt"

	"dsync-go/internal/model"
)

// RunHistory records tree-mutating runs.
type RunHistory interface {
	// CreateSyncRun records the start of a run and returns it with its ID.
	CreateSyncRun(operation, base, branch string) (*model.SyncRun, error)

	// FinishSyncRun stamps a run with its end time, status and counts.
	FinishSyncRun(id, status string, counts model.SyncCounts) error

	// ListSyncRuns returns up to limit runs, newest first.
	ListSyncRuns(limit int) ([]*model.SyncRun, error)

	// FindSyncRun returns the run with the given id, or nil if there is none.
	FindSyncRun(id string) (*model.SyncRun, error)

	// BackupTo writes a consistent copy of the history to destPath.
	BackupTo(destPath string) error

	// CheckMigrations reports whether the schema is current.
	CheckMigrations() error

	Close() error
}

// ErrRunNotFound is returned when no run has the requested id.
var ErrRunNotFound = errors.New("sync run not found")

// CountsOf converts a sync report into the totals stored for a run.
func CountsOf(r *Report) model.SyncCounts {
	if r == nil {
		return model.SyncCounts{}
	}
	return model.SyncCounts{
		New:     r.New.Succeeded,
		Changed: r.Changed.Succeeded,
		Deleted: r.Deleted.Succeeded,
		Failed:  len(r.Failures()),
	}
}

// History returns the most recent runs, newest first.
func (s *Service) History(limit int) ([]*model.SyncRun, error) {
	if s.history == nil {
		return nil, fmt.Errorf("no run history configured")
	}
	runs, err := s.history.ListSyncRuns(limit)
	if err != nil {
		return nil, fmt.Errorf("listing sync runs: %w", err)
	}
	return runs, nil
}

// Run returns the recorded run with the given id.
func (s *Service) Run(id string) (*model.SyncRun, error) {
	if s.history == nil {
		return nil, fmt.Errorf("no run history configured")
	}
	run, err := s.history.FindSyncRun(id)
	if err != nil {
		return nil, fmt.Errorf("finding sync run: %w", err)
	}
	if run == nil {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, nil
}
