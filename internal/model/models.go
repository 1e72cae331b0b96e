package model

import "time"

// Sync run statuses.
const (
	RunRunning = "running"
	RunSuccess = "success"
	RunError   = "error"
)

// SyncCounts are the per-pass totals recorded for a finished run.
type SyncCounts struct {
	New     int
	Changed int
	Deleted int
	Failed  int
}

// SyncRun is one recorded invocation of a tree-mutating command.
type SyncRun struct {
	ID         string // UUID
	Operation  string // e.g. "Sync", "Recover"
	Base       string // absolute path of the base tree
	Branch     string // absolute path of the branch tree, empty for single-tree operations
	StartedAt  time.Time
	FinishedAt *time.Time // nil while running
	Status     string
	Counts     SyncCounts
}

// Duration is the elapsed time of a finished run, or zero.
func (r *SyncRun) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
