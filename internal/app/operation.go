package app

import "dsync-go/internal/model"

// SyncOperation tracks a CLI operation that may mutate a tree.
// Operations are created in memory with an empty ID. Only tree-mutating
// commands persist them (giving them an ID from the run history).
type SyncOperation struct {
	ID        string
	Operation string
	Status    string // "success" or "error"
	Counts    model.SyncCounts
}

// NewSyncOperation creates a new in-memory operation.
func NewSyncOperation(operation string) *SyncOperation {
	return &SyncOperation{
		Operation: operation,
		Status:    model.RunSuccess,
	}
}

// Persisted returns true if this operation has been recorded in the run history.
func (op *SyncOperation) Persisted() bool {
	return op.ID != ""
}

// Fail marks the operation as failed.
func (op *SyncOperation) Fail() {
	op.Status = model.RunError
}
