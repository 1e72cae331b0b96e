package app

import (
	"testing"

	"dsync-go/internal/model"
)

func TestNewSyncOperation(t *testing.T) {
	tests := []struct {
		name      string
		operation string
	}{
		{name: "sync", operation: "Sync"},
		{name: "recover", operation: "Recover"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := NewSyncOperation(tt.operation)

			if op.Operation != tt.operation {
				t.Errorf("Operation = %q, want %q", op.Operation, tt.operation)
			}
			if op.Status != model.RunSuccess {
				t.Errorf("Status = %q, want %q", op.Status, model.RunSuccess)
			}
			if op.ID != "" {
				t.Errorf("ID = %q, want empty", op.ID)
			}
		})
	}
}

func TestSyncOperation_Persisted(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want bool
	}{
		{name: "not persisted when ID is empty", id: "", want: false},
		{name: "persisted when ID is set", id: "6f1c2d9e-0000-4000-8000-000000000001", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := &SyncOperation{ID: tt.id}
			if got := op.Persisted(); got != tt.want {
				t.Errorf("Persisted() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSyncOperation_Fail(t *testing.T) {
	op := NewSyncOperation("Sync")
	op.Fail()
	if op.Status != model.RunError {
		t.Errorf("Status = %q, want %q", op.Status, model.RunError)
	}
}
