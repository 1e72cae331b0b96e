package database

import (
	"fmt"
	"testing"
	"time"

	"dsync-go/internal/model"
)

type steppingClock struct{ now time.Time }

func (c *steppingClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

type seqIDs struct{ n int }

func (g *seqIDs) New() string {
	g.n++
	return fmt.Sprintf("run-%d", g.n)
}

// newTestDB creates a new in-memory database with schema applied.
func newTestDB(t *testing.T) *SQLiteDatabase {
	t.Helper()

	clock := &steppingClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	db, err := NewSQLiteDatabase(":memory:", clock, &seqIDs{})
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		t.Fatalf("failed to apply schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func TestSQLiteDatabase_CreateSyncRun(t *testing.T) {
	db := newTestDB(t)

	run, err := db.CreateSyncRun("Sync", "/data/base", "/data/branch")
	if err != nil {
		t.Fatalf("CreateSyncRun() error = %v", err)
	}

	if run.ID != "run-1" {
		t.Errorf("ID = %q, want %q", run.ID, "run-1")
	}
	if run.Status != model.RunRunning {
		t.Errorf("Status = %q, want %q", run.Status, model.RunRunning)
	}
	if run.FinishedAt != nil {
		t.Errorf("FinishedAt = %v, want nil", run.FinishedAt)
	}

	found, err := db.FindSyncRun(run.ID)
	if err != nil {
		t.Fatalf("FindSyncRun() error = %v", err)
	}
	if found == nil {
		t.Fatal("FindSyncRun() returned nil, want run")
	}
	if found.Base != "/data/base" || found.Branch != "/data/branch" {
		t.Errorf("found = %+v, want base /data/base and branch /data/branch", found)
	}
	if !found.StartedAt.Equal(run.StartedAt) {
		t.Errorf("StartedAt = %v, want %v", found.StartedAt, run.StartedAt)
	}
}

func TestSQLiteDatabase_FinishSyncRun(t *testing.T) {
	t.Run("stores status and counts", func(t *testing.T) {
		db := newTestDB(t)
		run, err := db.CreateSyncRun("Sync", "/a", "/b")
		if err != nil {
			t.Fatalf("CreateSyncRun() error = %v", err)
		}

		counts := model.SyncCounts{New: 3, Changed: 2, Deleted: 1, Failed: 1}
		if err := db.FinishSyncRun(run.ID, model.RunError, counts); err != nil {
			t.Fatalf("FinishSyncRun() error = %v", err)
		}

		got, err := db.FindSyncRun(run.ID)
		if err != nil {
			t.Fatalf("FindSyncRun() error = %v", err)
		}
		if got.Status != model.RunError {
			t.Errorf("Status = %q, want %q", got.Status, model.RunError)
		}
		if got.Counts != counts {
			t.Errorf("Counts = %+v, want %+v", got.Counts, counts)
		}
		if got.FinishedAt == nil {
			t.Fatal("FinishedAt = nil, want set")
		}
		if got.Duration() <= 0 {
			t.Errorf("Duration() = %v, want positive", got.Duration())
		}
	})

	t.Run("unknown id is an error", func(t *testing.T) {
		db := newTestDB(t)
		if err := db.FinishSyncRun("missing", model.RunSuccess, model.SyncCounts{}); err == nil {
			t.Error("FinishSyncRun() expected error for unknown id")
		}
	})
}

func TestSQLiteDatabase_ListSyncRuns(t *testing.T) {
	t.Run("newest first with limit", func(t *testing.T) {
		db := newTestDB(t)
		for _, base := range []string{"/one", "/two", "/three"} {
			if _, err := db.CreateSyncRun("Sync", base, "/mirror"); err != nil {
				t.Fatalf("CreateSyncRun() error = %v", err)
			}
		}

		runs, err := db.ListSyncRuns(2)
		if err != nil {
			t.Fatalf("ListSyncRuns() error = %v", err)
		}
		if len(runs) != 2 {
			t.Fatalf("got %d runs, want 2", len(runs))
		}
		if runs[0].Base != "/three" || runs[1].Base != "/two" {
			t.Errorf("order = %s, %s; want /three, /two", runs[0].Base, runs[1].Base)
		}
	})

	t.Run("empty history returns empty slice", func(t *testing.T) {
		db := newTestDB(t)
		runs, err := db.ListSyncRuns(50)
		if err != nil {
			t.Fatalf("ListSyncRuns() error = %v", err)
		}
		if runs == nil || len(runs) != 0 {
			t.Errorf("ListSyncRuns() = %v, want empty slice", runs)
		}
	})
}

func TestSQLiteDatabase_FindSyncRun_notFound(t *testing.T) {
	db := newTestDB(t)

	run, err := db.FindSyncRun("nope")
	if err != nil {
		t.Fatalf("FindSyncRun() error = %v", err)
	}
	if run != nil {
		t.Errorf("FindSyncRun() = %+v, want nil", run)
	}
}

func TestSQLiteDatabase_BackupTo(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.CreateSyncRun("Sync", "/a", "/b"); err != nil {
		t.Fatalf("CreateSyncRun() error = %v", err)
	}

	dest := t.TempDir() + "/copy.db"
	if err := db.BackupTo(dest); err != nil {
		t.Fatalf("BackupTo() error = %v", err)
	}

	copied, err := NewSQLiteDatabase(dest, nil, nil)
	if err != nil {
		t.Fatalf("opening backup: %v", err)
	}
	defer copied.Close()

	runs, err := copied.ListSyncRuns(10)
	if err != nil {
		t.Fatalf("ListSyncRuns() on backup error = %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("backup holds %d runs, want 1", len(runs))
	}
}
