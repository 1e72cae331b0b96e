package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"dsync-go/internal/database/migrations"
	"dsync-go/internal/dsync"
	"dsync-go/internal/model"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteDatabase implements the RunHistory interface using SQLite.
type SQLiteDatabase struct {
	db    *sql.DB
	path  string
	clock dsync.Clock
	idgen dsync.IDGenerator
}

// NewSQLiteDatabase creates a new SQLite database connection.
// path can be a file path or ":memory:" for in-memory database.
// A nil clock or idgen falls back to the real implementations.
func NewSQLiteDatabase(path string, clock dsync.Clock, idgen dsync.IDGenerator) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	s := NewSQLiteDatabaseFromDB(db, clock, idgen)
	s.path = path
	return s, nil
}

// NewSQLiteDatabaseFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteDatabaseFromDB(db *sql.DB, clock dsync.Clock, idgen dsync.IDGenerator) *SQLiteDatabase {
	if clock == nil {
		clock = dsync.RealClock{}
	}
	if idgen == nil {
		idgen = dsync.UUIDGenerator{}
	}
	return &SQLiteDatabase{db: db, clock: clock, idgen: idgen}
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// This is exported for use in tests that need a properly configured SQLite connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Sync run operations

func (s *SQLiteDatabase) CreateSyncRun(operation, base, branch string) (*model.SyncRun, error) {
	run := &model.SyncRun{
		ID:        s.idgen.New(),
		Operation: operation,
		Base:      base,
		Branch:    branch,
		StartedAt: s.clock.Now().UTC(),
		Status:    model.RunRunning,
	}

	_, err := s.db.ExecContext(context.Background(),
		`INSERT INTO sync_runs (id, operation, base, branch, started_at, status) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Operation, run.Base, run.Branch, run.StartedAt, run.Status)
	if err != nil {
		return nil, fmt.Errorf("inserting sync run: %w", err)
	}
	return run, nil
}

func (s *SQLiteDatabase) FinishSyncRun(id, status string, counts model.SyncCounts) error {
	res, err := s.db.ExecContext(context.Background(),
		`UPDATE sync_runs
		    SET finished_at = ?, status = ?, new_count = ?, changed_count = ?, deleted_count = ?, failed_count = ?
		  WHERE id = ?`,
		s.clock.Now().UTC(), status, counts.New, counts.Changed, counts.Deleted, counts.Failed, id)
	if err != nil {
		return fmt.Errorf("finishing sync run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finishing sync run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finishing sync run: no run with id %s", id)
	}
	return nil
}

func (s *SQLiteDatabase) ListSyncRuns(limit int) ([]*model.SyncRun, error) {
	rows, err := s.db.QueryContext(context.Background(),
		`SELECT id, operation, base, branch, started_at, finished_at, status,
		        new_count, changed_count, deleted_count, failed_count
		   FROM sync_runs
		  ORDER BY seq DESC
		  LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sync runs: %w", err)
	}
	defer rows.Close()

	result := []*model.SyncRun{}
	for rows.Next() {
		run, err := scanSyncRun(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing sync runs: %w", err)
	}
	return result, nil
}

// FindSyncRun returns the run with the given id, or nil if there is none.
func (s *SQLiteDatabase) FindSyncRun(id string) (*model.SyncRun, error) {
	row := s.db.QueryRowContext(context.Background(),
		`SELECT id, operation, base, branch, started_at, finished_at, status,
		        new_count, changed_count, deleted_count, failed_count
		   FROM sync_runs
		  WHERE id = ?`, id)
	run, err := scanSyncRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	return run, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSyncRun(row scanner) (*model.SyncRun, error) {
	var (
		run      model.SyncRun
		finished sql.NullTime
	)
	err := row.Scan(&run.ID, &run.Operation, &run.Base, &run.Branch, &run.StartedAt, &finished, &run.Status,
		&run.Counts.New, &run.Counts.Changed, &run.Counts.Deleted, &run.Counts.Failed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning sync run: %w", err)
	}
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return &run, nil
}

// Path returns the database file path, empty for wrapped connections.
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// Migrate brings the schema up to date.
func (s *SQLiteDatabase) Migrate() error {
	return migrations.MigrateUp(s.db)
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	_, err := s.db.Exec("VACUUM INTO ?", destPath)
	if err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Compile-time check that SQLiteDatabase implements dsync.RunHistory interface
var _ dsync.RunHistory = (*SQLiteDatabase)(nil)
