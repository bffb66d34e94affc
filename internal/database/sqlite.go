package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"svpatch/internal/database/migrations"
	"svpatch/internal/model"
	"svpatch/internal/patch"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const memoryPath = ":memory:"

const runColumns = `id, run_id, change_id, parent_run_id, status, applied_at, root, files_changed, errors_count, run_path`

const pathColumns = `path, run_id, change_id, action, sha256_before, sha256_after, bytes_before, bytes_after, applied_at, status`

// SQLiteDatabase is the run index backed by SQLite.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
}

// NewSQLiteDatabase opens the index at path, creating it and its parent
// directory when needed, and migrates it to the current schema.
// path can be ":memory:" for an in-memory index.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	if path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating index directory: %w", err)
		}
	}
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteDatabase{db: db, path: path}, nil
}

// NewSQLiteDatabaseFromDB wraps an existing, already migrated connection.
func NewSQLiteDatabaseFromDB(db *sql.DB) *SQLiteDatabase {
	return &SQLiteDatabase{db: db}
}

// OpenConnection opens a SQLite connection with foreign keys enabled.
// An in-memory database is pinned to one connection so every query sees the same data.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == memoryPath {
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	return db, nil
}

// InsertRun stores the run row and, for OK runs, its path changes in one transaction.
func (s *SQLiteDatabase) InsertRun(run *model.RunRecord, paths []*model.PathChange) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO runs (run_id, change_id, parent_run_id, status, applied_at, root, files_changed, errors_count, run_path)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.ChangeID, run.ParentRunID, run.Status, formatTime(run.AppliedAt),
		run.Root, run.FilesChanged, run.ErrorsCount, run.RunPath,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting run %s: %w", run.RunID, err)
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading run row id: %w", err)
	}

	if run.Status == string(patch.StatusOK) {
		stmt, err := tx.Prepare(`INSERT INTO path_changes (` + pathColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return 0, fmt.Errorf("preparing path insert: %w", err)
		}
		defer stmt.Close()
		for _, p := range paths {
			if _, err := stmt.Exec(
				p.Path, run.RunID, p.ChangeID, p.Action, p.SHA256Before, p.SHA256After,
				p.BytesBefore, p.BytesAfter, formatTime(p.AppliedAt), p.Status,
			); err != nil {
				return 0, fmt.Errorf("inserting path change %s: %w", p.Path, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing run %s: %w", run.RunID, err)
	}
	run.RowID = rowID
	return rowID, nil
}

// LastRun returns the most recently recorded run, or nil.
func (s *SQLiteDatabase) LastRun() (*model.RunRecord, error) {
	row := s.db.QueryRow(`SELECT ` + runColumns + ` FROM runs ORDER BY id DESC LIMIT 1`)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding last run: %w", err)
	}
	return run, nil
}

// GetRun returns the run with runID, or nil.
func (s *SQLiteDatabase) GetRun(runID string) (*model.RunRecord, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding run %s: %w", runID, err)
	}
	return run, nil
}

// ListRuns returns up to limit runs, newest first. limit <= 0 returns all runs.
func (s *SQLiteDatabase) ListRuns(limit int) ([]*model.RunRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []*model.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("listing runs: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// PathHistory returns every recorded change to path, newest first.
func (s *SQLiteDatabase) PathHistory(path string) ([]*model.PathChange, error) {
	rows, err := s.db.Query(`SELECT `+pathColumns+` FROM path_changes WHERE path = ? ORDER BY id DESC`, path)
	if err != nil {
		return nil, fmt.Errorf("querying history of %s: %w", path, err)
	}
	defer rows.Close()

	var changes []*model.PathChange
	for rows.Next() {
		var (
			c         model.PathChange
			appliedAt string
		)
		if err := rows.Scan(
			&c.Path, &c.RunID, &c.ChangeID, &c.Action, &c.SHA256Before, &c.SHA256After,
			&c.BytesBefore, &c.BytesAfter, &appliedAt, &c.Status,
		); err != nil {
			return nil, fmt.Errorf("scanning path change: %w", err)
		}
		if c.AppliedAt, err = parseTime(appliedAt); err != nil {
			return nil, err
		}
		changes = append(changes, &c)
	}
	return changes, rows.Err()
}

// Path returns the database file path, empty for wrapped connections.
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.Check(s.db)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
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

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*model.RunRecord, error) {
	var (
		r         model.RunRecord
		appliedAt string
	)
	if err := row.Scan(
		&r.RowID, &r.RunID, &r.ChangeID, &r.ParentRunID, &r.Status, &appliedAt,
		&r.Root, &r.FilesChanged, &r.ErrorsCount, &r.RunPath,
	); err != nil {
		return nil, err
	}
	t, err := parseTime(appliedAt)
	if err != nil {
		return nil, err
	}
	r.AppliedAt = t
	return &r, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

var _ patch.Database = (*SQLiteDatabase)(nil)
