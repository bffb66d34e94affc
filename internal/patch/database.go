package patch

import "svpatch/internal/model"

// Database is the append-only run index.
type Database interface {
	// InsertRun records a finished run. paths is stored only when the run status is OK.
	InsertRun(run *model.RunRecord, paths []*model.PathChange) (int64, error)

	// LastRun returns the most recent run, or nil when the index is empty.
	LastRun() (*model.RunRecord, error)

	// GetRun returns a run by id, or nil when it is unknown.
	GetRun(runID string) (*model.RunRecord, error)

	// ListRuns returns the most recent runs, newest first.
	ListRuns(limit int) ([]*model.RunRecord, error)

	// PathHistory returns every successful change recorded for path, newest first.
	PathHistory(path string) ([]*model.PathChange, error)

	// CheckMigrations verifies the schema is current.
	CheckMigrations() error

	// BackupTo writes a consistent copy of the index to destPath.
	BackupTo(destPath string) error

	Close() error
}
