package patch

import (
	"context"
	"time"

	"svpatch/internal/pipeline"
)

// RunInfo is what lineage recording needs to know when an apply run starts.
type RunInfo struct {
	Root           string
	PipelineRef    string
	Pipeline       pipeline.Pipeline
	Strict         bool
	Backup         bool
	RollbackOnFail bool
	Limits         Limits
	Allow          []string
	StartedAt      time.Time
}

// History opens lineage records for apply runs with backups.
type History interface {
	Begin(ctx context.Context, info RunInfo) (Journal, error)
}

// Journal is the lineage record of one run: its backups, diffs, manifest and
// index entries.
type Journal interface {
	// Meta returns the run identity to embed in the report.
	Meta() HistoryRecord

	// Backup stores the raw pre-image of path and returns where it was put,
	// relative to the run directory.
	Backup(path string, raw []byte) (string, error)

	// ReadBackup returns the bytes stored by Backup.
	ReadBackup(backupPath string) ([]byte, error)

	// Finish writes diffs, artifacts and the final manifest, records the run
	// in the index and fills rep.History. summary is the markdown summary text.
	Finish(ctx context.Context, rep *Report, summary string) error
}
