// Package history records the lineage of apply runs: pre-image backups,
// per-file diffs, manifests, the run index and the optional vault archive.
package history

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"svpatch/internal/patch"
)

const maxRunIDAttempts = 50

// Recorder owns the history directory of one project.
type Recorder struct {
	root      string // absolute project root
	dir       string // history dir relative to root, slash separated
	database  patch.Database
	vault     patch.Vault     // optional
	encryptor patch.Encryptor // optional
	disk      patch.Filesystem
	logger    patch.Logger
	clock     patch.Clock
	idgen     patch.IDGenerator
}

// NewRecorder creates a Recorder for the project at root whose history lives
// in dir (relative to root). vault and encryptor may be nil.
func NewRecorder(root, dir string, database patch.Database, vault patch.Vault, encryptor patch.Encryptor, disk patch.Filesystem, logger patch.Logger, clock patch.Clock, idgen patch.IDGenerator) *Recorder {
	return &Recorder{
		root:      root,
		dir:       patch.RelNorm(dir),
		database:  database,
		vault:     vault,
		encryptor: encryptor,
		disk:      disk,
		logger:    logger,
		clock:     clock,
		idgen:     idgen,
	}
}

// Dir returns the absolute history directory.
func (r *Recorder) Dir() string {
	return filepath.Join(r.root, filepath.FromSlash(r.dir))
}

// abs resolves a root-relative slash path.
func (r *Recorder) abs(rel string) string {
	return filepath.Join(r.root, filepath.FromSlash(rel))
}

// Begin claims a fresh run directory, writes the bootstrap manifest and
// returns the journal for the run.
func (r *Recorder) Begin(ctx context.Context, info patch.RunInfo) (patch.Journal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	parent := ""
	last, err := r.database.LastRun()
	if err != nil {
		return nil, fmt.Errorf("finding parent run: %w", err)
	}
	if last != nil {
		parent = last.RunID
	}

	runID, runRel, err := r.claimRunDir()
	if err != nil {
		return nil, err
	}
	runPath := path.Join(r.dir, runRel)
	runAbs := r.abs(runPath)
	for _, sub := range []string{"before", "patches", "artifacts"} {
		if err := os.MkdirAll(filepath.Join(runAbs, sub), 0o755); err != nil {
			return nil, fmt.Errorf("creating run directory: %w", err)
		}
	}

	changeID, err := ChangeID(info.Root, info.Pipeline, info.Strict, info.Allow)
	if err != nil {
		return nil, err
	}

	j := &journal{
		rec:      r,
		info:     info,
		runID:    runID,
		changeID: changeID,
		parent:   parent,
		runAbs:   runAbs,
		runPath:  runPath,
		manifest: bootstrapManifest(runID, changeID, parent, info),
		backups:  make(map[string]string),
	}
	if err := j.writeManifest(); err != nil {
		return nil, err
	}

	r.logger.Info("run history started", "run_id", runID, "change_id", changeID, "parent", parent)
	return j, nil
}

// claimRunDir creates a run directory for a new run id. os.Mkdir fails when
// the directory exists, so two runs can never share one.
func (r *Recorder) claimRunDir() (string, string, error) {
	for attempt := 0; attempt < maxRunIDAttempts; attempt++ {
		runID := NewRunID(r.clock.Now(), r.idgen)
		rel, err := RunDir(runID)
		if err != nil {
			return "", "", err
		}
		abs := r.abs(path.Join(r.dir, rel))
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return "", "", fmt.Errorf("creating history directory: %w", err)
		}
		err = os.Mkdir(abs, 0o755)
		if err == nil {
			return runID, rel, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", "", fmt.Errorf("creating run directory: %w", err)
		}
	}
	return "", "", fmt.Errorf("could not allocate a unique run id after %d attempts", maxRunIDAttempts)
}

var _ patch.History = (*Recorder)(nil)
