package history

import (
	"bytes"
	"fmt"
	"path"

	"svpatch/internal/model"
	"svpatch/internal/patch"
)

// ListRuns returns the most recent runs, newest first. limit <= 0 returns all.
func (r *Recorder) ListRuns(limit int) ([]*model.RunRecord, error) {
	runs, err := r.database.ListRuns(limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}

// PathLog returns every successful change recorded for a root-relative path,
// newest first.
func (r *Recorder) PathLog(p string) ([]*model.PathChange, error) {
	rel := patch.RelNorm(p)
	if rel == "" || rel == "." {
		return nil, fmt.Errorf("path is required")
	}
	r.logger.Debug("fetching path history", "path", rel)

	changes, err := r.database.PathHistory(rel)
	if err != nil {
		return nil, fmt.Errorf("reading history of %s: %w", rel, err)
	}
	return changes, nil
}

// LoadManifest returns the manifest of a run. The local run directory is
// read first; when it is gone the archived copy in the vault is used.
func (r *Recorder) LoadManifest(runID string) (*Manifest, error) {
	if !ValidRunID(runID) {
		return nil, fmt.Errorf("invalid run id %q", runID)
	}

	run, err := r.database.GetRun(runID)
	if err != nil {
		return nil, fmt.Errorf("finding run: %w", err)
	}
	runPath := ""
	if run != nil {
		runPath = run.RunPath
	} else {
		rel, err := RunDir(runID)
		if err != nil {
			return nil, err
		}
		runPath = path.Join(r.dir, rel)
	}

	m, localErr := ReadManifest(r.abs(path.Join(runPath, ManifestFileName)))
	if localErr == nil {
		return m, nil
	}
	if r.vault == nil {
		if run == nil {
			return nil, fmt.Errorf("unknown run %s", runID)
		}
		return nil, fmt.Errorf("reading manifest of %s: %w", runID, localErr)
	}

	r.logger.Debug("local manifest unavailable, trying vault", "run_id", runID, "error", localErr)
	var buf bytes.Buffer
	name := path.Join(vaultRunsDir, runID, ManifestFileName)
	if err := r.vault.GetMetadata(ProjectID(r.root), name, &buf); err != nil {
		return nil, fmt.Errorf("manifest of %s not found locally (%v) or in vault: %w", runID, localErr, err)
	}
	return decodeManifest(buf.Bytes())
}
