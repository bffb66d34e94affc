package history

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"svpatch/internal/model"
	"svpatch/internal/patch"
)

// journal is the lineage record of one apply run.
type journal struct {
	rec      *Recorder
	info     patch.RunInfo
	runID    string
	changeID string
	parent   string
	runAbs   string
	runPath  string // relative to the project root
	manifest *Manifest
	backups  map[string]string // file path -> backup path relative to the run dir
}

func (j *journal) Meta() patch.HistoryRecord {
	return patch.HistoryRecord{
		Enabled:      true,
		RunID:        j.runID,
		ChangeID:     j.changeID,
		ParentRunID:  j.parent,
		RunPath:      j.runPath,
		ManifestPath: path.Join(j.runPath, ManifestFileName),
	}
}

// runFile resolves a run-relative slash path, refusing anything that leaves the run dir.
func (j *journal) runFile(rel string) (string, error) {
	clean := path.Clean(rel)
	if clean == "." || path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid run path %q", rel)
	}
	return filepath.Join(j.runAbs, filepath.FromSlash(clean)), nil
}

func (j *journal) Backup(p string, raw []byte) (string, error) {
	rel := path.Join("before", p) + ".bak"
	abs, err := j.runFile(rel)
	if err != nil {
		return "", err
	}
	if err := patch.WriteFileAtomic(abs, raw); err != nil {
		return "", err
	}
	j.backups[p] = rel
	return rel, nil
}

func (j *journal) ReadBackup(backupPath string) ([]byte, error) {
	abs, err := j.runFile(backupPath)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(abs)
}

// Finish writes diffs, archives pre-images, writes artifacts and the final
// manifest, then records the run in the index. Every step is attempted; the
// returned error joins whatever failed.
func (j *journal) Finish(ctx context.Context, rep *patch.Report, summary string) error {
	r := j.rec
	status := rep.HistoryStatus()
	finished := r.clock.Now()
	var errs []error

	files, err := j.manifestFiles(rep)
	if err != nil {
		errs = append(errs, err)
	}

	if r.vault != nil {
		if ctx.Err() != nil {
			r.logger.Warn("skipping archive of cancelled run", "run_id", j.runID)
		} else if err := j.archivePreImages(files); err != nil {
			errs = append(errs, fmt.Errorf("archiving pre-images: %w", err))
		}
	}

	rep.History.Status = status
	rep.History.Artifacts = &patch.ArtifactPaths{
		ReportPath:  path.Join(j.runPath, ReportArtifact),
		SummaryPath: path.Join(j.runPath, SummaryArtifact),
	}
	if err := patch.WriteJSONFile(filepath.Join(j.runAbs, filepath.FromSlash(ReportArtifact)), rep); err != nil {
		errs = append(errs, fmt.Errorf("writing report artifact: %w", err))
	}
	if err := patch.WriteFileAtomic(filepath.Join(j.runAbs, filepath.FromSlash(SummaryArtifact)), []byte(summary)); err != nil {
		errs = append(errs, fmt.Errorf("writing summary artifact: %w", err))
	}

	m := j.manifest
	m.Status = status
	m.FinishedAt = optional(isoTime(finished))
	m.Files = files
	m.sortFiles()
	m.Stats = ManifestStats{
		FilesChanged: len(files),
		ErrorsCount:  len(rep.Errors),
		DurationMS:   rep.DurationMS,
	}
	for _, f := range files {
		m.Stats.BytesWritten += f.BytesAfter
	}
	m.Artifacts = &patch.ArtifactPaths{ReportPath: ReportArtifact, SummaryPath: SummaryArtifact}
	m.Rollback = rep.Rollback
	m.Errors = rep.Errors
	if err := j.writeManifest(); err != nil {
		errs = append(errs, err)
	}

	rowID, err := r.database.InsertRun(j.runRecord(finished), j.pathChanges(finished))
	if err != nil {
		errs = append(errs, fmt.Errorf("recording run in index: %w", err))
	}

	if r.vault != nil && err == nil && ctx.Err() == nil {
		if err := j.archiveMetadata(rowID); err != nil {
			errs = append(errs, fmt.Errorf("archiving run metadata: %w", err))
		}
	}

	r.logger.Info("run history recorded", "run_id", j.runID, "status", string(status), "files", len(files))
	return errors.Join(errs...)
}

// manifestFiles builds one entry per changed file and writes its diff.
func (j *journal) manifestFiles(rep *patch.Report) ([]ManifestFile, error) {
	files := make([]ManifestFile, 0, len(rep.Changes))
	var errs []error
	for _, c := range rep.Changes {
		f := ManifestFile{
			Path:         c.Path,
			Action:       string(c.Action),
			IsNew:        c.IsNew,
			IsDeleted:    c.IsDeleted,
			SHA256Before: optional(c.SHA256Before),
			SHA256After:  optional(c.SHA256After),
			BytesBefore:  c.BytesBefore,
			BytesAfter:   c.BytesAfter,
			BackupPath:   optional(j.backups[c.Path]),
		}
		if c.Diff != "" {
			rel := path.Join("patches", c.Path) + ".diff"
			diff := c.Diff
			if !strings.HasSuffix(diff, "\n") {
				diff += "\n"
			}
			if err := patch.WriteFileAtomic(filepath.Join(j.runAbs, filepath.FromSlash(rel)), []byte(diff)); err != nil {
				errs = append(errs, fmt.Errorf("writing diff for %s: %w", c.Path, err))
			} else {
				f.DiffPath = optional(rel)
			}
		}
		files = append(files, f)
	}
	return files, errors.Join(errs...)
}

func (j *journal) runRecord(finished time.Time) *model.RunRecord {
	return &model.RunRecord{
		RunID:        j.runID,
		ChangeID:     j.changeID,
		ParentRunID:  j.parent,
		Status:       string(j.manifest.Status),
		AppliedAt:    finished,
		Root:         j.info.Root,
		FilesChanged: j.manifest.Stats.FilesChanged,
		ErrorsCount:  j.manifest.Stats.ErrorsCount,
		RunPath:      j.runPath,
	}
}

func (j *journal) pathChanges(finished time.Time) []*model.PathChange {
	out := make([]*model.PathChange, 0, len(j.manifest.Files))
	for _, f := range j.manifest.Files {
		out = append(out, &model.PathChange{
			Path:         f.Path,
			RunID:        j.runID,
			ChangeID:     j.changeID,
			Action:       f.Action,
			SHA256Before: deref(f.SHA256Before),
			SHA256After:  deref(f.SHA256After),
			BytesBefore:  f.BytesBefore,
			BytesAfter:   f.BytesAfter,
			AppliedAt:    finished,
			Status:       string(j.manifest.Status),
		})
	}
	return out
}

func (j *journal) writeManifest() error {
	if err := patch.WriteJSONFile(filepath.Join(j.runAbs, ManifestFileName), j.manifest); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var _ patch.Journal = (*journal)(nil)
