package history

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
)

// Vault item names, relative to the project. VaultIndexName holds the latest
// index snapshot, versioned by the row id of the newest run.
const (
	VaultIndexName = "index/history.db"
	vaultRunsDir   = "runs"
)

// archivePreImages uploads every backed-up pre-image to the vault. Content is
// encrypted first when an encryptor is configured and stored under the
// checksum of the stored bytes, so identical pre-images are uploaded once.
func (j *journal) archivePreImages(files []ManifestFile) error {
	r := j.rec
	encrypted := r.encryptor != nil
	var errs []error
	for i := range files {
		f := &files[i]
		if f.BackupPath == nil {
			continue
		}
		raw, err := j.ReadBackup(*f.BackupPath)
		if err != nil {
			errs = append(errs, fmt.Errorf("reading backup of %s: %w", f.Path, err))
			continue
		}
		stored := raw
		if encrypted {
			var buf bytes.Buffer
			if err := r.encryptor.Encrypt(bytes.NewReader(raw), &buf); err != nil {
				errs = append(errs, fmt.Errorf("encrypting %s: %w", f.Path, err))
				continue
			}
			stored = buf.Bytes()
		}
		sum := sha256.Sum256(stored)
		checksum := hex.EncodeToString(sum[:])
		if err := r.vault.PutContent(checksum, bytes.NewReader(stored), int64(len(stored))); err != nil {
			errs = append(errs, fmt.Errorf("uploading %s: %w", f.Path, err))
			continue
		}
		f.ArchiveChecksum = checksum
		r.logger.Debug("pre-image archived", "path", f.Path, "checksum", checksum)
	}
	j.manifest.Archive = &ManifestArchive{ProjectID: ProjectID(r.root), Encrypted: encrypted}
	return errors.Join(errs...)
}

// archiveMetadata uploads the manifest, the report and a snapshot of the run
// index. version is the index row id of the run, so newer snapshots carry
// higher versions.
func (j *journal) archiveMetadata(version int64) error {
	r := j.rec
	projectID := ProjectID(r.root)
	runDir := path.Join(vaultRunsDir, j.runID)

	for _, item := range []struct{ local, name string }{
		{ManifestFileName, path.Join(runDir, ManifestFileName)},
		{ReportArtifact, path.Join(runDir, path.Base(ReportArtifact))},
	} {
		data, err := os.ReadFile(filepath.Join(j.runAbs, filepath.FromSlash(item.local)))
		if err != nil {
			return err
		}
		if err := r.vault.PutMetadata(projectID, item.name, bytes.NewReader(data), int64(len(data)), version); err != nil {
			return fmt.Errorf("uploading %s: %w", item.name, err)
		}
	}

	tmp, err := os.MkdirTemp("", "svpatch-index-*")
	if err != nil {
		return fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)
	snapshot := filepath.Join(tmp, "history.db")
	if err := r.database.BackupTo(snapshot); err != nil {
		return fmt.Errorf("snapshotting index: %w", err)
	}
	data, err := os.ReadFile(snapshot)
	if err != nil {
		return err
	}
	if err := r.vault.PutMetadata(projectID, VaultIndexName, bytes.NewReader(data), int64(len(data)), version); err != nil {
		return fmt.Errorf("uploading index snapshot: %w", err)
	}
	r.logger.Info("run archived", "run_id", j.runID, "project_id", projectID, "version", version)
	return nil
}
