package history

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"svpatch/internal/patch"
	"svpatch/internal/staging"
)

// RestoreOptions controls Restore.
type RestoreOptions struct {
	// Force restores files whose current content no longer matches what the
	// run left behind.
	Force bool
}

// RestoreResult lists what Restore did, as root-relative paths.
type RestoreResult struct {
	RunID    string
	Restored []string
	Removed  []string
}

// Unlocker yields a decryption context. It is only called when an encrypted
// pre-image has to be fetched from the vault.
type Unlocker func() (patch.DecryptionContext, error)

// Restore undoes a past run: files it modified or deleted get their
// pre-images back and files it created are removed. Every file is checked for
// drift before anything is written, so a refused restore touches nothing.
func (r *Recorder) Restore(ctx context.Context, runID string, opts RestoreOptions, unlock Unlocker) (*RestoreResult, error) {
	r.logger.Info("restore started", "run_id", runID)

	m, err := r.LoadManifest(runID)
	if err != nil {
		return nil, err
	}
	if m.Status == patch.StatusRolledBack {
		return nil, fmt.Errorf("run %s was rolled back, nothing to restore", runID)
	}
	if m.Status == patch.StatusRunning {
		return nil, fmt.Errorf("run %s never finished", runID)
	}

	v := patch.NewValidator(r.root, nil, nil)
	for i := range m.Files {
		f := &m.Files[i]
		rel, fail := v.Normalize(f.Path)
		if fail != nil {
			return nil, fmt.Errorf("manifest of %s: %s", runID, fail.Message)
		}
		f.Path = rel
		if !opts.Force {
			if err := r.checkDrift(f); err != nil {
				return nil, fmt.Errorf("%w (use --force to overwrite)", err)
			}
		}
	}

	runPath := ""
	if run, err := r.database.GetRun(runID); err == nil && run != nil {
		runPath = run.RunPath
	}

	res := &RestoreResult{RunID: runID, Restored: []string{}, Removed: []string{}}
	var decryptCtx patch.DecryptionContext
	for i := len(m.Files) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		f := m.Files[i]
		if f.IsNew {
			kind, err := r.disk.Kind(f.Path)
			if err != nil {
				return res, fmt.Errorf("checking %s: %w", f.Path, err)
			}
			if kind == staging.Missing {
				continue
			}
			if err := r.disk.Remove(f.Path); err != nil {
				return res, fmt.Errorf("removing %s: %w", f.Path, err)
			}
			res.Removed = append(res.Removed, f.Path)
			r.logger.Info("file removed", "path", f.Path)
			continue
		}

		raw, err := r.preImage(runPath, m, f, unlock, &decryptCtx)
		if err != nil {
			return res, err
		}
		if err := r.disk.WriteFile(f.Path, raw); err != nil {
			return res, fmt.Errorf("restoring %s: %w", f.Path, err)
		}
		res.Restored = append(res.Restored, f.Path)
		r.logger.Info("file restored", "path", f.Path)
	}

	r.logger.Info("restore complete", "run_id", runID, "restored", len(res.Restored), "removed", len(res.Removed))
	return res, nil
}

// checkDrift verifies that f is still in the state the run left it in.
func (r *Recorder) checkDrift(f *ManifestFile) error {
	kind, err := r.disk.Kind(f.Path)
	if err != nil {
		return fmt.Errorf("checking %s: %w", f.Path, err)
	}
	if f.IsDeleted {
		if kind != staging.Missing {
			return fmt.Errorf("%s was recreated after the run", f.Path)
		}
		return nil
	}
	if kind != staging.Regular {
		return fmt.Errorf("%s is no longer a regular file", f.Path)
	}
	raw, err := r.disk.ReadFile(f.Path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", f.Path, err)
	}
	if got := staging.SHA256Text(staging.NormalizeNewlines(string(raw))); got != deref(f.SHA256After) {
		return fmt.Errorf("%s changed since the run", f.Path)
	}
	return nil
}

// preImage returns the bytes f had before the run: from the local backup when
// it still exists, otherwise from the vault.
func (r *Recorder) preImage(runPath string, m *Manifest, f ManifestFile, unlock Unlocker, decryptCtx *patch.DecryptionContext) ([]byte, error) {
	if f.BackupPath != nil && runPath != "" {
		raw, err := os.ReadFile(r.abs(path.Join(runPath, *f.BackupPath)))
		if err == nil {
			return raw, nil
		}
		r.logger.Debug("local backup unavailable", "path", f.Path, "error", err)
	}

	if f.ArchiveChecksum == "" || r.vault == nil {
		return nil, fmt.Errorf("no pre-image available for %s", f.Path)
	}

	if m.Archive == nil || !m.Archive.Encrypted {
		var buf bytes.Buffer
		if err := r.vault.GetContent(f.ArchiveChecksum, &buf); err != nil {
			return nil, fmt.Errorf("retrieving %s from vault: %w", f.Path, err)
		}
		return buf.Bytes(), nil
	}

	if *decryptCtx == nil {
		if unlock == nil {
			return nil, fmt.Errorf("pre-image of %s is encrypted but no passphrase was provided", f.Path)
		}
		dc, err := unlock()
		if err != nil {
			return nil, fmt.Errorf("unlocking private key: %w", err)
		}
		*decryptCtx = dc
	}

	// Pipe vault output straight into the decryptor.
	pr, pw := io.Pipe()
	vaultErrCh := make(chan error, 1)
	go func() {
		err := r.vault.GetContent(f.ArchiveChecksum, pw)
		pw.CloseWithError(err)
		vaultErrCh <- err
	}()

	var out bytes.Buffer
	decryptErr := (*decryptCtx).Decrypt(pr, &out)
	pr.CloseWithError(decryptErr)
	vaultErr := <-vaultErrCh

	if decryptErr != nil {
		return nil, fmt.Errorf("decrypting %s: %w", f.Path, decryptErr)
	}
	if vaultErr != nil {
		return nil, fmt.Errorf("retrieving %s from vault: %w", f.Path, vaultErr)
	}
	return out.Bytes(), nil
}
