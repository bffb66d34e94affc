package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"svpatch/internal/config"
	"svpatch/internal/database"
	"svpatch/internal/encryption"
	"svpatch/internal/fs"
	"svpatch/internal/history"
	"svpatch/internal/model"
	"svpatch/internal/patch"
	"svpatch/internal/pipeline"
	"svpatch/internal/staging"
	"svpatch/internal/vault"
)

// SVPatchApp is the application layer between the CLI and the engine.
// It constructs all dependencies from config for one project root, exposes
// high-level operations that accept raw CLI values, and releases resources
// on Close.
type SVPatchApp struct {
	cfg     *config.Config
	root    string
	disk    *fs.OSDisk
	deny    *fs.DenyMatcher
	logger  patch.Logger
	logFile *os.File

	// PromptPassphrase reads the passphrase that unlocks the private key.
	PromptPassphrase func() (string, error)

	// Opened on first use so plan runs never create the history index.
	db        patch.Database
	vault     patch.Vault
	encryptor patch.Encryptor
	recorder  *history.Recorder
}

// NewSVPatchApp creates an app for the project at root. The caller must call Close.
func NewSVPatchApp(cfg *config.Config, root string, verbose bool) (*SVPatchApp, error) {
	if root == "" {
		root = "."
	}
	disk, err := fs.NewOSDisk(root)
	if err != nil {
		return nil, fmt.Errorf("opening project root: %w", err)
	}

	patterns, err := fs.ParseDenyFile(filepath.Join(disk.Root(), fs.DenyFileName))
	if err != nil {
		return nil, err
	}
	patterns = append(append(patterns, cfg.Safety.Deny...), historyDir(cfg))

	runID := time.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, runID, verbose)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	return &SVPatchApp{
		cfg:              cfg,
		root:             disk.Root(),
		disk:             disk,
		deny:             fs.NewDenyMatcher(patterns),
		logger:           &slogAdapter{l: logger},
		logFile:          logFile,
		PromptPassphrase: ReadPassphrase,
	}, nil
}

// Root returns the absolute project root.
func (a *SVPatchApp) Root() string {
	return a.root
}

func historyDir(cfg *config.Config) string {
	if cfg.History.Dir == "" {
		return config.DefaultHistoryDir
	}
	return patch.RelNorm(cfg.History.Dir)
}

// openHistory opens the run index, vault and encryptor and builds the recorder.
func (a *SVPatchApp) openHistory(ctx context.Context) (*history.Recorder, error) {
	if a.recorder != nil {
		return a.recorder, nil
	}
	dir := historyDir(a.cfg)

	db, err := database.NewDatabaseFromConfig(a.cfg.History, filepath.Join(a.root, filepath.FromSlash(dir)))
	if err != nil {
		return nil, fmt.Errorf("opening history index: %w", err)
	}
	if err := db.CheckMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("history index schema out of date: %w", err)
	}

	v, err := vault.NewVaultFromConfig(ctx, a.cfg.Vault)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating vault: %w", err)
	}
	if v != nil {
		if err := v.ValidateSetup(); err != nil {
			db.Close()
			return nil, fmt.Errorf("vault not usable: %w", err)
		}
		if err := a.checkIndexVersion(db, v); err != nil {
			db.Close()
			return nil, err
		}
	}

	enc, err := encryption.NewEncryptorFromConfig(a.cfg.Encryption)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}
	if enc != nil && !enc.IsConfigured() {
		db.Close()
		return nil, fmt.Errorf("encryption is enabled but no keys exist: run svpatch keys init")
	}

	a.db, a.vault, a.encryptor = db, v, enc
	a.recorder = history.NewRecorder(a.root, dir, db, v, enc, a.disk, a.logger, patch.RealClock{}, patch.UUIDGenerator{})
	return a.recorder, nil
}

// checkIndexVersion refuses to record new runs on a local index that is
// behind the snapshot archived in the vault.
func (a *SVPatchApp) checkIndexVersion(db patch.Database, v patch.Vault) error {
	remote, err := v.GetMetadataVersion(history.ProjectID(a.root), history.VaultIndexName)
	if err != nil {
		return fmt.Errorf("checking archived index version: %w", err)
	}
	last, err := db.LastRun()
	if err != nil {
		return fmt.Errorf("checking local index version: %w", err)
	}
	var local int64
	if last != nil {
		local = last.RowID
	}
	if remote > local {
		return fmt.Errorf("local history index is behind the vault (local=%d, remote=%d)", local, remote)
	}
	return nil
}

// Run executes a plan or apply invocation and writes its report. A pipeline
// that cannot be loaded or a history that cannot be opened fails the run
// inside the report rather than skipping it.
func (a *SVPatchApp) Run(ctx context.Context, opts RunOptions) (*patch.Report, error) {
	var preflight []*patch.Failure
	p, err := pipeline.LoadFile(a.pipelinePath(opts.PipelinePath))
	if err != nil {
		preflight = append(preflight, patch.NewFailure(patch.ErrPipeline, "%v", err))
		p = &pipeline.Pipeline{}
	}
	req, err := opts.request(a.cfg, a.root, p)
	if err != nil {
		return nil, err
	}
	req.Preflight = preflight

	var h patch.History
	if !req.PlanOnly && req.Backup && len(preflight) == 0 {
		rec, err := a.openHistory(ctx)
		if err != nil {
			a.logger.Error("history unavailable", "error", err)
			h = unavailableHistory{err: err}
		} else {
			h = rec
		}
	}

	newArea := func(d staging.Disk) (*staging.Area, error) {
		return staging.NewAreaFromConfig(a.cfg.Staging, d)
	}
	engine := patch.NewEngine(a.disk, newArea, h, a.deny, a.logger, patch.RealClock{})
	return engine.Run(ctx, req)
}

// pipelinePath resolves a relative descriptor path against the project root,
// the same way script paths are resolved.
func (a *SVPatchApp) pipelinePath(raw string) string {
	if filepath.IsAbs(raw) {
		return raw
	}
	return filepath.Join(a.root, raw)
}

// unavailableHistory stands in for a recorder that could not be opened, so the
// engine reports the failure as HISTORY_FAILED.
type unavailableHistory struct {
	err error
}

func (u unavailableHistory) Begin(context.Context, patch.RunInfo) (patch.Journal, error) {
	return nil, u.err
}

// History returns the most recent runs of the project, newest first.
func (a *SVPatchApp) History(ctx context.Context, limit int) ([]*model.RunRecord, error) {
	rec, err := a.openHistory(ctx)
	if err != nil {
		return nil, err
	}
	return rec.ListRuns(limit)
}

// PathLog returns the recorded changes to a file. rawPath may be absolute or
// relative to the working directory, or already relative to the root.
func (a *SVPatchApp) PathLog(ctx context.Context, rawPath string) ([]*model.PathChange, error) {
	rel, err := a.relative(rawPath)
	if err != nil {
		return nil, err
	}
	rec, err := a.openHistory(ctx)
	if err != nil {
		return nil, err
	}
	return rec.PathLog(rel)
}

// Show returns the manifest of a run.
func (a *SVPatchApp) Show(ctx context.Context, runID string) (*history.Manifest, error) {
	rec, err := a.openHistory(ctx)
	if err != nil {
		return nil, err
	}
	return rec.LoadManifest(runID)
}

// Restore undoes a past run. The passphrase is only requested when an
// encrypted pre-image has to come from the vault.
func (a *SVPatchApp) Restore(ctx context.Context, runID string, force bool) (*history.RestoreResult, error) {
	rec, err := a.openHistory(ctx)
	if err != nil {
		return nil, err
	}
	unlock := func() (patch.DecryptionContext, error) {
		if a.encryptor == nil {
			return nil, fmt.Errorf("archived pre-images are encrypted but encryption is not configured")
		}
		pass, err := a.PromptPassphrase()
		if err != nil {
			return nil, err
		}
		return a.encryptor.Unlock(pass)
	}
	return rec.Restore(ctx, runID, history.RestoreOptions{Force: force}, unlock)
}

func (a *SVPatchApp) relative(rawPath string) (string, error) {
	if !filepath.IsAbs(rawPath) {
		abs, err := filepath.Abs(rawPath)
		if err != nil {
			return "", fmt.Errorf("resolving path: %w", err)
		}
		if _, statErr := os.Stat(abs); statErr != nil {
			// Not present relative to the working directory: treat as root-relative.
			return patch.RelNorm(rawPath), nil
		}
		rawPath = abs
	}
	rel, err := filepath.Rel(a.root, rawPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside the project root %s", rawPath, a.root)
	}
	return filepath.ToSlash(rel), nil
}

// Close closes the history index and the log file.
func (a *SVPatchApp) Close() error {
	var firstErr error
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			firstErr = fmt.Errorf("closing history index: %w", err)
		}
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}

// InitKeys generates the age key pair named in cfg, protected by passphrase.
func InitKeys(cfg *config.Config, passphrase string) error {
	enc := encryption.NewAgeEncryptor(cfg.Encryption)
	if err := enc.Setup(passphrase); err != nil {
		return fmt.Errorf("generating keys: %w", err)
	}
	return nil
}
