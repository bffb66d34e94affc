package fs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"svpatch/internal/patch"
	"svpatch/internal/staging"
)

// OSDisk is the real filesystem implementation of patch.Filesystem.
// All paths it receives are slash-separated and relative to Root.
type OSDisk struct {
	root string

	// beforeRename, when set, runs after the temp file is written and synced
	// but before it replaces the target. Tests use it to inject failures.
	beforeRename func(target string) error
}

// NewOSDisk creates a disk rooted at the given project directory.
func NewOSDisk(root string) (*OSDisk, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving absolute path: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root is not a directory: %s", absRoot)
	}
	return &OSDisk{root: absRoot}, nil
}

// Root returns the absolute project root.
func (d *OSDisk) Root() string {
	return d.root
}

// SetBeforeRename installs a hook that runs before each atomic rename.
func (d *OSDisk) SetBeforeRename(hook func(target string) error) {
	d.beforeRename = hook
}

func (d *OSDisk) abs(rel string) string {
	return filepath.Join(d.root, filepath.FromSlash(rel))
}

// Kind reports what the path refers to. Special files are rejected.
func (d *OSDisk) Kind(rel string) (staging.EntryKind, error) {
	info, err := os.Lstat(d.abs(rel))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return staging.Missing, nil
		}
		return staging.Missing, fmt.Errorf("stat path: %w", err)
	}

	mode := info.Mode()
	switch {
	case mode.IsDir():
		return staging.Directory, nil
	case mode.IsRegular():
		return staging.Regular, nil
	case mode&os.ModeSymlink != 0:
		return staging.Missing, fmt.Errorf("symlinks not supported: %s", rel)
	case mode&os.ModeDevice != 0:
		return staging.Missing, fmt.Errorf("device files not supported: %s", rel)
	case mode&os.ModeNamedPipe != 0:
		return staging.Missing, fmt.Errorf("named pipes not supported: %s", rel)
	case mode&os.ModeSocket != 0:
		return staging.Missing, fmt.Errorf("sockets not supported: %s", rel)
	}
	return staging.Missing, fmt.Errorf("unsupported file type: %s", rel)
}

// ReadFile returns the raw bytes of a regular file.
func (d *OSDisk) ReadFile(rel string) ([]byte, error) {
	return os.ReadFile(d.abs(rel))
}

// WriteFile atomically replaces the file at rel with data. Parent directories
// are created as needed. An existing file keeps its mode and, where the
// platform allows, its ownership.
func (d *OSDisk) WriteFile(rel string, data []byte) error {
	target := d.abs(rel)
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating parent directories: %w", err)
	}

	mode := fs.FileMode(0o644)
	existing, statErr := os.Stat(target)
	if statErr == nil {
		mode = existing.Mode().Perm()
	}

	tmp, err := os.CreateTemp(dir, ".svpatch-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return fmt.Errorf("setting mode: %w", err)
	}
	if existing != nil {
		preserveOwner(tmpName, existing)
	}

	if d.beforeRename != nil {
		if err := d.beforeRename(rel); err != nil {
			return err
		}
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("replacing %s: %w", rel, err)
	}
	committed = true
	return nil
}

// Remove deletes a file. A file that is already gone is not an error.
func (d *OSDisk) Remove(rel string) error {
	if err := os.Remove(d.abs(rel)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", rel, err)
	}
	return nil
}

// Compile-time check that OSDisk implements patch.Filesystem interface
var _ patch.Filesystem = (*OSDisk)(nil)
