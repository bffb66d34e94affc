package vault

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"svpatch/internal/patch"
)

// FileSystemVault archives into a directory tree:
//
//	<root>/
//	  content/
//	    <cc>/<checksum>          (pre-images, sharded by the first two hex chars)
//	  projects/
//	    <projectID>/<name>       (run metadata, e.g. runs/<run_id>/manifest.json)
//	    <projectID>/<name>.version
type FileSystemVault struct {
	name        string
	root        string
	contentDir  string
	projectsDir string
}

// NewFileSystemVault creates a vault rooted at root, creating its layout.
func NewFileSystemVault(name, root string) (*FileSystemVault, error) {
	v := &FileSystemVault{
		name:        name,
		root:        root,
		contentDir:  filepath.Join(root, "content"),
		projectsDir: filepath.Join(root, "projects"),
	}
	for _, dir := range []string{v.contentDir, v.projectsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating vault directory: %w", err)
		}
	}
	return v, nil
}

func (v *FileSystemVault) contentPath(checksum string) (string, error) {
	if len(checksum) < 3 || strings.ContainsAny(checksum, `/\.`) {
		return "", fmt.Errorf("invalid checksum %q", checksum)
	}
	return filepath.Join(v.contentDir, checksum[:2], checksum), nil
}

func (v *FileSystemVault) metadataPath(projectID, name string) (string, error) {
	clean := path.Clean("/" + strings.ReplaceAll(name, `\`, "/"))
	if projectID == "" || strings.ContainsAny(projectID, `/\`) || clean == "/" {
		return "", fmt.Errorf("invalid metadata key %s/%s", projectID, name)
	}
	return filepath.Join(v.projectsDir, projectID, filepath.FromSlash(clean[1:])), nil
}

// PutContent stores a pre-image. Existing content is kept; the reader is still
// drained so size is verified.
func (v *FileSystemVault) PutContent(checksum string, r io.Reader, size int64) error {
	dest, err := v.contentPath(checksum)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dest); err == nil {
		n, err := io.Copy(io.Discard, r)
		if err != nil {
			return fmt.Errorf("failed to read content: %w", err)
		}
		if n != size {
			return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, n)
		}
		return nil
	}
	return writeAtomic(dest, r, size)
}

func (v *FileSystemVault) GetContent(checksum string, w io.Writer) error {
	src, err := v.contentPath(checksum)
	if err != nil {
		return err
	}
	return copyFile(src, w, "content not found: "+checksum)
}

func (v *FileSystemVault) PutMetadata(projectID, name string, r io.Reader, size int64, version int64) error {
	dest, err := v.metadataPath(projectID, name)
	if err != nil {
		return err
	}
	if err := writeAtomic(dest, r, size); err != nil {
		return err
	}
	return os.WriteFile(dest+".version", []byte(strconv.FormatInt(version, 10)), 0o644)
}

func (v *FileSystemVault) GetMetadata(projectID, name string, w io.Writer) error {
	src, err := v.metadataPath(projectID, name)
	if err != nil {
		return err
	}
	return copyFile(src, w, fmt.Sprintf("metadata %q not found for project %s", name, projectID))
}

// GetMetadataVersion returns 0 when the item has no version file.
func (v *FileSystemVault) GetMetadataVersion(projectID, name string) (int64, error) {
	p, err := v.metadataPath(projectID, name)
	if err != nil {
		return 0, err
	}
	data, err := os.ReadFile(p + ".version")
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading version file: %w", err)
	}
	version, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing version: %w", err)
	}
	return version, nil
}

// ValidateSetup verifies that the vault directories exist.
func (v *FileSystemVault) ValidateSetup() error {
	for _, dir := range []string{v.root, v.contentDir, v.projectsDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("vault directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("vault path is not a directory: %s", dir)
		}
	}
	return nil
}

// writeAtomic copies r into dest through a temp file in the same directory.
func writeAtomic(dest string, r io.Reader, size int64) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	renamed := false
	defer func() {
		if !renamed {
			os.Remove(tmpPath)
		}
	}()

	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if n != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, n)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	renamed = true
	return nil
}

func copyFile(src string, w io.Writer, notFound string) error {
	f, err := os.Open(src)
	if errors.Is(err, fs.ErrNotExist) {
		return errors.New(notFound)
	}
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	return nil
}

var _ patch.Vault = (*FileSystemVault)(nil)
