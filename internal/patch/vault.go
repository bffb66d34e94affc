package patch

import "io"

// Vault is an optional off-tree archive for run artifacts.
// All operations stream through io.Reader/io.Writer.
type Vault interface {
	// PutContent stores a pre-image identified by its checksum.
	// Storing the same checksum more than once is safe.
	PutContent(checksum string, r io.Reader, size int64) error

	// GetContent retrieves a pre-image by checksum and writes it to w.
	GetContent(checksum string, w io.Writer) error

	// PutMetadata stores a named item for a project, e.g. "runs/<run_id>/manifest.json".
	// version is stored alongside the item.
	PutMetadata(projectID string, name string, r io.Reader, size int64, version int64) error

	// GetMetadata retrieves a named item for a project and writes it to w.
	GetMetadata(projectID string, name string, w io.Writer) error

	// GetMetadataVersion returns the stored version of an item, or 0 when absent.
	GetMetadataVersion(projectID string, name string) (int64, error)

	// ValidateSetup verifies that the vault is reachable and configured.
	ValidateSetup() error
}
