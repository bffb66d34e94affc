package patch

import "svpatch/internal/staging"

// Filesystem is the project tree the engine reads from and commits to.
// Paths are slash-separated and relative to the project root.
type Filesystem interface {
	staging.Disk

	// WriteFile replaces path atomically: readers see either the old or the new content.
	// Missing parent directories are created.
	WriteFile(path string, data []byte) error

	// Remove deletes a regular file.
	Remove(path string) error
}
