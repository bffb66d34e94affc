package staging

import (
	"bytes"
	"fmt"
)

// VerifyUnchanged checks that the disk still holds the pre-image captured for
// a change. Commit refuses to overwrite a file that drifted after staging.
func VerifyUnchanged(disk Disk, c *Change) error {
	kind, err := disk.Kind(c.Path)
	if err != nil {
		return fmt.Errorf("re-stat %s: %w", c.Path, err)
	}
	if c.Original == nil {
		if kind != Missing {
			return fmt.Errorf("%s appeared on disk after staging", c.Path)
		}
		return nil
	}
	if kind != Regular {
		return fmt.Errorf("%s no longer a regular file", c.Path)
	}
	raw, err := disk.ReadFile(c.Path)
	if err != nil {
		return fmt.Errorf("re-reading %s: %w", c.Path, err)
	}
	if len(raw) != len(c.Original) {
		return fmt.Errorf("%s size changed: %d -> %d", c.Path, len(c.Original), len(raw))
	}
	if !bytes.Equal(raw, c.Original) {
		return fmt.Errorf("%s content changed since staging", c.Path)
	}
	return nil
}
