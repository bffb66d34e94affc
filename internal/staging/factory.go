package staging

import (
	"fmt"

	"svpatch/internal/config"
)

// NewAreaFromConfig creates a staging Area whose content store is chosen by the config type.
// An empty type selects the in-memory store.
func NewAreaFromConfig(cfg config.StagingConfig, disk Disk) (*Area, error) {
	switch cfg.Type {
	case "", "memory":
		return NewArea(disk), nil
	case "filesystem":
		if cfg.StagingDir == "" {
			return nil, fmt.Errorf("filesystem staging area requires staging_dir to be set")
		}
		store, err := newFilesystemStore(cfg.StagingDir)
		if err != nil {
			return nil, err
		}
		return newArea(disk, store), nil
	default:
		return nil, fmt.Errorf("unknown staging area type: %s", cfg.Type)
	}
}
