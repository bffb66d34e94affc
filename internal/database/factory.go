package database

import (
	"fmt"
	"path/filepath"

	"svpatch/internal/config"
	"svpatch/internal/patch"
)

// IndexFileName is the index database file inside <history_dir>/index.
const IndexFileName = "history.db"

// NewDatabaseFromConfig creates the run index for a project whose history
// lives in historyDir.
func NewDatabaseFromConfig(cfg config.HistoryConfig, historyDir string) (patch.Database, error) {
	switch cfg.Database {
	case "", "sqlite":
		if historyDir == "" {
			return nil, fmt.Errorf("history dir required for sqlite index")
		}
		return open(filepath.Join(historyDir, "index", IndexFileName))
	case "memory":
		return open(memoryPath)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Database)
	}
}

// open keeps a failed open from yielding a typed nil inside the interface.
func open(path string) (patch.Database, error) {
	db, err := NewSQLiteDatabase(path)
	if err != nil {
		return nil, err
	}
	return db, nil
}
