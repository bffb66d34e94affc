package database

import (
	"os"
	"path/filepath"
	"testing"

	"svpatch/internal/config"
)

func TestNewDatabaseFromConfig(t *testing.T) {
	t.Run("memory database", func(t *testing.T) {
		got, err := NewDatabaseFromConfig(config.HistoryConfig{Database: "memory"}, "")
		if err != nil {
			t.Fatalf("NewDatabaseFromConfig() unexpected error: %v", err)
		}
		got.Close()
	})

	t.Run("sqlite database", func(t *testing.T) {
		dir := t.TempDir()
		got, err := NewDatabaseFromConfig(config.HistoryConfig{Database: "sqlite"}, dir)
		if err != nil {
			t.Fatalf("NewDatabaseFromConfig() unexpected error: %v", err)
		}
		defer got.Close()

		if _, err := os.Stat(filepath.Join(dir, "index", IndexFileName)); err != nil {
			t.Errorf("index file not created: %v", err)
		}
		if err := got.CheckMigrations(); err != nil {
			t.Errorf("CheckMigrations() = %v", err)
		}
	})

	t.Run("empty type defaults to sqlite", func(t *testing.T) {
		got, err := NewDatabaseFromConfig(config.HistoryConfig{}, t.TempDir())
		if err != nil {
			t.Fatalf("NewDatabaseFromConfig() unexpected error: %v", err)
		}
		got.Close()
	})

	t.Run("sqlite database without history dir", func(t *testing.T) {
		got, err := NewDatabaseFromConfig(config.HistoryConfig{Database: "sqlite"}, "")
		if err == nil {
			t.Error("NewDatabaseFromConfig() expected error for missing history dir, got nil")
		}
		if got != nil {
			t.Error("NewDatabaseFromConfig() should return nil on error")
		}
	})

	t.Run("sqlite database under a regular file", func(t *testing.T) {
		blocked := filepath.Join(t.TempDir(), "data")
		if err := os.WriteFile(blocked, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		got, err := NewDatabaseFromConfig(config.HistoryConfig{Database: "sqlite"}, filepath.Join(blocked, "history"))
		if err == nil {
			t.Error("NewDatabaseFromConfig() expected error when the history dir cannot be created, got nil")
		}
		if got != nil {
			t.Error("NewDatabaseFromConfig() should return nil on error")
		}
	})

	t.Run("unknown database type", func(t *testing.T) {
		got, err := NewDatabaseFromConfig(config.HistoryConfig{Database: "postgres"}, t.TempDir())
		if err == nil {
			t.Error("NewDatabaseFromConfig() expected error for unknown type, got nil")
		}
		if got != nil {
			t.Error("NewDatabaseFromConfig() should return nil on error")
		}
	})
}
