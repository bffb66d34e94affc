package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetDefaults(t *testing.T) {
	t.Run("uses env vars when set", func(t *testing.T) {
		t.Setenv("SVPATCH_CONFIG_PATH", "/custom/config.toml")
		t.Setenv("SVPATCH_HOME", "/custom/svpatch")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		if defaults["config_path"] != "/custom/config.toml" {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], "/custom/config.toml")
		}
		if defaults["base_dir"] != "/custom/svpatch" {
			t.Errorf("base_dir = %q, want %q", defaults["base_dir"], "/custom/svpatch")
		}
		if defaults["log_dir"] != "/custom/svpatch/log" {
			t.Errorf("log_dir = %q, want %q", defaults["log_dir"], "/custom/svpatch/log")
		}
	})

	t.Run("falls back to home dir defaults", func(t *testing.T) {
		t.Setenv("SVPATCH_CONFIG_PATH", "")
		t.Setenv("SVPATCH_HOME", "")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		homeDir, _ := os.UserHomeDir()

		wantConfig := filepath.Join(homeDir, ".config", "svpatch.toml")
		if defaults["config_path"] != wantConfig {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], wantConfig)
		}

		wantBase := filepath.Join(homeDir, ".local", "share", "svpatch")
		if defaults["base_dir"] != wantBase {
			t.Errorf("base_dir = %q, want %q", defaults["base_dir"], wantBase)
		}

		wantLog := filepath.Join(wantBase, "log")
		if defaults["log_dir"] != wantLog {
			t.Errorf("log_dir = %q, want %q", defaults["log_dir"], wantLog)
		}
	})

	t.Run("each variable overrides only its own path", func(t *testing.T) {
		t.Setenv("SVPATCH_CONFIG_PATH", "")
		t.Setenv("SVPATCH_HOME", "/srv/svpatch")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}
		homeDir, _ := os.UserHomeDir()
		if want := filepath.Join(homeDir, ".config", "svpatch.toml"); defaults["config_path"] != want {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], want)
		}
		if defaults["log_dir"] != "/srv/svpatch/log" {
			t.Errorf("log_dir = %q, want %q", defaults["log_dir"], "/srv/svpatch/log")
		}
	})
}
