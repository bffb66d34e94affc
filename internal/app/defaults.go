package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns the config path, base dir and log dir. SVPATCH_CONFIG_PATH
// and SVPATCH_HOME override the locations under the home directory
// (~/.config/svpatch.toml and ~/.local/share/svpatch).
func GetDefaults() (map[string]string, error) {
	configPath, err := envOrHome("SVPATCH_CONFIG_PATH", ".config", "svpatch.toml")
	if err != nil {
		return nil, err
	}
	baseDir, err := envOrHome("SVPATCH_HOME", ".local", "share", "svpatch")
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

// envOrHome returns the value of env when set, otherwise the path below the
// user's home directory. The home directory is only looked up when needed.
func envOrHome(env string, below ...string) (string, error) {
	if v := os.Getenv(env); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for %s: %w", env, err)
	}
	return filepath.Join(append([]string{home}, below...)...), nil
}
