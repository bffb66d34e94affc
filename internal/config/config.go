package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the svpatch configuration file.
type Config struct {
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Defaults   DefaultsConfig   `toml:"defaults"`
	Safety     SafetyConfig     `toml:"safety"`
	History    HistoryConfig    `toml:"history"`
	Staging    StagingConfig    `toml:"staging"`
	Vault      VaultConfig      `toml:"vault"`
	Encryption EncryptionConfig `toml:"encryption"`
}

// DefaultsConfig holds run settings used when the matching CLI flag is not given.
type DefaultsConfig struct {
	Strict             bool     `toml:"strict"`
	Backup             bool     `toml:"backup"`
	RollbackOnFail     bool     `toml:"rollback_on_fail"`
	MaxFiles           int      `toml:"max_files"`             // 0 disables the limit
	MaxTotalWriteBytes int64    `toml:"max_total_write_bytes"` // 0 disables the limit
	RegexTimeout       string   `toml:"regex_timeout"`         // Go duration, e.g. "10s"
	OnScriptFailure    string   `toml:"on_script_failure"`     // "abort" or "continue"
	Allow              []string `toml:"allow"`
}

// SafetyConfig lists paths that runs may never touch.
type SafetyConfig struct {
	Deny []string `toml:"deny"` // glob patterns, same syntax as .svpatchdeny
}

// HistoryConfig locates run lineage inside a project.
type HistoryConfig struct {
	Dir      string `toml:"dir"`      // relative to the project root
	Database string `toml:"database"` // "sqlite" (default) or "memory"
}

// StagingConfig represents configuration for the staging area.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StagingConfig struct {
	Type       string `toml:"type"`                  // "memory" or "filesystem"
	StagingDir string `toml:"staging_dir,omitempty"` // only used for type=filesystem
}

// VaultConfig selects where pre-images and run metadata are archived.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "none", "memory", "s3" or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// EncryptionConfig holds the age key pair used for archived pre-images.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "none" (default), "age" or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// Default values for a fresh configuration.
const (
	DefaultHistoryDir         = "data/history"
	DefaultMaxFiles           = 500
	DefaultMaxTotalWriteBytes = 10_000_000
	DefaultRegexTimeout       = "10s"
	DefaultOnScriptFailure    = "abort"
)

// NewConfig creates a Config with defaults rooted at baseDir.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Defaults: DefaultsConfig{
			MaxFiles:           DefaultMaxFiles,
			MaxTotalWriteBytes: DefaultMaxTotalWriteBytes,
			RegexTimeout:       DefaultRegexTimeout,
			OnScriptFailure:    DefaultOnScriptFailure,
		},
		History: HistoryConfig{
			Dir:      DefaultHistoryDir,
			Database: "sqlite",
		},
		Staging:    StagingConfig{Type: "memory"},
		Vault:      VaultConfig{Type: "none"},
		Encryption: EncryptionConfig{
			Type:           "none",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "svpatch.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "svpatch.key"),
		},
	}
}

// RegexTimeoutDuration parses Defaults.RegexTimeout. Empty means the default.
func (c *Config) RegexTimeoutDuration() (time.Duration, error) {
	raw := c.Defaults.RegexTimeout
	if raw == "" {
		raw = DefaultRegexTimeout
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid regex_timeout %q: %w", raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("regex_timeout must be positive, got %s", raw)
	}
	return d, nil
}

// Validate checks enum-like fields so mistakes surface before a run starts.
func (c *Config) Validate() error {
	switch c.Defaults.OnScriptFailure {
	case "", "abort", "continue":
	default:
		return fmt.Errorf("on_script_failure must be abort or continue, got %q", c.Defaults.OnScriptFailure)
	}
	if c.Defaults.MaxFiles < 0 || c.Defaults.MaxTotalWriteBytes < 0 {
		return fmt.Errorf("limits must not be negative")
	}
	if filepath.IsAbs(c.History.Dir) {
		return fmt.Errorf("history dir must be relative to the project root, got %s", c.History.Dir)
	}
	if _, err := c.RegexTimeoutDuration(); err != nil {
		return err
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from r on top of the defaults for baseDir, so keys
// missing from the file keep their default values.
func (m *Manager) Read(r io.Reader, baseDir string) (*Config, error) {
	cfg := NewConfig(baseDir)
	if _, err := toml.NewDecoder(r).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads the config at path. A missing file yields the defaults.
func ReadFromFile(path, baseDir string) (*Config, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return NewConfig(baseDir), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	cfg, err := (&Manager{}).Read(f, baseDir)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := (&Manager{}).Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes cfg to path. An existing file is never overwritten.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
