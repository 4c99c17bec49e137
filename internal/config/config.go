// Package config provides layered runtime configuration for the Andromeda
// host: environment variables override a JSON config file, which overrides
// built-in defaults. Generalized from a comparable pkg/common/config,
// whose security-preset system (default/quickstart/security/performance)
// becomes the feature-gating preset system below (default/strict/permissive
// controlling FFI and unsafe-pointer access).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Preset names a built-in feature-flag bundle.
type Preset string

const (
	// PresetDefault allows filesystem, network, and SQLite access but
	// keeps FFI/UnsafePointer disabled unless explicitly re-enabled.
	PresetDefault Preset = "default"
	// PresetStrict disables FFI, UnsafePointer, and SQLite extension
	// loading outright; suited to untrusted scripts.
	PresetStrict Preset = "strict"
	// PresetPermissive enables every optional capability, including FFI
	// and unsafe pointer arithmetic; suited to trusted local tooling.
	PresetPermissive Preset = "permissive"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	Preset Preset `json:"preset"`

	// FSRoot bounds relative file-system operations exposed to scripts.
	FSRoot string `json:"fs_root"`
	// StorageDir holds persistent local-storage and SQLite default-path
	// state.
	StorageDir string `json:"storage_dir"`

	AllowFFI bool `json:"allow_ffi"`
	AllowUnsafePointer bool `json:"allow_unsafe_pointer"`
	AllowSQLiteExtensions bool `json:"allow_sqlite_extensions"`

	WorkerPoolSize int `json:"worker_pool_size"`

	LogLevel string `json:"log_level"`
	LogFormat string `json:"log_format"`
}

// Default returns the PresetDefault configuration.
func Default() *Config {
	cfg, _ := Preset2Config(PresetDefault)
	return cfg
}

// Preset2Config resolves a named preset into a concrete Config.
func Preset2Config(p Preset) (*Config, error) {
	base := &Config{
		Preset: p,
		FSRoot: ".",
		StorageDir: defaultStorageDir(),
		WorkerPoolSize: 0, // 0 => runtime.NumCPU(), resolved by the pool.
		LogLevel: "info",
		LogFormat: "text",
	}
	switch p {
	case PresetDefault:
		base.AllowFFI = false
		base.AllowUnsafePointer = false
		base.AllowSQLiteExtensions = false
	case PresetStrict:
		base.AllowFFI = false
		base.AllowUnsafePointer = false
		base.AllowSQLiteExtensions = false
		base.LogLevel = "warn"
	case PresetPermissive:
		base.AllowFFI = true
		base.AllowUnsafePointer = true
		base.AllowSQLiteExtensions = true
	default:
		return nil, fmt.Errorf("config: unknown preset %q", p)
	}
	return base, nil
}

func defaultStorageDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".andromeda")
	}
	return ".andromeda"
}

// LoadFile reads a JSON config file and layers it over preset defaults.
func LoadFile(path string, preset Preset) (*Config, error) {
	cfg, err := Preset2Config(preset)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv layers environment-variable overrides atop cfg, the highest
// precedence configuration source.
func ApplyEnv(cfg *Config) *Config {
	if v, ok := os.LookupEnv("ANDROMEDA_FS_ROOT"); ok {
		cfg.FSRoot = v
	}
	if v, ok := os.LookupEnv("ANDROMEDA_STORAGE_DIR"); ok {
		cfg.StorageDir = v
	}
	if v, ok := os.LookupEnv("ANDROMEDA_ALLOW_FFI"); ok {
		cfg.AllowFFI = v == "1" || v == "true"
	}
	if v, ok := os.LookupEnv("ANDROMEDA_ALLOW_UNSAFE"); ok {
		cfg.AllowUnsafePointer = v == "1" || v == "true"
	}
	if v, ok := os.LookupEnv("ANDROMEDA_LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	return cfg
}

// Load resolves the full layered configuration: defaults for preset, then
// an optional JSON file at path (ignored if it doesn't exist), then
// environment variables.
func Load(path string, preset Preset) (*Config, error) {
	cfg, err := LoadFile(path, preset)
	if err != nil {
		return nil, err
	}
	return ApplyEnv(cfg), nil
}

// Validate reports a non-nil error for a config that would be unsafe or
// nonsensical to run with: an empty FSRoot or a negative WorkerPoolSize.
// It does not check that FSRoot exists.
func (c *Config) Validate() error {
	if c.FSRoot == "" {
		return fmt.Errorf("config: fs_root must not be empty")
	}
	if c.WorkerPoolSize < 0 {
		return fmt.Errorf("config: worker_pool_size must be >= 0")
	}
	return nil
}
