package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

const appName = "ryxsurf"

// envPrefix is prepended to every environment override.
const envPrefix = "RYXSURF"

// Engine names.
const (
	EngineMemory   = "memory"
	EngineChromium = "chromium"
)

// EvictionConfig controls when tabs give up their rendering resources
type EvictionConfig struct {
	UnloadTimeoutSeconds int  `toml:"unload_timeout_seconds"`
	MaxLoadedTabs        int  `toml:"max_loaded_tabs"`
	SweepIntervalSeconds int  `toml:"sweep_interval_seconds"`
	Snapshots            bool `toml:"snapshots"`
}

// PersistenceConfig controls the session store
type PersistenceConfig struct {
	AutosaveIntervalSeconds int  `toml:"autosave_interval_seconds"`
	Autosave                bool `toml:"autosave"`
}

// VaultConfig controls the credential vault
type VaultConfig struct {
	Autofill bool `toml:"autofill"`
	// PreferKeyring selects the OS secret service when it is reachable.
	PreferKeyring bool `toml:"prefer_keyring"`
}

// Config represents application configuration
type Config struct {
	DataDir     string            `toml:"data_dir"`
	LogLevel    string            `toml:"log_level"` // debug, info, warn, error, none
	LogPath     string            `toml:"log_path"`
	Engine      string            `toml:"engine"` // memory, chromium
	Headless    bool              `toml:"headless"`
	Eviction    EvictionConfig    `toml:"eviction"`
	Persistence PersistenceConfig `toml:"persistence"`
	Vault       VaultConfig       `toml:"vault"`

	// masterPassword only ever comes from the environment or a prompt.
	masterPassword string
}

// envOverrides mirrors the variables accepted in the environment. Unset
// variables leave their pointer nil.
type envOverrides struct {
	UnloadTimeout    *int    `envconfig:"UNLOAD_TIMEOUT"`
	MaxLoadedTabs    *int    `envconfig:"MAX_LOADED_TABS"`
	EnableSnapshots  *string `envconfig:"ENABLE_SNAPSHOTS"`
	SweepInterval    *int    `envconfig:"SWEEP_INTERVAL"`
	AutosaveInterval *int    `envconfig:"AUTOSAVE_INTERVAL"`
	DataDir          *string `envconfig:"DATA_DIR"`
	LogLevel         *string `envconfig:"LOG_LEVEL"`
	LogPath          *string `envconfig:"LOG_PATH"`
	Engine           *string `envconfig:"ENGINE"`
	MasterPassword   *string `envconfig:"MASTER_PASSWORD"`
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return os.TempDir()
	}
	return home
}

func defaultConfigDir() string {
	if runtime.GOOS == "windows" {
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, appName)
		}
	}
	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		return filepath.Join(xdg, appName)
	}
	return filepath.Join(homeDir(), ".config", appName)
}

func defaultDataDir() string {
	if runtime.GOOS == "windows" {
		if localAppData := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); localAppData != "" {
			return filepath.Join(localAppData, appName)
		}
	}
	if xdg := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); xdg != "" {
		return filepath.Join(xdg, appName)
	}
	return filepath.Join(homeDir(), ".local", "share", appName)
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	dataDir := defaultDataDir()
	return &Config{
		DataDir:  dataDir,
		LogLevel: "info",
		LogPath:  filepath.Join(dataDir, appName+".log"),
		Engine:   EngineMemory,
		Headless: true,
		Eviction: EvictionConfig{
			UnloadTimeoutSeconds: 120,
			MaxLoadedTabs:        3,
			SweepIntervalSeconds: 60,
		},
		Persistence: PersistenceConfig{
			AutosaveIntervalSeconds: 30,
			Autosave:                true,
		},
		Vault: VaultConfig{
			Autofill:      true,
			PreferKeyring: true,
		},
	}
}

// Load reads the TOML file at path on top of the defaults, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads the TOML file at path without consulting the environment.
func LoadFile(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return config, nil
		}
		return nil, err
	}

	// Decode into the default config (overrides only provided fields)
	if _, err := toml.Decode(string(data), config); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	config.fillDefaults()
	return config, nil
}

// fillDefaults restores defaults for fields a file left blank or invalid.
func (c *Config) fillDefaults() {
	def := DefaultConfig()
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.LogPath == "" {
		c.LogPath = filepath.Join(c.DataDir, appName+".log")
	}
	if c.Engine == "" {
		c.Engine = def.Engine
	}
	if c.Eviction.UnloadTimeoutSeconds <= 0 {
		c.Eviction.UnloadTimeoutSeconds = def.Eviction.UnloadTimeoutSeconds
	}
	if c.Eviction.MaxLoadedTabs <= 0 {
		c.Eviction.MaxLoadedTabs = def.Eviction.MaxLoadedTabs
	}
	if c.Eviction.SweepIntervalSeconds <= 0 {
		c.Eviction.SweepIntervalSeconds = def.Eviction.SweepIntervalSeconds
	}
	if c.Persistence.AutosaveIntervalSeconds <= 0 {
		c.Persistence.AutosaveIntervalSeconds = def.Persistence.AutosaveIntervalSeconds
	}
}

// ApplyEnv applies RYXSURF_* overrides. Non-positive numbers are ignored.
func (c *Config) ApplyEnv() error {
	var env envOverrides
	if err := envconfig.Process(envPrefix, &env); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}

	setPositive := func(dst *int, v *int) {
		if v != nil && *v > 0 {
			*dst = *v
		}
	}
	setString := func(dst *string, v *string) {
		if v != nil && strings.TrimSpace(*v) != "" {
			*dst = strings.TrimSpace(*v)
		}
	}

	setPositive(&c.Eviction.UnloadTimeoutSeconds, env.UnloadTimeout)
	setPositive(&c.Eviction.MaxLoadedTabs, env.MaxLoadedTabs)
	setPositive(&c.Eviction.SweepIntervalSeconds, env.SweepInterval)
	setPositive(&c.Persistence.AutosaveIntervalSeconds, env.AutosaveInterval)
	if env.EnableSnapshots != nil {
		c.Eviction.Snapshots = parseFlag(*env.EnableSnapshots)
	}
	setString(&c.DataDir, env.DataDir)
	setString(&c.LogLevel, env.LogLevel)
	setString(&c.LogPath, env.LogPath)
	setString(&c.Engine, env.Engine)
	if env.MasterPassword != nil {
		c.masterPassword = *env.MasterPassword
	}
	return nil
}

// parseFlag treats the presence of a variable as true unless it spells a false boolean.
func parseFlag(v string) bool {
	v = strings.TrimSpace(v)
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return true
}

// Save writes the configuration as TOML
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o600)
}

// GetConfigPath returns the default config path
func GetConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.toml")
}

// MasterPassword returns the passphrase supplied through the environment or SetMasterPassword.
func (c *Config) MasterPassword() string {
	return c.masterPassword
}

// SetMasterPassword records a passphrase obtained at runtime.
func (c *Config) SetMasterPassword(password string) {
	c.masterPassword = password
}

// UnloadTimeout returns the idle duration before a tab may be unloaded.
func (c *Config) UnloadTimeout() time.Duration {
	return time.Duration(c.Eviction.UnloadTimeoutSeconds) * time.Second
}

// SweepInterval returns the period of the eviction sweep.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Eviction.SweepIntervalSeconds) * time.Second
}

// AutosaveInterval returns the period of the autosave timer.
func (c *Config) AutosaveInterval() time.Duration {
	return time.Duration(c.Persistence.AutosaveIntervalSeconds) * time.Second
}

// SessionsDBPath is the hierarchy store.
func (c *Config) SessionsDBPath() string {
	return filepath.Join(c.DataDir, "sessions.db")
}

// PasswordsDBPath is the credential index and fallback store.
func (c *Config) PasswordsDBPath() string {
	return filepath.Join(c.DataDir, "passwords.db")
}

// SnapshotDir holds tab snapshots.
func (c *Config) SnapshotDir() string {
	return filepath.Join(c.DataDir, "snapshots")
}

// LockPath is the single-instance lock.
func (c *Config) LockPath() string {
	return filepath.Join(c.DataDir, appName+".lock")
}
