package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	// DefaultConfigFileName is the standard configuration file name.
	DefaultConfigFileName = "storeops.toml"

	// XDGConfigSubdir is the subdirectory under XDG_CONFIG_HOME for storeops.
	XDGConfigSubdir = "storeops"

	// Environment overrides, applied after the file is decoded.
	EnvDBPath    = "STOREOPS_DB_PATH"
	EnvRedisAddr = "STOREOPS_REDIS_ADDR"
	EnvLogLevel  = "STOREOPS_LOG_LEVEL"
	EnvStores    = "STOREOPS_STORES"
)

// LoadError represents an error that occurred while loading configuration.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading config from %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Load attempts to load configuration from multiple sources in order of precedence:
// 1. Explicit path (if provided)
// 2. XDG config path (~/.config/storeops/storeops.toml)
// 3. Current working directory (./storeops.toml)
// 4. Default configuration (if allowDefault is true)
//
// A .env file in the working directory is loaded first, if present, so its
// STOREOPS_* variables take part in the overrides.
//
// Returns the loaded configuration and the path it was loaded from.
func Load(explicitPath string, allowDefault bool) (*Config, string, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, "", fmt.Errorf("loading .env: %w", err)
	}

	if explicitPath != "" {
		cfg, err := loadFromFile(explicitPath)
		if err != nil {
			return nil, "", &LoadError{Path: explicitPath, Err: err}
		}
		return cfg, explicitPath, nil
	}

	xdgPath := xdgConfigPath()
	if xdgPath != "" && fileExists(xdgPath) {
		cfg, err := loadFromFile(xdgPath)
		if err != nil {
			return nil, "", &LoadError{Path: xdgPath, Err: err}
		}
		return cfg, xdgPath, nil
	}

	cwdPath := filepath.Join(".", DefaultConfigFileName)
	if fileExists(cwdPath) {
		cfg, err := loadFromFile(cwdPath)
		if err != nil {
			return nil, "", &LoadError{Path: cwdPath, Err: err}
		}
		return cfg, cwdPath, nil
	}

	if !allowDefault {
		return nil, "", errors.New("no configuration file found; searched: " + xdgPath + ", " + cwdPath)
	}

	cfg := Default()
	ApplyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("validating default config: %w", err)
	}
	return cfg, "", nil
}

// loadFromFile reads and parses a TOML configuration file.
func loadFromFile(path string) (*Config, error) {
	// Start with defaults so missing values get sensible defaults
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}

	if err := Decode(string(data), cfg); err != nil {
		return nil, err
	}

	ApplyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Decode parses TOML into cfg. A [[expiry.categories]] table in the file
// replaces the default table rather than merging with it.
func Decode(data string, cfg *Config) error {
	var probe struct {
		Expiry struct {
			Categories []CategoryExpiry `toml:"categories"`
		} `toml:"expiry"`
	}
	md, err := toml.Decode(data, &probe)
	if err != nil {
		return fmt.Errorf("parsing TOML: %w", err)
	}
	if md.IsDefined("expiry", "categories") {
		cfg.Expiry.Categories = nil
	}

	if _, err := toml.Decode(data, cfg); err != nil {
		return fmt.Errorf("parsing TOML: %w", err)
	}
	return nil
}

// ApplyEnv overlays STOREOPS_* environment variables onto cfg.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv(EnvDBPath); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		cfg.Lock.RedisAddr = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = LogLevel(strings.ToLower(v))
	}
	if v := os.Getenv(EnvStores); v != "" {
		var stores []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				stores = append(stores, s)
			}
		}
		cfg.Chain.Stores = stores
	}
}

// Save writes a configuration to a TOML file.
func Save(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640)
	if err != nil {
		return fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	header := `# storeops configuration
#
# This file was generated by "storeops config init". Edit as needed.

`
	if _, err := f.WriteString(header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("encoding TOML: %w", err)
	}

	return nil
}

// xdgConfigPath returns the XDG-compliant config file path.
// Returns empty string if XDG_CONFIG_HOME is not set and HOME is not available.
func xdgConfigPath() string {
	xdgConfig := os.Getenv("XDG_CONFIG_HOME")
	if xdgConfig != "" {
		return filepath.Join(xdgConfig, XDGConfigSubdir, DefaultConfigFileName)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".config", XDGConfigSubdir, DefaultConfigFileName)
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// ConfigPath returns the configuration file path that would be used.
func ConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}

	xdgPath := xdgConfigPath()
	if xdgPath != "" && fileExists(xdgPath) {
		return xdgPath
	}

	cwdPath := filepath.Join(".", DefaultConfigFileName)
	if fileExists(cwdPath) {
		return cwdPath
	}

	if xdgPath != "" {
		return xdgPath
	}

	return cwdPath
}

// EnsureLogDir creates the log directory if needed.
// Returns the log file path, or "" when file logging is disabled.
func EnsureLogDir(cfg *Config) (string, error) {
	logPath := cfg.Logging.File
	if logPath == "" {
		return "", nil
	}

	dir := filepath.Dir(logPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return "", fmt.Errorf("creating log directory: %w", err)
		}
	}

	return logPath, nil
}

// BackupDir returns the directory for database backups, next to the database.
func BackupDir(cfg *Config) (string, error) {
	backupDir := filepath.Join(filepath.Dir(cfg.Database.Path), "backups")
	if err := os.MkdirAll(backupDir, 0750); err != nil {
		return "", fmt.Errorf("creating backup directory: %w", err)
	}
	return backupDir, nil
}
