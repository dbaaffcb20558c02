// Package config provides configuration management for storeops.
// Configurations are loaded from TOML files with XDG-compliant paths.
package config

import (
	"errors"
	"fmt"
	"time"
	_ "time/tzdata" // chain timezones resolve without host zoneinfo
)

// Config holds the complete application configuration.
type Config struct {
	Chain     ChainConfig     `toml:"chain"`
	Expiry    ExpiryConfig    `toml:"expiry"`
	Diff      DiffConfig      `toml:"diff"`
	Workers   WorkersConfig   `toml:"workers"`
	Collector CollectorConfig `toml:"collector"`
	Lock      LockConfig      `toml:"lock"`
	Logging   LoggingConfig   `toml:"logging"`
	Database  DatabaseConfig  `toml:"database"`
}

// ChainConfig identifies the stores this instance operates.
type ChainConfig struct {
	Name     string   `toml:"name"`
	Stores   []string `toml:"stores"`
	Timezone string   `toml:"timezone"`
}

// Location resolves the chain's timezone. An empty timezone means local time.
func (c *ChainConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// ExpiryConfig controls the three-phase expiry confirmation protocol and the
// per-category expiry table.
type ExpiryConfig struct {
	// WindowMinutes is the offset of PRE_COLLECT before and CONFIRM after the
	// nominal expiry instant.
	WindowMinutes int `toml:"window_minutes"`

	// DefaultShelfDays applies to categories missing from the table.
	DefaultShelfDays int `toml:"default_shelf_days"`

	// DefaultExpiryHour applies to categories missing from the table.
	DefaultExpiryHour int `toml:"default_expiry_hour"`

	// SweepGraceHours delays the nightly time-based sweep so the protocol
	// gets the first chance at each batch.
	SweepGraceHours int `toml:"sweep_grace_hours"`

	Categories []CategoryExpiry `toml:"categories"`
}

// CategoryExpiry is one row of the expiry lookup table, keyed by mid_cd.
type CategoryExpiry struct {
	MidCD     string `toml:"mid_cd"`
	Name      string `toml:"name"`
	ShelfDays int    `toml:"shelf_days"`

	// ExpiryHour is the hour of day on the expiry date the batch goes stale.
	ExpiryHour int `toml:"expiry_hour"`

	// DeliveryHours overrides ExpiryHour per delivery type ("1", "2", ...).
	DeliveryHours map[string]int `toml:"delivery_hours"`
}

// Window returns the protocol window as a duration.
func (e *ExpiryConfig) Window() time.Duration {
	return time.Duration(e.WindowMinutes) * time.Minute
}

// DiffConfig controls order diff classification.
type DiffConfig struct {
	// NotComparableGroupings lists delivery groupings that never appear in the
	// receiving-facts source. Items in these groupings are excluded from both
	// sides of the match rate.
	NotComparableGroupings []string `toml:"not_comparable_groupings"`

	// ExpectedLeadDays is the receiving lag assumed for dates with no
	// receiving facts at all.
	ExpectedLeadDays int `toml:"expected_lead_days"`
}

// WorkersConfig controls the bounded multi-store worker pool.
type WorkersConfig struct {
	MaxConcurrency int `toml:"max_concurrency"`
	StaggerSeconds int `toml:"stagger_seconds"`
}

// Stagger returns the start offset between consecutive stores.
func (w *WorkersConfig) Stagger() time.Duration {
	return time.Duration(w.StaggerSeconds) * time.Second
}

// CollectorConfig wires the external data collector.
type CollectorConfig struct {
	// Command is run with the store id appended as the final argument.
	// Empty disables collection; protocol phases then run on stored data.
	Command        []string `toml:"command"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
}

// Timeout returns the collector timeout as a duration.
func (c *CollectorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// LockConfig controls scheduler locking.
type LockConfig struct {
	// RedisAddr enables distributed locks. Empty uses in-process locks.
	RedisAddr   string `toml:"redis_addr"`
	RedisDB     int    `toml:"redis_db"`
	TTLSeconds  int    `toml:"ttl_seconds"`
	InstanceKey string `toml:"instance_key"`
}

// TTL returns the lock TTL as a duration.
func (l *LockConfig) TTL() time.Duration {
	return time.Duration(l.TTLSeconds) * time.Second
}

// LoggingConfig controls application logging.
type LoggingConfig struct {
	Level LogLevel `toml:"level"`
	File  string   `toml:"file"`
}

// LogLevel defines logging verbosity.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// DatabaseConfig controls SQLite database settings.
type DatabaseConfig struct {
	Path                string `toml:"path"`
	BackupIntervalHours int    `toml:"backup_interval_hours"`
	BackupRetentionDays int    `toml:"backup_retention_days"`
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Chain.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("chain: %w", err))
	}

	if err := c.Expiry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("expiry: %w", err))
	}

	if c.Diff.ExpectedLeadDays < 0 {
		errs = append(errs, errors.New("diff: expected_lead_days must be non-negative"))
	}

	if c.Workers.MaxConcurrency < 1 {
		errs = append(errs, errors.New("workers: max_concurrency must be positive"))
	}
	if c.Workers.StaggerSeconds < 0 {
		errs = append(errs, errors.New("workers: stagger_seconds must be non-negative"))
	}

	if c.Collector.TimeoutSeconds < 0 {
		errs = append(errs, errors.New("collector: timeout_seconds must be non-negative"))
	}

	if c.Lock.TTLSeconds < 1 {
		errs = append(errs, errors.New("lock: ttl_seconds must be positive"))
	}

	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("database: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Validate checks that the chain configuration is valid.
func (c *ChainConfig) Validate() error {
	var errs []error

	seen := make(map[string]bool, len(c.Stores))
	for _, s := range c.Stores {
		if s == "" {
			errs = append(errs, errors.New("store id must not be empty"))
			continue
		}
		if seen[s] {
			errs = append(errs, fmt.Errorf("duplicate store id: %s", s))
		}
		seen[s] = true
	}

	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Validate checks that the expiry configuration is valid.
func (e *ExpiryConfig) Validate() error {
	var errs []error

	if e.WindowMinutes < 1 || e.WindowMinutes > 59 {
		errs = append(errs, errors.New("window_minutes must be between 1 and 59"))
	}

	if e.DefaultShelfDays < 1 {
		errs = append(errs, errors.New("default_shelf_days must be positive"))
	}

	if !validHour(e.DefaultExpiryHour) {
		errs = append(errs, fmt.Errorf("invalid default_expiry_hour: %d", e.DefaultExpiryHour))
	}

	if e.SweepGraceHours < 0 {
		errs = append(errs, errors.New("sweep_grace_hours must be non-negative"))
	}

	seen := make(map[string]bool, len(e.Categories))
	for _, cat := range e.Categories {
		if cat.MidCD == "" {
			errs = append(errs, errors.New("category mid_cd is required"))
			continue
		}
		if seen[cat.MidCD] {
			errs = append(errs, fmt.Errorf("duplicate category %s", cat.MidCD))
		}
		seen[cat.MidCD] = true

		if cat.ShelfDays < 0 {
			errs = append(errs, fmt.Errorf("category %s: shelf_days must be non-negative", cat.MidCD))
		}
		if !validHour(cat.ExpiryHour) {
			errs = append(errs, fmt.Errorf("category %s: invalid expiry_hour %d", cat.MidCD, cat.ExpiryHour))
		}
		for delivery, h := range cat.DeliveryHours {
			if !validHour(h) {
				errs = append(errs, fmt.Errorf("category %s: invalid hour %d for delivery %s", cat.MidCD, h, delivery))
			}
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Validate checks that the logging configuration is valid.
func (l *LoggingConfig) Validate() error {
	validLevels := map[LogLevel]bool{
		LogLevelDebug: true,
		LogLevelInfo:  true,
		LogLevelWarn:  true,
		LogLevelError: true,
	}

	if !validLevels[l.Level] && l.Level != "" {
		return fmt.Errorf("invalid log level: %s", l.Level)
	}

	return nil
}

// Validate checks that the database configuration is valid.
func (d *DatabaseConfig) Validate() error {
	var errs []error

	if d.Path == "" {
		errs = append(errs, errors.New("path is required"))
	}

	if d.BackupIntervalHours < 0 {
		errs = append(errs, errors.New("backup_interval_hours must be non-negative"))
	}

	if d.BackupRetentionDays < 0 {
		errs = append(errs, errors.New("backup_retention_days must be non-negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

func validHour(h int) bool {
	return h >= 0 && h <= 23
}

// Default returns a configuration with sensible default values.
// The category table covers the fresh-food groups that expire within hours
// of a delivery slot; everything else falls back to DefaultShelfDays.
func Default() *Config {
	return &Config{
		Chain: ChainConfig{
			Name:     "storeops",
			Stores:   []string{},
			Timezone: "Asia/Seoul",
		},
		Expiry: ExpiryConfig{
			WindowMinutes:     10,
			DefaultShelfDays:  30,
			DefaultExpiryHour: 0,
			SweepGraceHours:   1,
			Categories: []CategoryExpiry{
				{MidCD: "001", Name: "lunchbox", ShelfDays: 1, ExpiryHour: 2, DeliveryHours: map[string]int{"1": 2, "2": 14}},
				{MidCD: "002", Name: "rice ball", ShelfDays: 1, ExpiryHour: 2, DeliveryHours: map[string]int{"1": 2, "2": 14}},
				{MidCD: "003", Name: "gimbap", ShelfDays: 1, ExpiryHour: 2, DeliveryHours: map[string]int{"1": 2, "2": 14}},
				{MidCD: "004", Name: "sandwich", ShelfDays: 2, ExpiryHour: 22, DeliveryHours: map[string]int{"1": 22, "2": 10}},
				{MidCD: "005", Name: "burger", ShelfDays: 2, ExpiryHour: 22, DeliveryHours: map[string]int{"1": 22, "2": 10}},
				{MidCD: "012", Name: "bread", ShelfDays: 3, ExpiryHour: 0},
			},
		},
		Diff: DiffConfig{
			NotComparableGroupings: []string{"direct", "cross_dock"},
			ExpectedLeadDays:       1,
		},
		Workers: WorkersConfig{
			MaxConcurrency: 2,
			StaggerSeconds: 5,
		},
		Collector: CollectorConfig{
			Command:        nil,
			TimeoutSeconds: 300,
		},
		Lock: LockConfig{
			RedisAddr:   "",
			TTLSeconds:  900,
			InstanceKey: "storeops:scheduler",
		},
		Logging: LoggingConfig{
			Level: LogLevelInfo,
			File:  "logs/storeops.log",
		},
		Database: DatabaseConfig{
			Path:                "storeops.db",
			BackupIntervalHours: 24,
			BackupRetentionDays: 14,
		},
	}
}
