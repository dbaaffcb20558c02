package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10, cfg.Expiry.WindowMinutes)
	assert.Contains(t, cfg.Diff.NotComparableGroupings, "direct")
}

func TestConfig_ValidateCollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.Chain.Stores = []string{"46513", "46513", ""}
	cfg.Expiry.WindowMinutes = 0
	cfg.Workers.MaxConcurrency = 0
	cfg.Database.Path = ""
	cfg.Logging.Level = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "duplicate store id: 46513")
	assert.Contains(t, msg, "store id must not be empty")
	assert.Contains(t, msg, "window_minutes")
	assert.Contains(t, msg, "max_concurrency")
	assert.Contains(t, msg, "database: path is required")
	assert.Contains(t, msg, "invalid log level: loud")
}

func TestExpiryConfig_ValidateCategories(t *testing.T) {
	tests := []struct {
		name    string
		cat     CategoryExpiry
		wantErr string
	}{
		{"missing mid_cd", CategoryExpiry{ShelfDays: 1}, "mid_cd is required"},
		{"bad hour", CategoryExpiry{MidCD: "009", ExpiryHour: 24}, "invalid expiry_hour 24"},
		{"bad delivery hour", CategoryExpiry{MidCD: "009", DeliveryHours: map[string]int{"2": -1}}, "invalid hour -1 for delivery 2"},
		{"negative shelf", CategoryExpiry{MidCD: "009", ShelfDays: -2}, "shelf_days must be non-negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Expiry.Categories = append(cfg.Expiry.Categories, tt.cat)
			err := cfg.Expiry.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_ExplicitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storeops.toml")
	content := `
[chain]
stores = ["46513", "46704"]
timezone = "UTC"

[expiry]
window_minutes = 15

[[expiry.categories]]
mid_cd = "001"
shelf_days = 1
expiry_hour = 3

[diff]
not_comparable_groupings = ["direct"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, loadedFrom, err := Load(path, false)
	require.NoError(t, err)
	assert.Equal(t, path, loadedFrom)
	assert.Equal(t, []string{"46513", "46704"}, cfg.Chain.Stores)
	assert.Equal(t, 15, cfg.Expiry.WindowMinutes)
	require.Len(t, cfg.Expiry.Categories, 1)
	assert.Equal(t, 3, cfg.Expiry.Categories[0].ExpiryHour)
	// Unset sections keep their defaults.
	assert.Equal(t, Default().Workers, cfg.Workers)
}

func TestLoad_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storeops.toml")
	require.NoError(t, os.WriteFile(path, []byte("[expiry]\nwindow_minutes = 90\n"), 0o600))

	_, _, err := Load(path, false)
	require.Error(t, err)

	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, path, loadErr.Path)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvDBPath, "/var/lib/storeops/test.db")
	t.Setenv(EnvRedisAddr, "redis:6379")
	t.Setenv(EnvLogLevel, "DEBUG")
	t.Setenv(EnvStores, "46513, 46704 ,")

	cfg := Default()
	ApplyEnv(cfg)

	assert.Equal(t, "/var/lib/storeops/test.db", cfg.Database.Path)
	assert.Equal(t, "redis:6379", cfg.Lock.RedisAddr)
	assert.Equal(t, LogLevelDebug, cfg.Logging.Level)
	assert.Equal(t, []string{"46513", "46704"}, cfg.Chain.Stores)
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "storeops.toml")
	cfg := Default()
	cfg.Chain.Stores = []string{"46513"}
	require.NoError(t, Save(cfg, path))

	loaded, _, err := Load(path, false)
	require.NoError(t, err)
	assert.Equal(t, cfg.Chain.Stores, loaded.Chain.Stores)
	assert.Equal(t, len(cfg.Expiry.Categories), len(loaded.Expiry.Categories))
}
