package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := LoadDefaults()

	assert.Equal(t, int64(512*1024*1024), cfg.Memory.LimitBytes)
	assert.Equal(t, 5*time.Second, cfg.Memory.SampleInterval)
	assert.Equal(t, 0.95, cfg.Memory.PressureCeiling)
	assert.Equal(t, 0.85, cfg.Memory.HighWaterRatio)
	assert.Equal(t, 0.75, cfg.Memory.RecoveryTarget)
	assert.Equal(t, time.Minute, cfg.Cache.DefaultTTL)
	assert.Equal(t, int64(10000), cfg.Cache.CapacityHint)
	assert.Equal(t, "info", cfg.Logging.Level)

	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("BIFROST_MEMORY_LIMIT", "1GB")
	t.Setenv("BIFROST_SAMPLE_INTERVAL", "10s")
	t.Setenv("BIFROST_PRESSURE_CEILING", "0.90")
	t.Setenv("BIFROST_CACHE_TTL", "30s")
	t.Setenv("BIFROST_CACHE_CAPACITY", "500")
	t.Setenv("BIFROST_METRICS_ENABLED", "true")
	t.Setenv("BIFROST_LOG_LEVEL", "debug")

	cfg := LoadFromEnv()
	assert.Equal(t, int64(1024*1024*1024), cfg.Memory.LimitBytes)
	assert.Equal(t, 10*time.Second, cfg.Memory.SampleInterval)
	assert.Equal(t, 0.90, cfg.Memory.PressureCeiling)
	assert.Equal(t, 30*time.Second, cfg.Cache.DefaultTTL)
	assert.Equal(t, int64(500), cfg.Cache.CapacityHint)
	assert.True(t, cfg.Cache.MetricsEnabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromEnv_DurationAsSeconds(t *testing.T) {
	t.Setenv("BIFROST_SAMPLE_INTERVAL", "30")
	cfg := LoadFromEnv()
	assert.Equal(t, 30*time.Second, cfg.Memory.SampleInterval)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bifrost.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
memory:
  limit: 256MB
  sample_interval: 2s
  high_water: 0.80
cache:
  ttl: 45s
  capacity_hint: 2000
  metrics_enabled: true
analyzer:
  slow_query_threshold: 250ms
  interval: 1m
logging:
  level: warn
  format: console
`), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, int64(256*1024*1024), cfg.Memory.LimitBytes)
	assert.Equal(t, 2*time.Second, cfg.Memory.SampleInterval)
	assert.Equal(t, 0.80, cfg.Memory.HighWaterRatio)
	// Unset fields keep defaults.
	assert.Equal(t, 0.95, cfg.Memory.PressureCeiling)
	assert.Equal(t, 45*time.Second, cfg.Cache.DefaultTTL)
	assert.Equal(t, int64(2000), cfg.Cache.CapacityHint)
	assert.True(t, cfg.Cache.MetricsEnabled)
	assert.Equal(t, 250*time.Millisecond, cfg.Analyzer.SlowQueryThreshold)
	assert.Equal(t, time.Minute, cfg.Analyzer.Interval)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)

	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile_EnvWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bifrost.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache:\n  ttl: 45s\n"), 0o644))
	t.Setenv("BIFROST_CACHE_TTL", "5s")

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Cache.DefaultTTL)
}

func TestLoadFromFile_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, time.Minute, cfg.Cache.DefaultTTL)
}

func TestLoadFromFile_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache: [not a map"), 0o644))

	_, err := LoadFromFile(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid defaults", func(c *Config) {}, ""},
		{"unlimited memory is allowed", func(c *Config) { c.Memory.LimitBytes = 0 }, ""},
		{"negative limit", func(c *Config) { c.Memory.LimitBytes = -1 }, "memory.limit"},
		{"ceiling above one", func(c *Config) { c.Memory.PressureCeiling = 1.5 }, "pressure_ceiling"},
		{"high water above ceiling", func(c *Config) { c.Memory.HighWaterRatio = 0.99 }, "high_water"},
		{"recovery above high water", func(c *Config) { c.Memory.RecoveryTarget = 0.90 }, "recovery_target"},
		{"zero ttl", func(c *Config) { c.Cache.DefaultTTL = 0 }, "cache.ttl"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := LoadDefaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseMemorySize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"1024", 1024},
		{"1KB", 1024},
		{"512MB", 512 * 1024 * 1024},
		{"2GB", 2 * 1024 * 1024 * 1024},
		{"1TB", 1024 * 1024 * 1024 * 1024},
		{"unlimited", 0},
		{"0", 0},
		{"", 0},
		{"garbage", 0},
		{" 64mb ", 64 * 1024 * 1024},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseMemorySize(tt.in), "input %q", tt.in)
	}
}

func TestFormatMemorySize(t *testing.T) {
	assert.Equal(t, "512 B", FormatMemorySize(512))
	assert.Equal(t, "1.00 KB", FormatMemorySize(1024))
	assert.Equal(t, "512.00 MB", FormatMemorySize(512*1024*1024))
	assert.Equal(t, "2.00 GB", FormatMemorySize(2*1024*1024*1024))
}

func TestMemoryConfig_LimitMB(t *testing.T) {
	m := MemoryConfig{LimitBytes: 512 * 1024 * 1024}
	assert.Equal(t, 512.0, m.LimitMB())
	assert.Equal(t, 0.0, MemoryConfig{}.LimitMB())
}
