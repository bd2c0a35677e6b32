// Package config handles Bifrost configuration via YAML files and
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (BIFROST_*)
//  2. Config file (bifrost.yaml)
//  3. Built-in defaults
//
// Example Usage:
//
//	cfg, err := config.LoadFromFile(config.FindConfigFile())
//	if err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//
//	fmt.Printf("Memory limit: %s\n", config.FormatMemorySize(cfg.Memory.LimitBytes))
//
// Environment variables (all use the BIFROST_ prefix):
//
// Memory:
//   - BIFROST_MEMORY_LIMIT="512MB" or "unlimited"
//   - BIFROST_SAMPLE_INTERVAL=5s
//   - BIFROST_PRESSURE_CEILING=0.95
//   - BIFROST_HIGH_WATER=0.85
//   - BIFROST_RECOVERY_TARGET=0.75
//
// Cache:
//   - BIFROST_CACHE_TTL=60s
//   - BIFROST_SWEEP_INTERVAL=1m
//   - BIFROST_CACHE_CAPACITY=10000
//   - BIFROST_METRICS_ENABLED=true
//
// Analyzer:
//   - BIFROST_SLOW_QUERY_THRESHOLD=500ms
//   - BIFROST_ANALYZER_MIN_SAMPLES=20
//   - BIFROST_ANALYSIS_INTERVAL=30s (0 disables the background loop)
//
// Logging:
//   - BIFROST_LOG_LEVEL="info"
//   - BIFROST_LOG_FORMAT="json"
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all Bifrost configuration.
//
// Configuration is organized into logical sections:
//   - Memory: heap limit, sampling cadence and pressure thresholds
//   - Cache: result cache TTL, sweeping and sizing
//   - Analyzer: performance analysis thresholds and cadence
//   - Logging: logging configuration
//
// Use LoadFromEnv() or LoadFromFile() to create a Config.
type Config struct {
	// Memory sampling and pressure settings
	Memory MemoryConfig

	// Result cache settings
	Cache CacheConfig

	// Performance analyzer settings
	Analyzer AnalyzerConfig

	// Logging
	Logging LoggingConfig
}

// MemoryConfig holds heap sampling and pressure settings.
type MemoryConfig struct {
	// LimitBytes is the heap budget pressure ratios are computed against.
	// Zero means unknown; the sampler then reports degraded samples.
	LimitBytes int64
	// SampleInterval is the background sampling cadence
	SampleInterval time.Duration
	// PressureCeiling is the heap ratio above which queries fail fast
	PressureCeiling float64
	// HighWaterRatio is where the analyzer flags utilization
	HighWaterRatio float64
	// RecoveryTarget is the ratio pressure eviction drives toward
	RecoveryTarget float64
}

// LimitMB is LimitBytes expressed in megabytes.
func (m MemoryConfig) LimitMB() float64 {
	return float64(m.LimitBytes) / 1024 / 1024
}

// CacheConfig holds result cache settings.
type CacheConfig struct {
	// DefaultTTL for cached query results
	DefaultTTL time.Duration
	// SweepInterval between background expiry sweeps
	SweepInterval time.Duration
	// CapacityHint is the entry count the analyzer treats as saturation.
	// Zero disables the saturation rule.
	CapacityHint int64
	// MetricsEnabled registers Prometheus collectors
	MetricsEnabled bool
}

// AnalyzerConfig holds performance analysis settings.
type AnalyzerConfig struct {
	// SlowQueryThreshold is the average-latency bound per query
	SlowQueryThreshold time.Duration
	// MinSamples before hit rates are judged
	MinSamples int64
	// Interval between background analysis passes. Zero disables the loop.
	Interval time.Duration
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level: debug, info, warn, error
	Level string
	// Format: json or console
	Format string
}

// yamlConfig mirrors the config file layout. Durations and memory sizes are
// strings so the file can say "512MB" and "30s".
type yamlConfig struct {
	Memory struct {
		Limit           string  `yaml:"limit"`
		SampleInterval  string  `yaml:"sample_interval"`
		PressureCeiling float64 `yaml:"pressure_ceiling"`
		HighWater       float64 `yaml:"high_water"`
		RecoveryTarget  float64 `yaml:"recovery_target"`
	} `yaml:"memory"`
	Cache struct {
		TTL            string `yaml:"ttl"`
		SweepInterval  string `yaml:"sweep_interval"`
		CapacityHint   int64  `yaml:"capacity_hint"`
		MetricsEnabled bool   `yaml:"metrics_enabled"`
	} `yaml:"cache"`
	Analyzer struct {
		SlowQueryThreshold string `yaml:"slow_query_threshold"`
		MinSamples         int64  `yaml:"min_samples"`
		Interval           string `yaml:"interval"`
	} `yaml:"analyzer"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// LoadDefaults returns the built-in default configuration.
func LoadDefaults() *Config {
	return &Config{
		Memory: MemoryConfig{
			LimitBytes:      512 * 1024 * 1024,
			SampleInterval:  5 * time.Second,
			PressureCeiling: 0.95,
			HighWaterRatio:  0.85,
			RecoveryTarget:  0.75,
		},
		Cache: CacheConfig{
			DefaultTTL:     time.Minute,
			SweepInterval:  time.Minute,
			CapacityHint:   10000,
			MetricsEnabled: false,
		},
		Analyzer: AnalyzerConfig{
			SlowQueryThreshold: 500 * time.Millisecond,
			MinSamples:         20,
			Interval:           0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadFromEnv builds a Config from defaults overridden by BIFROST_*
// environment variables.
func LoadFromEnv() *Config {
	config := LoadDefaults()
	applyEnvVars(config)
	return config
}

// LoadFromFile loads configuration with full precedence: defaults, then the
// YAML file at configPath (a missing file is not an error), then environment
// variables on top.
func LoadFromFile(configPath string) (*Config, error) {
	config := LoadDefaults()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvVars(config)
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// === Memory ===
	if yamlCfg.Memory.Limit != "" {
		config.Memory.LimitBytes = parseMemorySize(yamlCfg.Memory.Limit)
	}
	if d := parseDuration(yamlCfg.Memory.SampleInterval); d > 0 {
		config.Memory.SampleInterval = d
	}
	if yamlCfg.Memory.PressureCeiling > 0 {
		config.Memory.PressureCeiling = yamlCfg.Memory.PressureCeiling
	}
	if yamlCfg.Memory.HighWater > 0 {
		config.Memory.HighWaterRatio = yamlCfg.Memory.HighWater
	}
	if yamlCfg.Memory.RecoveryTarget > 0 {
		config.Memory.RecoveryTarget = yamlCfg.Memory.RecoveryTarget
	}

	// === Cache ===
	if d := parseDuration(yamlCfg.Cache.TTL); d > 0 {
		config.Cache.DefaultTTL = d
	}
	if d := parseDuration(yamlCfg.Cache.SweepInterval); d > 0 {
		config.Cache.SweepInterval = d
	}
	if yamlCfg.Cache.CapacityHint > 0 {
		config.Cache.CapacityHint = yamlCfg.Cache.CapacityHint
	}
	if yamlCfg.Cache.MetricsEnabled {
		config.Cache.MetricsEnabled = true
	}

	// === Analyzer ===
	if d := parseDuration(yamlCfg.Analyzer.SlowQueryThreshold); d > 0 {
		config.Analyzer.SlowQueryThreshold = d
	}
	if yamlCfg.Analyzer.MinSamples > 0 {
		config.Analyzer.MinSamples = yamlCfg.Analyzer.MinSamples
	}
	if d := parseDuration(yamlCfg.Analyzer.Interval); d > 0 {
		config.Analyzer.Interval = d
	}

	// === Logging ===
	if yamlCfg.Logging.Level != "" {
		config.Logging.Level = yamlCfg.Logging.Level
	}
	if yamlCfg.Logging.Format != "" {
		config.Logging.Format = yamlCfg.Logging.Format
	}

	applyEnvVars(config)
	return config, nil
}

// FindConfigFile returns the first config file that exists among the
// conventional locations, or the default name when none do.
func FindConfigFile() string {
	candidates := []string{
		"bifrost.yaml",
		"bifrost.yml",
		filepath.Join("config", "bifrost.yaml"),
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".bifrost", "bifrost.yaml"))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return "bifrost.yaml"
}

func applyEnvVars(config *Config) {
	if limit := os.Getenv("BIFROST_MEMORY_LIMIT"); limit != "" {
		config.Memory.LimitBytes = parseMemorySize(limit)
	}
	config.Memory.SampleInterval = getEnvDuration("BIFROST_SAMPLE_INTERVAL", config.Memory.SampleInterval)
	config.Memory.PressureCeiling = getEnvFloat("BIFROST_PRESSURE_CEILING", config.Memory.PressureCeiling)
	config.Memory.HighWaterRatio = getEnvFloat("BIFROST_HIGH_WATER", config.Memory.HighWaterRatio)
	config.Memory.RecoveryTarget = getEnvFloat("BIFROST_RECOVERY_TARGET", config.Memory.RecoveryTarget)

	config.Cache.DefaultTTL = getEnvDuration("BIFROST_CACHE_TTL", config.Cache.DefaultTTL)
	config.Cache.SweepInterval = getEnvDuration("BIFROST_SWEEP_INTERVAL", config.Cache.SweepInterval)
	config.Cache.CapacityHint = getEnvInt64("BIFROST_CACHE_CAPACITY", config.Cache.CapacityHint)
	config.Cache.MetricsEnabled = getEnvBool("BIFROST_METRICS_ENABLED", config.Cache.MetricsEnabled)

	config.Analyzer.SlowQueryThreshold = getEnvDuration("BIFROST_SLOW_QUERY_THRESHOLD", config.Analyzer.SlowQueryThreshold)
	config.Analyzer.MinSamples = getEnvInt64("BIFROST_ANALYZER_MIN_SAMPLES", config.Analyzer.MinSamples)
	config.Analyzer.Interval = getEnvDuration("BIFROST_ANALYSIS_INTERVAL", config.Analyzer.Interval)

	config.Logging.Level = getEnv("BIFROST_LOG_LEVEL", config.Logging.Level)
	config.Logging.Format = getEnv("BIFROST_LOG_FORMAT", config.Logging.Format)
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Memory.LimitBytes < 0 {
		return fmt.Errorf("memory.limit must not be negative, got %d", c.Memory.LimitBytes)
	}
	if c.Memory.SampleInterval <= 0 {
		return fmt.Errorf("memory.sample_interval must be positive, got %s", c.Memory.SampleInterval)
	}
	if c.Memory.PressureCeiling <= 0 || c.Memory.PressureCeiling > 1 {
		return fmt.Errorf("memory.pressure_ceiling must be in (0, 1], got %g", c.Memory.PressureCeiling)
	}
	if c.Memory.HighWaterRatio <= 0 || c.Memory.HighWaterRatio > c.Memory.PressureCeiling {
		return fmt.Errorf("memory.high_water must be in (0, pressure_ceiling], got %g", c.Memory.HighWaterRatio)
	}
	if c.Memory.RecoveryTarget <= 0 || c.Memory.RecoveryTarget >= c.Memory.HighWaterRatio {
		return fmt.Errorf("memory.recovery_target must be in (0, high_water), got %g", c.Memory.RecoveryTarget)
	}
	if c.Cache.DefaultTTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive, got %s", c.Cache.DefaultTTL)
	}
	if c.Cache.SweepInterval <= 0 {
		return fmt.Errorf("cache.sweep_interval must be positive, got %s", c.Cache.SweepInterval)
	}
	if c.Cache.CapacityHint < 0 {
		return fmt.Errorf("cache.capacity_hint must not be negative, got %d", c.Cache.CapacityHint)
	}
	if c.Analyzer.SlowQueryThreshold <= 0 {
		return fmt.Errorf("analyzer.slow_query_threshold must be positive, got %s", c.Analyzer.SlowQueryThreshold)
	}
	if c.Analyzer.MinSamples <= 0 {
		return fmt.Errorf("analyzer.min_samples must be positive, got %d", c.Analyzer.MinSamples)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

// String returns a human-readable summary, safe to log.
func (c *Config) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "memory: limit=%s sample=%s ceiling=%.2f high-water=%.2f recovery=%.2f\n",
		FormatMemorySize(c.Memory.LimitBytes), c.Memory.SampleInterval,
		c.Memory.PressureCeiling, c.Memory.HighWaterRatio, c.Memory.RecoveryTarget)
	fmt.Fprintf(&b, "cache: ttl=%s sweep=%s capacity=%d metrics=%t\n",
		c.Cache.DefaultTTL, c.Cache.SweepInterval, c.Cache.CapacityHint, c.Cache.MetricsEnabled)
	fmt.Fprintf(&b, "analyzer: slow=%s min-samples=%d interval=%s\n",
		c.Analyzer.SlowQueryThreshold, c.Analyzer.MinSamples, c.Analyzer.Interval)
	fmt.Fprintf(&b, "logging: level=%s format=%s", c.Logging.Level, c.Logging.Format)
	return b.String()
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		// Try parsing as seconds
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}

func parseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// parseMemorySize parses a human-readable memory size string.
// Supports: "1024", "1KB", "1MB", "1GB", "1TB", "0", "unlimited"
func parseMemorySize(s string) int64 {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" || s == "0" || s == "UNLIMITED" {
		return 0
	}

	s = strings.TrimSuffix(s, "B")

	var multiplier int64 = 1
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
		s = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
		s = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "G")
	case strings.HasSuffix(s, "T"):
		multiplier = 1024 * 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "T")
	}

	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return val * multiplier
}

// FormatMemorySize formats bytes as a human-readable string.
func FormatMemorySize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case bytes >= TB:
		return fmt.Sprintf("%.2f TB", float64(bytes)/float64(TB))
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
