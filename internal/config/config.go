// Package config loads tracker configuration from a YAML file and GURAS_*
// environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. GURAS_DATA_DIR.
const EnvPrefix = "GURAS"

// Backend names.
const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
	BackendMemory = "memory"
)

// Config is the top-level configuration.
type Config struct {
	DataDir   string          `yaml:"data_dir" mapstructure:"data_dir"`
	Backend   string          `yaml:"backend" mapstructure:"backend"`
	Timezone  string          `yaml:"timezone" mapstructure:"timezone"` // IANA name; empty means device local
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Sync      SyncConfig      `yaml:"sync" mapstructure:"sync"`
	Retention RetentionConfig `yaml:"retention" mapstructure:"retention"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	File       string `yaml:"file" mapstructure:"file"` // empty logs to stderr
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
}

// SyncConfig controls the outbox drain.
type SyncConfig struct {
	MaxRetries    int           `yaml:"max_retries" mapstructure:"max_retries"`
	Interval      time.Duration `yaml:"interval" mapstructure:"interval"`
	QueueInterval time.Duration `yaml:"queue_interval" mapstructure:"queue_interval"`
	Parallelism   int           `yaml:"parallelism" mapstructure:"parallelism"`
	RemotePath    string        `yaml:"remote_path" mapstructure:"remote_path"` // bbolt mirror file
}

// RetentionConfig controls purging of old synced records.
type RetentionConfig struct {
	Days int `yaml:"days" mapstructure:"days"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		DataDir: defaultDataDir(),
		Backend: BackendSQLite,
		Log: LogConfig{
			Level:      "INFO",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Sync: SyncConfig{
			MaxRetries:    5,
			Interval:      15 * time.Minute,
			QueueInterval: time.Minute,
			Parallelism:   4,
		},
		Retention: RetentionConfig{Days: 365},
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "guras")
	}
	return ".guras"
}

// Load reads path (optional; empty skips the file) and applies GURAS_*
// overrides on top of the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can see it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("backend", d.Backend)
	v.SetDefault("timezone", d.Timezone)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("sync.max_retries", d.Sync.MaxRetries)
	v.SetDefault("sync.interval", d.Sync.Interval)
	v.SetDefault("sync.queue_interval", d.Sync.QueueInterval)
	v.SetDefault("sync.parallelism", d.Sync.Parallelism)
	v.SetDefault("sync.remote_path", d.Sync.RemotePath)
	v.SetDefault("retention.days", d.Retention.Days)
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendSQLite, BackendBolt, BackendMemory:
	default:
		return fmt.Errorf("invalid backend %q: must be sqlite, bolt or memory", c.Backend)
	}
	if c.Backend != BackendMemory && c.DataDir == "" {
		return fmt.Errorf("data_dir is required for the %s backend", c.Backend)
	}
	if c.Sync.MaxRetries < 1 {
		return fmt.Errorf("sync.max_retries must be at least 1, got %d", c.Sync.MaxRetries)
	}
	if c.Sync.Interval <= 0 || c.Sync.QueueInterval <= 0 {
		return fmt.Errorf("sync.interval and sync.queue_interval must be positive, got %s and %s",
			c.Sync.Interval, c.Sync.QueueInterval)
	}
	if c.Retention.Days < 1 {
		return fmt.Errorf("retention.days must be at least 1, got %d", c.Retention.Days)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves Timezone. Empty means time.Local.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// RemotePath returns the bbolt mirror path, defaulting into DataDir.
func (c *Config) RemotePath() string {
	if c.Sync.RemotePath != "" {
		return c.Sync.RemotePath
	}
	return filepath.Join(c.DataDir, "remote.bolt")
}

// fileConfig is the on-disk shape; durations are written as strings.
type fileConfig struct {
	DataDir  string `yaml:"data_dir"`
	Backend  string `yaml:"backend"`
	Timezone string `yaml:"timezone"`
	Log      LogConfig
	Sync     struct {
		MaxRetries    int    `yaml:"max_retries"`
		Interval      string `yaml:"interval"`
		QueueInterval string `yaml:"queue_interval"`
		Parallelism   int    `yaml:"parallelism"`
		RemotePath    string `yaml:"remote_path"`
	}
	Retention RetentionConfig
}

// WriteDefault writes a starter config file to path. It refuses to
// overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	d := Default()
	var fc fileConfig
	fc.DataDir = d.DataDir
	fc.Backend = d.Backend
	fc.Timezone = d.Timezone
	fc.Log = d.Log
	fc.Sync.MaxRetries = d.Sync.MaxRetries
	fc.Sync.Interval = d.Sync.Interval.String()
	fc.Sync.QueueInterval = d.Sync.QueueInterval.String()
	fc.Sync.Parallelism = d.Sync.Parallelism
	fc.Sync.RemotePath = d.Sync.RemotePath
	fc.Retention = d.Retention

	data, err := yaml.Marshal(&fc)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
