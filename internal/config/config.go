// Package config loads sitesync settings from a YAML file, a .env file and
// SITESYNC_* environment variables, and validates them against an embedded
// CUE schema.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/roach88/sitesync/internal/transport"
)

// EnvPrefix prefixes every environment override, e.g.
// SITESYNC_SYNC_URL overrides sync.url.
const EnvPrefix = "SITESYNC"

// DefaultFile is the config file name looked up when none is given.
const DefaultFile = "sitesync.yaml"

// Config is the complete sitesync configuration.
type Config struct {
	Sync     SyncSettings   `mapstructure:"sync" yaml:"sync" json:"sync"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database" json:"database"`
	API      APIConfig      `mapstructure:"api" yaml:"api" json:"api"`
	Log      LogConfig      `mapstructure:"log" yaml:"log" json:"log"`
}

// SyncSettings describes how to reach central and how often to sync.
type SyncSettings struct {
	URL               string `mapstructure:"url" yaml:"url" json:"url"`
	Username          string `mapstructure:"username" yaml:"username" json:"username"`
	Password          string `mapstructure:"password" yaml:"password" json:"password"`
	IntervalSeconds   int    `mapstructure:"interval_seconds" yaml:"interval_seconds" json:"interval_seconds"`
	BatchSize         int    `mapstructure:"batch_size" yaml:"batch_size" json:"batch_size"`
	PushBatchSize     int    `mapstructure:"push_batch_size" yaml:"push_batch_size" json:"push_batch_size"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds" json:"timeout_seconds"`
	RetryMaxAttempts  int    `mapstructure:"retry_max_attempts" yaml:"retry_max_attempts" json:"retry_max_attempts"`
	RetryBackoffMS    int    `mapstructure:"retry_backoff_ms" yaml:"retry_backoff_ms" json:"retry_backoff_ms"`
	RetryMaxBackoffMS int    `mapstructure:"retry_max_backoff_ms" yaml:"retry_max_backoff_ms" json:"retry_max_backoff_ms"`
}

// DatabaseConfig locates the site database.
type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path" json:"path"`
}

// APIConfig configures the local control API. An empty Listen disables it.
type APIConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen" json:"listen"`
}

// LogConfig configures logging. An empty File logs to stderr.
type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level" json:"level"`
	Format     string `mapstructure:"format" yaml:"format" json:"format"`
	File       string `mapstructure:"file" yaml:"file" json:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days" json:"max_age_days"`
}

// Default returns the configuration used for anything not set elsewhere.
func Default() Config {
	return Config{
		Sync: SyncSettings{
			IntervalSeconds:   300,
			BatchSize:         500,
			PushBatchSize:     500,
			TimeoutSeconds:    30,
			RetryMaxAttempts:  3,
			RetryBackoffMS:    500,
			RetryMaxBackoffMS: 10000,
		},
		Database: DatabaseConfig{Path: "sitesync.db"},
		API:      APIConfig{Listen: "127.0.0.1:8787"},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// Configured reports whether enough is set to talk to central.
func (s SyncSettings) Configured() bool {
	return s.URL != "" && s.Username != ""
}

// Interval returns the timer interval, zero when timed sync is disabled.
func (s SyncSettings) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

// TransportConfig builds the central client configuration.
func (s SyncSettings) TransportConfig() transport.Config {
	return transport.Config{
		BaseURL:     s.URL,
		Credentials: transport.Credentials{Username: s.Username, Password: s.Password},
		Timeout:     time.Duration(s.TimeoutSeconds) * time.Second,
		Retry: transport.RetryPolicy{
			MaxAttempts:    s.RetryMaxAttempts,
			InitialBackoff: time.Duration(s.RetryBackoffMS) * time.Millisecond,
			MaxBackoff:     time.Duration(s.RetryMaxBackoffMS) * time.Millisecond,
			Multiplier:     2,
		},
	}
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.Sync.Password != "" {
		c.Sync.Password = "********"
	}
	return c
}

// Loader reads configuration. It keeps the viper instance so the file can
// be watched after the first load.
type Loader struct {
	v    *viper.Viper
	path string
}

// NewLoader creates a loader for the given file. An empty path looks for
// DefaultFile in the working directory; a missing file is not an error.
func NewLoader(path string) *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())

	if path == "" {
		path = DefaultFile
	}
	v.SetConfigFile(path)
	return &Loader{v: v, path: path}
}

// Path returns the config file the loader reads.
func (l *Loader) Path() string {
	return l.path
}

// Load reads the .env file next to the config file, then the config file
// and environment, and validates the result.
func (l *Loader) Load() (*Config, error) {
	envFile := filepath.Join(filepath.Dir(l.path), ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", l.path, err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load is shorthand for NewLoader(path).Load().
func Load(path string) (*Config, error) {
	return NewLoader(path).Load()
}

// setDefaults registers every key so AutomaticEnv overrides reach Unmarshal.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("sync.url", d.Sync.URL)
	v.SetDefault("sync.username", d.Sync.Username)
	v.SetDefault("sync.password", d.Sync.Password)
	v.SetDefault("sync.interval_seconds", d.Sync.IntervalSeconds)
	v.SetDefault("sync.batch_size", d.Sync.BatchSize)
	v.SetDefault("sync.push_batch_size", d.Sync.PushBatchSize)
	v.SetDefault("sync.timeout_seconds", d.Sync.TimeoutSeconds)
	v.SetDefault("sync.retry_max_attempts", d.Sync.RetryMaxAttempts)
	v.SetDefault("sync.retry_backoff_ms", d.Sync.RetryBackoffMS)
	v.SetDefault("sync.retry_max_backoff_ms", d.Sync.RetryMaxBackoffMS)
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("api.listen", d.API.Listen)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
}
