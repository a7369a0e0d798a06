// Package config provides configuration management for heapshot analysis.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. HEAPSHOT_LOG_LEVEL.
const EnvPrefix = "HEAPSHOT"

// Config holds all configuration for the application.
type Config struct {
	Processor ProcessorConfig `mapstructure:"processor"`
	Heapshot  HeapshotConfig  `mapstructure:"heapshot"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Log       LogConfig       `mapstructure:"log"`
}

// ProcessorConfig holds log stream processing configuration.
type ProcessorConfig struct {
	LiveInterval    time.Duration `mapstructure:"live_interval"`
	MaxBufferLength int           `mapstructure:"max_buffer_length"`
	Workers         int           `mapstructure:"workers"` // captures built concurrently
}

// HeapshotConfig holds object store configuration.
type HeapshotConfig struct {
	DataDir    string `mapstructure:"data_dir"`
	BatchSize  int    `mapstructure:"batch_size"`
	KeepFiles  bool   `mapstructure:"keep_files"`
	TraceDepth int    `mapstructure:"trace_depth"`
}

// DatabaseConfig holds report database configuration.
type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Type     string `mapstructure:"type"` // sqlite, postgres or mysql
	Path     string `mapstructure:"path"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	MaxConns int    `mapstructure:"max_conns"`
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	Type      string `mapstructure:"type"` // cos or local
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	SecretID  string `mapstructure:"secret_id"`
	SecretKey string `mapstructure:"secret_key"`
	Domain    string `mapstructure:"domain"`     // e.g., "myqcloud.com"
	Scheme    string `mapstructure:"scheme"`     // e.g., "https" or "http"
	LocalPath string `mapstructure:"local_path"` // for local storage
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"` // stderr when empty
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configuration from the specified file path. A missing file
// yields the defaults.
func Load(configPath string) (*Config, error) {
	v := newViper()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("heapshot")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.config/heapshot")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return decode(v)
}

// LoadFromReader loads configuration from content (useful for testing).
func LoadFromReader(configType string, content []byte) (*Config, error) {
	v := newViper()

	v.SetConfigType(configType)
	if err := v.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Processor defaults
	v.SetDefault("processor.live_interval", "100ms")
	v.SetDefault("processor.max_buffer_length", 64<<20)
	v.SetDefault("processor.workers", 2)

	// Heapshot defaults
	v.SetDefault("heapshot.data_dir", os.TempDir())
	v.SetDefault("heapshot.batch_size", 1000)
	v.SetDefault("heapshot.keep_files", false)
	v.SetDefault("heapshot.trace_depth", 64)

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.path", "heapshot-reports.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "heapshot")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.max_conns", 10)

	// Storage defaults
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local_path", ".")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.region", "")
	v.SetDefault("storage.secret_id", "")
	v.SetDefault("storage.secret_key", "")

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.output_path", "")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Processor.LiveInterval <= 0 {
		return fmt.Errorf("processor live interval must be positive")
	}
	if c.Processor.MaxBufferLength <= 0 {
		return fmt.Errorf("processor max buffer length must be positive")
	}
	if c.Processor.Workers < 1 {
		return fmt.Errorf("processor workers must be at least 1")
	}
	if c.Heapshot.BatchSize < 1 {
		return fmt.Errorf("heapshot batch size must be at least 1")
	}

	if c.Database.Enabled {
		switch c.Database.Type {
		case "sqlite":
			if c.Database.Path == "" {
				return fmt.Errorf("database path is required for sqlite")
			}
		case "postgres", "postgresql", "mysql":
			if c.Database.Host == "" {
				return fmt.Errorf("database host is required")
			}
		default:
			return fmt.Errorf("unsupported database type: %s", c.Database.Type)
		}
	}

	// Storage config validation is delegated to storage package

	return nil
}

// EnsureDataDir creates the heapshot data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	if c.Heapshot.DataDir == "" {
		return nil
	}
	return os.MkdirAll(c.Heapshot.DataDir, 0755)
}
