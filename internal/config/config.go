package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"tabsnap/internal/logging"
	"tabsnap/internal/remote"
)

// EnvPrefix marks environment variables that override file settings.
// Nesting levels are separated by a double underscore, so
// TABSNAP_BACKUP__MAX_SNAPSHOTS sets backup.max_snapshots.
const EnvPrefix = "TABSNAP_"

type Config struct {
	Database DatabaseConfig `koanf:"database"`
	Backup   Backup         `koanf:"backup"`
	Logging  LoggingConfig  `koanf:"logging"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	S3       S3Config       `koanf:"s3"`
}

type DatabaseConfig struct {
	Path string `koanf:"path"`
}

// Backup is the snapshot engine configuration.
type Backup struct {
	Directory         string `koanf:"directory"`
	MaxSnapshots      int    `koanf:"max_snapshots"`
	Compress          bool   `koanf:"compress"`
	AutoIntervalHours int    `koanf:"auto_interval_hours"`
}

type LoggingConfig struct {
	Dir   string `koanf:"dir"`
	Level string `koanf:"level"`
}

type MetricsConfig struct {
	Textfile string `koanf:"textfile"`
}

type S3Config struct {
	Enabled      bool               `koanf:"enabled"`
	Bucket       string             `koanf:"bucket"`
	Prefix       string             `koanf:"prefix"`
	Region       string             `koanf:"region"`
	Endpoint     string             `koanf:"endpoint"`
	StorageClass types.StorageClass `koanf:"storage_class"`
	Retry        struct {
		MaxAttempts int `koanf:"max_attempts"`
	} `koanf:"retry"`
}

func defaults() Config {
	return Config{
		Database: DatabaseConfig{Path: "./household.db"},
		Backup: Backup{
			Directory:         "./backups",
			MaxSnapshots:      10,
			AutoIntervalHours: 24,
		},
		Logging: LoggingConfig{Dir: "./logs", Level: "info"},
		S3:      S3Config{StorageClass: types.StorageClassStandard},
	}
}

// Load layers defaults, the YAML file at filename (skipped when empty) and
// TABSNAP_ environment variables, then validates the result.
func Load(filename string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if filename != "" {
		if err := k.Load(file.Provider(filename), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", filename, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Backup.Directory == "" {
		return fmt.Errorf("backup.directory is required")
	}
	if c.Backup.MaxSnapshots < 0 {
		return fmt.Errorf("backup.max_snapshots must not be negative")
	}
	if c.Backup.AutoIntervalHours < 0 {
		return fmt.Errorf("backup.auto_interval_hours must not be negative")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			return fmt.Errorf("s3.bucket is required when s3 is enabled")
		}
		if c.S3.Region == "" {
			return fmt.Errorf("s3.region is required when s3 is enabled")
		}
		if c.S3.StorageClass == "" {
			return fmt.Errorf("s3.storage_class is required when s3 is enabled")
		}
		if err := remote.ValidateStorageClass(string(c.S3.StorageClass)); err != nil {
			return fmt.Errorf("s3.storage_class: %w", err)
		}
	}
	return nil
}

// AutoInterval is the period between scheduled snapshots. Zero disables
// scheduling.
func (c *Config) AutoInterval() time.Duration {
	return time.Duration(c.Backup.AutoIntervalHours) * time.Hour
}

func (c *Config) S3RetryAttempts() int {
	if c.S3.Retry.MaxAttempts > 0 {
		return c.S3.Retry.MaxAttempts
	}
	return 3
}
