// Package config provides unified configuration loading for the migration
// engine: defaults first, then an optional YAML file, then environment
// variable overrides with the RACKY prefix.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Environment names recognized by the engine. Destructive operations are
// gated on Production.
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Config is the complete configuration for the migration engine.
type Config struct {
	// Mongo is the target database configuration.
	Mongo MongoConfig `yaml:"mongo" env:"MONGO"`

	// Migration controls discovery and tracking behavior.
	Migration MigrationConfig `yaml:"migration" env:"MIGRATION"`

	// Safety controls pre-flight check thresholds.
	Safety SafetyConfig `yaml:"safety" env:"SAFETY"`

	// Backup controls the external dump/restore tool.
	Backup BackupConfig `yaml:"backup" env:"BACKUP"`

	// Log is the logging configuration.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Metrics is the metrics configuration.
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`
}

// MongoConfig holds the connection settings for the target database.
type MongoConfig struct {
	// Connection URI, e.g. mongodb://localhost:27017
	URI string `yaml:"uri" env:"URI"`
	// Database name
	Database string `yaml:"database" env:"DATABASE"`
	// Server selection timeout
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`
	// Per-operation timeout applied by callers
	OperationTimeout time.Duration `yaml:"operation_timeout" env:"OPERATION_TIMEOUT"`
}

// MigrationConfig controls migration discovery and tracking.
type MigrationConfig struct {
	// Collection holding migration records
	Collection string `yaml:"collection" env:"COLLECTION"`
	// Collection holding the run lock document
	LockCollection string `yaml:"lock_collection" env:"LOCK_COLLECTION"`
	// Deployment environment: development, staging, production
	Environment string `yaml:"environment" env:"ENVIRONMENT"`
	// Directory of migration source files, used by file-sequence validation
	Dir string `yaml:"dir" env:"DIR"`
	// How long an acquired run lock stays valid before it is considered stale
	LockTTL time.Duration `yaml:"lock_ttl" env:"LOCK_TTL"`
}

// SafetyConfig holds pre-flight check thresholds.
type SafetyConfig struct {
	// Disk space below this blocks the run (MB)
	DiskBlockMB int64 `yaml:"disk_block_mb" env:"DISK_BLOCK_MB"`
	// Disk space below this produces a warning (MB)
	DiskWarnMB int64 `yaml:"disk_warn_mb" env:"DISK_WARN_MB"`
	// Aggregate collection size above this produces a warning (GB)
	CollectionWarnGB int64 `yaml:"collection_warn_gb" env:"COLLECTION_WARN_GB"`
	// Path whose filesystem is inspected for free space
	DiskPath string `yaml:"disk_path" env:"DISK_PATH"`
}

// BackupConfig holds the external backup tool settings.
type BackupConfig struct {
	// Path to the dump binary
	DumpBin string `yaml:"dump_bin" env:"DUMP_BIN"`
	// Path to the restore binary
	RestoreBin string `yaml:"restore_bin" env:"RESTORE_BIN"`
	// Directory under which backups are written
	OutputDir string `yaml:"output_dir" env:"OUTPUT_DIR"`
	// Subprocess timeout; zero means no timeout
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// LogConfig is the logging configuration.
type LogConfig struct {
	// Log level: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// Output format: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// Output paths
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

// MetricsConfig is the metrics configuration.
type MetricsConfig struct {
	// Whether prometheus metrics are registered
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Metric namespace
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
	// Address to serve /metrics on for the duration of a run; empty
	// disables the scrape endpoint
	Listen string `yaml:"listen" env:"LISTEN"`
}

// DefaultConfig returns the configuration defaults.
func DefaultConfig() *Config {
	return &Config{
		Mongo: MongoConfig{
			URI:              "mongodb://localhost:27017",
			Database:         "racky",
			ConnectTimeout:   10 * time.Second,
			OperationTimeout: 30 * time.Second,
		},
		Migration: MigrationConfig{
			Collection:     "migrations",
			LockCollection: "migration_lock",
			Environment:    EnvDevelopment,
			Dir:            "migrations",
			LockTTL:        30 * time.Minute,
		},
		Safety: SafetyConfig{
			DiskBlockMB:      100,
			DiskWarnMB:       1000,
			CollectionWarnGB: 10,
			DiskPath:         "/",
		},
		Backup: BackupConfig{
			DumpBin:    "mongodump",
			RestoreBin: "mongorestore",
			OutputDir:  "backups",
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "json",
			OutputPaths: []string{"stdout"},
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "racky_migrate",
		},
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var errs []string

	if c.Mongo.URI == "" {
		errs = append(errs, "mongo.uri is required")
	}
	if c.Mongo.Database == "" {
		errs = append(errs, "mongo.database is required")
	}
	if c.Migration.Collection == "" {
		errs = append(errs, "migration.collection is required")
	}
	switch c.Migration.Environment {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		errs = append(errs, fmt.Sprintf("migration.environment must be one of development, staging, production (got %q)", c.Migration.Environment))
	}
	if c.Safety.DiskBlockMB > c.Safety.DiskWarnMB {
		errs = append(errs, "safety.disk_block_mb must not exceed safety.disk_warn_mb")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level must be one of debug, info, warn, error (got %q)", c.Log.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// IsProduction reports whether the configured environment is production.
func (c *Config) IsProduction() bool {
	return c.Migration.Environment == EnvProduction
}
