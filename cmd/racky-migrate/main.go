// racky-migrate is the migration command for the racky.app database.
//
// Usage:
//
//	racky-migrate up                      # apply all pending migrations
//	racky-migrate up --dry-run            # validate without executing
//	racky-migrate down --force            # rollback the last migration
//	racky-migrate status                  # show the tracking table
//	racky-migrate validate                # validate the migration set
//	racky-migrate backup                  # take a backup now
//	racky-migrate restore --path <dir>    # restore a previous backup
//	racky-migrate reset --confirm         # wipe tracking records (non-prod)
//	racky-migrate version                 # show version information
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rackoot/racky.app-sub002/config"
	"github.com/rackoot/racky.app-sub002/internal/database"
	"github.com/rackoot/racky.app-sub002/internal/metrics"
	"github.com/rackoot/racky.app-sub002/internal/migration"
	_ "github.com/rackoot/racky.app-sub002/migrations"
)

// Version information, injected at build time.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "up":
		runUp(os.Args[2:])
	case "down":
		runDown(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "reset":
		runReset(os.Args[2:])
	case "backup":
		runBackup(os.Args[2:])
	case "restore":
		runRestore(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runUp(args []string) {
	fs := flag.NewFlagSet("up", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	target := fs.String("target", "", "Run only this migration id")
	dryRun := fs.Bool("dry-run", false, "Validate without executing")
	force := fs.Bool("force", false, "Confirm execution in production")
	validate := fs.Bool("validate", false, "Run each migration's own validation after applying")
	backup := fs.Bool("backup", false, "Take a backup before applying")
	fs.Parse(args)

	withEngine(*configPath, func(ctx context.Context, eng *migration.Engine) error {
		return eng.CLI.RunUp(ctx, migration.RunOptions{
			Target:   *target,
			DryRun:   *dryRun,
			Force:    *force,
			Validate: *validate,
			Backup:   *backup,
		})
	})
}

func runDown(args []string) {
	fs := flag.NewFlagSet("down", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	force := fs.Bool("force", false, "Confirm rollback in production")
	backup := fs.Bool("backup", false, "Take a backup before rolling back")
	fs.Parse(args)

	withEngine(*configPath, func(ctx context.Context, eng *migration.Engine) error {
		return eng.CLI.RunDown(ctx, migration.RunOptions{
			Force:  *force,
			Backup: *backup,
		})
	})
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	withEngine(*configPath, func(ctx context.Context, eng *migration.Engine) error {
		return eng.CLI.RunStatus(ctx)
	})
}

func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	target := fs.String("target", "", "Validate only this migration id")
	fs.Parse(args)

	withEngine(*configPath, func(ctx context.Context, eng *migration.Engine) error {
		return eng.CLI.RunValidate(ctx, *target)
	})
}

func runReset(args []string) {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	confirm := fs.Bool("confirm", false, "Confirm deletion of all tracking records")
	fs.Parse(args)

	withEngine(*configPath, func(ctx context.Context, eng *migration.Engine) error {
		return eng.CLI.RunReset(ctx, *confirm)
	})
}

func runBackup(args []string) {
	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	withEngine(*configPath, func(ctx context.Context, eng *migration.Engine) error {
		return eng.CLI.RunBackup(ctx)
	})
}

func runRestore(args []string) {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	path := fs.String("path", "", "Backup directory to restore from")
	confirm := fs.Bool("confirm", false, "Confirm the destructive restore")
	fs.Parse(args)

	if *path == "" {
		fmt.Fprintln(os.Stderr, "restore requires --path")
		os.Exit(1)
	}

	withEngine(*configPath, func(ctx context.Context, eng *migration.Engine) error {
		return eng.CLI.RunRestore(ctx, *path, *confirm)
	})
}

// withEngine loads configuration, connects to the database, assembles the
// engine and runs fn. Exits non-zero on any failure.
func withEngine(configPath string, fn func(ctx context.Context, eng *migration.Engine) error) {
	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr, err := database.Connect(ctx, database.Config{
		URI:            cfg.Mongo.URI,
		Database:       cfg.Mongo.Database,
		ConnectTimeout: cfg.Mongo.ConnectTimeout,
	}, logger)
	if err != nil {
		logger.Error("Failed to connect to database", zap.Error(err))
		os.Exit(1)
	}
	defer mgr.Close(context.Background())

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.Namespace, logger)

		if cfg.Metrics.Listen != "" {
			srv := metrics.NewServer(cfg.Metrics.Listen, logger)
			if err := srv.Start(); err != nil {
				logger.Warn("metrics endpoint unavailable", zap.Error(err))
			} else {
				defer srv.Shutdown(context.Background())
			}
		}
	}

	eng, err := migration.NewEngineFromConfig(cfg, mgr, collector, logger)
	if err != nil {
		logger.Error("Failed to assemble migration engine", zap.Error(err))
		os.Exit(1)
	}

	if err := fn(ctx, eng); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("racky-migrate %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`racky-migrate - database migration engine for racky.app

Usage:
  racky-migrate <command> [options]

Commands:
  up        Apply pending migrations
  down      Rollback the last applied migration
  status    Show migration status
  validate  Validate the migration set without applying
  backup    Create a database backup
  restore   Restore a database backup
  reset     Delete all tracking records (development only)
  version   Show version information
  help      Show this help message

Common options:
  --config <path>   Path to configuration file (YAML)

Options for 'up':
  --target <id>     Run only the named migration
  --dry-run         Validate without executing
  --force           Confirm execution in production
  --validate        Run each migration's own validation afterwards
  --backup          Take a backup before applying

Options for 'down':
  --force           Confirm rollback in production
  --backup          Take a backup before rolling back

Options for 'restore':
  --path <dir>      Backup directory to restore from
  --confirm         Confirm the destructive restore

Examples:
  racky-migrate up
  racky-migrate up --config /etc/racky/migrate.yaml --backup
  racky-migrate down --force
  racky-migrate status`)
}

// initLogger builds the zap logger from the logging configuration.
func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         "json",
		EncoderConfig:    encoderConfig,
		OutputPaths:      cfg.OutputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}
	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	}

	logger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		logger, _ = zap.NewProduction()
	}

	return logger
}
