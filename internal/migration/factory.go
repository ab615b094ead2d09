package migration

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/rackoot/racky.app-sub002/config"
	"github.com/rackoot/racky.app-sub002/internal/database"
	"github.com/rackoot/racky.app-sub002/internal/metrics"
)

// Engine bundles the assembled components for one target database.
type Engine struct {
	Runner  *Runner
	Tracker *Tracker
	Backup  *BackupManager
	CLI     *CLI
}

// NewEngineFromConfig assembles the engine from application configuration
// and an established database connection. collector may be nil when metrics
// are disabled.
func NewEngineFromConfig(cfg *config.Config, mgr *database.Manager, collector *metrics.Collector, logger *zap.Logger) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if mgr == nil {
		return nil, fmt.Errorf("database manager is required")
	}

	db := mgr.Database()
	environment := cfg.Migration.Environment

	tracker := NewTracker(db, cfg.Migration.Collection, environment, logger)
	lock := NewLockGuard(db, cfg.Migration.LockCollection, cfg.Migration.LockTTL, logger)

	thresholds := SafetyThresholds{
		DiskBlockMB:      cfg.Safety.DiskBlockMB,
		DiskWarnMB:       cfg.Safety.DiskWarnMB,
		CollectionWarnGB: cfg.Safety.CollectionWarnGB,
		DiskPath:         cfg.Safety.DiskPath,
	}
	safety := NewSafetyChecker(mgr, tracker, thresholds, environment, logger)

	tool := NewMongoToolClient(cfg.Backup.DumpBin, cfg.Backup.RestoreBin, cfg.Backup.Timeout, logger)
	backup := NewBackupManager(tool, cfg.Mongo.URI, cfg.Mongo.Database, cfg.Backup.OutputDir, logger)

	mctx := &Context{
		DB:          db,
		Client:      mgr.Client(),
		Ops:         NewOperations(db, logger),
		Logger:      logger.With(zap.String("component", "migration")),
		Environment: environment,
	}

	runner := NewRunner(tracker, safety, lock, backup, mctx, collector, logger)

	return &Engine{
		Runner:  runner,
		Tracker: tracker,
		Backup:  backup,
		CLI:     NewCLI(runner, tracker, backup, environment),
	}, nil
}
