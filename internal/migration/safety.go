package migration

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/rackoot/racky.app-sub002/internal/database"
)

// minServerMajor is the oldest server major version the engine has been
// exercised against. Older servers produce a warning, not a blocker.
const minServerMajor = 4

// SafetyThresholds holds the pre-flight check limits.
type SafetyThresholds struct {
	// Disk space below this blocks the run (MB)
	DiskBlockMB int64
	// Disk space below this produces a warning (MB)
	DiskWarnMB int64
	// Aggregate collection size above this produces a warning (GB)
	CollectionWarnGB int64
	// Path whose filesystem is inspected for free space
	DiskPath string
}

// DefaultSafetyThresholds returns the default limits.
func DefaultSafetyThresholds() SafetyThresholds {
	return SafetyThresholds{
		DiskBlockMB:      100,
		DiskWarnMB:       1000,
		CollectionWarnGB: 10,
		DiskPath:         "/",
	}
}

// SafetyResult describes environmental fitness to run. Safe is true exactly
// when there are no blockers; warnings never halt execution.
type SafetyResult struct {
	Safe            bool             `json:"safe"`
	Warnings        []string         `json:"warnings,omitempty"`
	Blockers        []string         `json:"blockers,omitempty"`
	Environment     string           `json:"environment"`
	DiskFreeMB      int64            `json:"disk_free_mb,omitempty"`
	CollectionSizes map[string]int64 `json:"collection_sizes,omitempty"`
}

// serverProbe is the slice of the database manager the checker needs.
type serverProbe interface {
	Ping(ctx context.Context) error
	ListCollections(ctx context.Context) ([]string, error)
	Stats(ctx context.Context, collection string) (*database.CollectionStats, error)
	ServerVersion(ctx context.Context) (string, error)
}

// runningCounter reports how many tracking records are currently running.
type runningCounter interface {
	RunningCount(ctx context.Context) (int64, error)
}

// SafetyChecker aggregates independent pre-flight checks before a run.
//
// The concurrent-run check here is advisory: it counts status=running
// records and is vulnerable to a race between two processes starting at
// once. Real mutual exclusion is the LockGuard's job; this check stays as an
// additional signal.
type SafetyChecker struct {
	probe       serverProbe
	tracker     runningCounter
	thresholds  SafetyThresholds
	environment string
	logger      *zap.Logger

	// diskFree is swapped out by tests.
	diskFree func(path string) (uint64, error)
}

// NewSafetyChecker creates a checker for the given environment.
func NewSafetyChecker(probe serverProbe, tracker runningCounter, thresholds SafetyThresholds, environment string, logger *zap.Logger) *SafetyChecker {
	if thresholds.DiskPath == "" {
		thresholds.DiskPath = "/"
	}
	return &SafetyChecker{
		probe:       probe,
		tracker:     tracker,
		thresholds:  thresholds,
		environment: environment,
		logger:      logger.With(zap.String("component", "safety")),
		diskFree:    diskFreeBytes,
	}
}

// PerformChecks runs every pre-flight check and aggregates the outcome.
// destructive marks runs that drop or rewrite data; confirmed marks an
// explicit operator confirmation (--force).
func (s *SafetyChecker) PerformChecks(ctx context.Context, destructive, confirmed bool) *SafetyResult {
	res := &SafetyResult{
		Environment:     s.environment,
		CollectionSizes: make(map[string]int64),
	}

	if blocker := environmentPolicy(s.environment, destructive, confirmed); blocker != "" {
		res.Blockers = append(res.Blockers, blocker)
	}

	if err := s.probe.Ping(ctx); err != nil {
		res.Blockers = append(res.Blockers, fmt.Sprintf("database is not reachable: %v", err))
		// Remaining database-backed checks would only repeat the failure.
		res.Safe = len(res.Blockers) == 0
		return res
	}

	if running, err := s.tracker.RunningCount(ctx); err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("could not check for concurrent runs: %v", err))
	} else if running > 0 {
		res.Blockers = append(res.Blockers, fmt.Sprintf("another migration run appears to be in progress (%d running record(s))", running))
	}

	s.checkDiskSpace(res)
	s.checkCollectionSizes(ctx, res)
	s.checkServerVersion(ctx, res)

	res.Safe = len(res.Blockers) == 0

	s.logger.Info("safety checks complete",
		zap.Bool("safe", res.Safe),
		zap.Int("blockers", len(res.Blockers)),
		zap.Int("warnings", len(res.Warnings)),
	)
	return res
}

func (s *SafetyChecker) checkDiskSpace(res *SafetyResult) {
	free, err := s.diskFree(s.thresholds.DiskPath)
	if err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("could not determine free disk space: %v", err))
		return
	}

	freeMB := int64(free / (1024 * 1024))
	res.DiskFreeMB = freeMB

	blocker, warning := evaluateDiskSpace(freeMB, s.thresholds.DiskBlockMB, s.thresholds.DiskWarnMB)
	if blocker != "" {
		res.Blockers = append(res.Blockers, blocker)
	}
	if warning != "" {
		res.Warnings = append(res.Warnings, warning)
	}
}

func (s *SafetyChecker) checkCollectionSizes(ctx context.Context, res *SafetyResult) {
	names, err := s.probe.ListCollections(ctx)
	if err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("could not list collections: %v", err))
		return
	}

	var total int64
	for _, name := range names {
		stats, err := s.probe.Stats(ctx, name)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("could not read stats for %s: %v", name, err))
			continue
		}
		res.CollectionSizes[name] = stats.SizeBytes
		total += stats.SizeBytes
	}

	warnBytes := s.thresholds.CollectionWarnGB * 1024 * 1024 * 1024
	if warnBytes > 0 && total > warnBytes {
		res.Warnings = append(res.Warnings, fmt.Sprintf("aggregate collection size %.1f GB exceeds %d GB; consider a backup window", float64(total)/(1024*1024*1024), s.thresholds.CollectionWarnGB))
	}
}

func (s *SafetyChecker) checkServerVersion(ctx context.Context, res *SafetyResult) {
	version, err := s.probe.ServerVersion(ctx)
	if err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("could not determine server version: %v", err))
		return
	}

	if warning := evaluateServerVersion(version); warning != "" {
		res.Warnings = append(res.Warnings, warning)
	}
}

// environmentPolicy returns a blocker when a destructive run targets
// production without explicit confirmation.
func environmentPolicy(environment string, destructive, confirmed bool) string {
	if destructive && environment == "production" && !confirmed {
		return "destructive operations in production require explicit confirmation (--force)"
	}
	return ""
}

// evaluateDiskSpace maps free megabytes onto a blocker or a warning.
func evaluateDiskSpace(freeMB, blockMB, warnMB int64) (blocker, warning string) {
	switch {
	case freeMB < blockMB:
		blocker = fmt.Sprintf("insufficient disk space: %d MB free (minimum %d MB)", freeMB, blockMB)
	case freeMB < warnMB:
		warning = fmt.Sprintf("low disk space: %d MB free (recommended %d MB)", freeMB, warnMB)
	}
	return blocker, warning
}

// evaluateServerVersion warns on servers older than the supported floor.
func evaluateServerVersion(version string) string {
	parts := strings.SplitN(version, ".", 2)
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return fmt.Sprintf("unrecognized server version %q", version)
	}
	if major < minServerMajor {
		return fmt.Sprintf("server version %s is older than %d.0; behavior is untested", version, minServerMajor)
	}
	return ""
}
