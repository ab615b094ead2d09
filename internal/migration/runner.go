package migration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rackoot/racky.app-sub002/internal/metrics"
)

// Direction is the migration direction.
type Direction int

const (
	// DirectionUp applies pending migrations forward.
	DirectionUp Direction = iota
	// DirectionDown rolls back the most recently applied migration.
	DirectionDown
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionUp:
		return "up"
	case DirectionDown:
		return "down"
	default:
		return "unknown"
	}
}

// RunOptions controls one Runner invocation.
type RunOptions struct {
	// Direction of the run; up by default.
	Direction Direction
	// Target restricts candidates to exactly this migration id.
	Target string
	// DryRun validates candidates without executing or touching the
	// tracker.
	DryRun bool
	// Force confirms destructive operations in production.
	Force bool
	// Validate runs each migration's own Validate after it executes;
	// failures are downgraded to warnings.
	Validate bool
	// Backup takes a pre-run backup before executing.
	Backup bool
}

// RunResult is the aggregated outcome of one invocation: the ordered ids
// that completed before any failure plus accumulated error and warning
// strings. Warnings never change Success.
type RunResult struct {
	Success  bool     `json:"success"`
	DryRun   bool     `json:"dry_run,omitempty"`
	Applied  []string `json:"applied,omitempty"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// trackerStore is the Runner's view of the Tracker.
type trackerStore interface {
	EnsureIndexes(ctx context.Context) error
	RecordStart(ctx context.Context, id, description, author string) error
	RecordComplete(ctx context.Context, id string, res *Result, rollbackInfo string) error
	RecordRollback(ctx context.Context, id string) error
	PendingIDs(ctx context.Context, allIDs []string) ([]string, error)
	LastApplied(ctx context.Context) (*Record, error)
	Status(ctx context.Context, allIDs []string) (*StatusSummary, error)
}

// safetyGate is the Runner's view of the SafetyChecker.
type safetyGate interface {
	PerformChecks(ctx context.Context, destructive, confirmed bool) *SafetyResult
}

// runLock is the Runner's view of the LockGuard.
type runLock interface {
	Acquire(ctx context.Context) error
	Release(ctx context.Context) error
}

// backupHook is the Runner's view of the BackupManager.
type backupHook interface {
	CreateBackup(ctx context.Context, include, exclude []string) (*BackupResult, error)
}

// Runner orchestrates discovery, validation, safety, sequencing and
// execution. Execution is strictly sequential: each migration fully settles
// before the next starts, because ordering correctness depends on it.
type Runner struct {
	discover  func() []Migration
	validator *Validator
	tracker   trackerStore
	safety    safetyGate
	lock      runLock
	backup    backupHook
	mctx      *Context
	collector *metrics.Collector
	logger    *zap.Logger
}

// NewRunner creates a runner. backup may be nil when no backup tooling is
// configured; collector may be nil when metrics are disabled.
func NewRunner(tracker trackerStore, safety safetyGate, lock runLock, backup backupHook, mctx *Context, collector *metrics.Collector, logger *zap.Logger) *Runner {
	return &Runner{
		discover:  All,
		validator: NewValidator(),
		tracker:   tracker,
		safety:    safety,
		lock:      lock,
		backup:    backup,
		mctx:      mctx,
		collector: collector,
		logger:    logger.With(zap.String("component", "runner")),
	}
}

// Run executes one invocation. On the first failed migration the remaining
// batch halts; migrations already completed earlier in the run stay
// recorded as completed. There is no automatic undo.
func (r *Runner) Run(ctx context.Context, opts RunOptions) *RunResult {
	start := time.Now()
	res := r.run(ctx, opts)

	status := "success"
	if !res.Success {
		status = "failure"
	}
	r.collector.ObserveRun(status, time.Since(start))

	return res
}

func (r *Runner) run(ctx context.Context, opts RunOptions) *RunResult {
	out := &RunResult{Success: true, DryRun: opts.DryRun}

	units := r.discover()
	ids := make([]string, len(units))
	byID := make(map[string]Migration, len(units))
	for i, m := range units {
		ids[i] = m.ID()
		byID[m.ID()] = m
	}

	// Static validation blocks the entire run before anything executes.
	seq := r.validator.ValidateSequence(ids)
	out.Warnings = append(out.Warnings, seq.Warnings...)
	for _, e := range seq.Errors {
		out.Errors = append(out.Errors, NewError(ErrValidation, e).Error())
	}

	for _, m := range units {
		v := r.validator.ValidateMigration(m)
		out.Warnings = append(out.Warnings, v.Warnings...)
		for _, e := range v.Errors {
			out.Errors = append(out.Errors, NewError(ErrValidation, e).Error())
		}
	}

	if len(out.Errors) > 0 {
		out.Success = false
		return out
	}

	if opts.DryRun {
		// Validation only: Up/Down never run, the tracker is never touched.
		r.logger.Info("dry run complete", zap.Int("migrations", len(units)))
		return out
	}

	if err := r.tracker.EnsureIndexes(ctx); err != nil {
		return out.fail(NewError(ErrConnectivity, "failed to initialize tracker").WithCause(err))
	}

	destructive := opts.Direction == DirectionDown
	checks := r.safety.PerformChecks(ctx, destructive, opts.Force)
	out.Warnings = append(out.Warnings, checks.Warnings...)
	if !checks.Safe {
		r.collector.ObserveSafetyBlock()
		out.Errors = append(out.Errors, checks.Blockers...)
		out.Success = false
		return out
	}

	if err := r.lock.Acquire(ctx); err != nil {
		if errors.Is(err, ErrLockHeld) {
			return out.fail(NewError(ErrConcurrency, "another runner holds the migration lock").WithCause(err))
		}
		return out.fail(NewError(ErrConnectivity, "failed to acquire migration lock").WithCause(err))
	}
	defer func() {
		if err := r.lock.Release(ctx); err != nil {
			r.logger.Warn("failed to release migration lock", zap.Error(err))
		}
	}()

	candidates, err := r.candidates(ctx, opts, ids)
	if err != nil {
		return out.fail(err)
	}
	if len(candidates) == 0 {
		r.logger.Info("nothing to do", zap.String("direction", opts.Direction.String()))
		return out
	}

	if opts.Backup && r.backup != nil {
		if _, err := r.backup.CreateBackup(ctx, nil, nil); err != nil {
			r.collector.ObserveBackup("failure")
			return out.fail(fmt.Errorf("pre-run backup failed: %w", err))
		}
		r.collector.ObserveBackup("success")
	}

	for _, id := range candidates {
		m, ok := byID[id]
		if !ok {
			return out.fail(fmt.Errorf("%w: %s", ErrNotRegistered, id))
		}

		if err := r.execute(ctx, m, opts, out); err != nil {
			out.Errors = append(out.Errors, err.Error())
			out.Success = false
			// Halt the batch; earlier completions stay recorded.
			return out
		}
	}

	return out
}

// candidates determines the ordered set of migration ids to execute.
func (r *Runner) candidates(ctx context.Context, opts RunOptions, ids []string) ([]string, error) {
	if opts.Target != "" {
		found := false
		for _, id := range ids {
			if id == opts.Target {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: %s", ErrNotRegistered, opts.Target)
		}
		return []string{opts.Target}, nil
	}

	switch opts.Direction {
	case DirectionDown:
		// LIFO rollback: only the single most recently applied migration,
		// never a cascade.
		last, err := r.tracker.LastApplied(ctx)
		if errors.Is(err, ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, NewError(ErrConnectivity, "failed to find last applied migration").WithCause(err)
		}
		return []string{last.MigrationID}, nil

	default:
		pending, err := r.tracker.PendingIDs(ctx, ids)
		if err != nil {
			return nil, NewError(ErrConnectivity, "failed to determine pending migrations").WithCause(err)
		}
		return pending, nil
	}
}

// execute runs one migration in the requested direction and records the
// outcome. A non-nil return halts the batch.
func (r *Runner) execute(ctx context.Context, m Migration, opts RunOptions, out *RunResult) error {
	id := m.ID()
	direction := opts.Direction.String()
	logger := r.logger.With(zap.String("migration_id", id), zap.String("direction", direction))
	logger.Info("executing migration")

	if err := r.tracker.RecordStart(ctx, id, m.Description(), m.Author()); err != nil {
		return NewError(ErrConnectivity, "failed to record migration start").WithMigration(id).WithCause(err)
	}

	start := time.Now()
	var res *Result
	var err error
	if opts.Direction == DirectionDown {
		res, err = m.Down(ctx, r.mctx)
	} else {
		res, err = m.Up(ctx, r.mctx)
	}
	execErr := resultError(res, err)
	if res == nil {
		res = Fail(execErr, time.Since(start))
	}

	if execErr != nil {
		if recErr := r.tracker.RecordComplete(ctx, id, res, ""); recErr != nil {
			logger.Error("failed to record migration failure", zap.Error(recErr))
		}
		r.collector.ObserveMigration(direction, "failure", res.ExecutionTime, 0)
		logger.Error("migration failed", zap.Error(execErr))
		return NewError(ErrExecution, "migration failed").WithMigration(id).WithCause(execErr)
	}

	if opts.Direction == DirectionDown {
		if recErr := r.tracker.RecordRollback(ctx, id); recErr != nil {
			return NewError(ErrConnectivity, "failed to record rollback").WithMigration(id).WithCause(recErr)
		}
	} else {
		if recErr := r.tracker.RecordComplete(ctx, id, res, ""); recErr != nil {
			return NewError(ErrConnectivity, "failed to record completion").WithMigration(id).WithCause(recErr)
		}
	}

	r.collector.ObserveMigration(direction, "success", res.ExecutionTime, res.DocumentsAffected)
	out.Applied = append(out.Applied, id)

	for _, skip := range res.Skipped {
		out.Warnings = append(out.Warnings, fmt.Sprintf("%s: skipped document %s: %s", id, skip.DocumentID, skip.Reason))
	}

	if opts.Validate {
		if v, ok := m.(Validatable); ok {
			valid, verr := v.Validate(ctx, r.mctx)
			switch {
			case verr != nil:
				out.Warnings = append(out.Warnings, fmt.Sprintf("%s: validation errored: %v", id, verr))
			case !valid:
				out.Warnings = append(out.Warnings, fmt.Sprintf("%s: validation reported an unexpected state", id))
			}
		}
	}

	logger.Info("migration complete",
		zap.Int64("documents_affected", res.DocumentsAffected),
		zap.Duration("execution_time", res.ExecutionTime),
	)
	return nil
}

// Status composes tracker state with the registered migration set.
func (r *Runner) Status(ctx context.Context) (*StatusSummary, error) {
	units := r.discover()
	ids := make([]string, len(units))
	for i, m := range units {
		ids[i] = m.ID()
	}
	return r.tracker.Status(ctx, ids)
}

func (res *RunResult) fail(err error) *RunResult {
	res.Errors = append(res.Errors, err.Error())
	res.Success = false
	return res
}
