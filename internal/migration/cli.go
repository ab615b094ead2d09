package migration

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
)

// recordSource is the CLI's view of the Tracker for reporting and resets.
type recordSource interface {
	AllRecords(ctx context.Context) ([]Record, error)
	Reset(ctx context.Context) (int64, error)
}

// CLI provides command-line interface functionality for the migration
// engine.
type CLI struct {
	runner      *Runner
	records     recordSource
	backup      *BackupManager
	environment string
	output      io.Writer
}

// NewCLI creates a new CLI instance. backup may be nil when backup tooling
// is not configured.
func NewCLI(runner *Runner, records recordSource, backup *BackupManager, environment string) *CLI {
	return &CLI{
		runner:      runner,
		records:     records,
		backup:      backup,
		environment: environment,
		output:      os.Stdout,
	}
}

// SetOutput sets the output writer for CLI messages.
func (c *CLI) SetOutput(w io.Writer) {
	c.output = w
}

// RunUp applies pending migrations (or the target migration).
func (c *CLI) RunUp(ctx context.Context, opts RunOptions) error {
	opts.Direction = DirectionUp
	if opts.DryRun {
		fmt.Fprintln(c.output, "Dry run: validating migrations...")
	} else {
		fmt.Fprintln(c.output, "Running migrations...")
	}

	return c.report(c.runner.Run(ctx, opts))
}

// RunDown rolls back the most recently applied migration.
func (c *CLI) RunDown(ctx context.Context, opts RunOptions) error {
	opts.Direction = DirectionDown
	fmt.Fprintln(c.output, "Rolling back last migration...")

	return c.report(c.runner.Run(ctx, opts))
}

// report prints a run result and converts failure into an error for the
// exit code.
func (c *CLI) report(res *RunResult) error {
	for _, id := range res.Applied {
		fmt.Fprintf(c.output, "  %s\n", id)
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(c.output, "Warning: %s\n", w)
	}
	for _, e := range res.Errors {
		fmt.Fprintf(c.output, "Error: %s\n", e)
	}

	if !res.Success {
		return fmt.Errorf("migration run failed")
	}

	switch {
	case res.DryRun:
		fmt.Fprintln(c.output, "Dry run complete. No changes were made.")
	case len(res.Applied) == 0:
		fmt.Fprintln(c.output, "Nothing to do.")
	default:
		fmt.Fprintf(c.output, "Complete. %d migration(s) executed.\n", len(res.Applied))
	}
	return nil
}

// RunStatus prints the tracking table and a summary line.
func (c *CLI) RunStatus(ctx context.Context) error {
	summary, err := c.runner.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}

	records, err := c.records.AllRecords(ctx)
	if err != nil {
		return fmt.Errorf("failed to read migration records: %w", err)
	}

	if len(records) == 0 {
		fmt.Fprintln(c.output, "No migrations recorded yet.")
	} else {
		w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tDESCRIPTION\tSTATUS\tAPPLIED AT")
		fmt.Fprintln(w, "--\t-----------\t------\t----------")
		for _, rec := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				rec.MigrationID, rec.Description, rec.Status, rec.AppliedAt.Format("2006-01-02 15:04:05"))
		}
		w.Flush()
	}

	fmt.Fprintln(c.output)
	fmt.Fprintf(c.output, "Total: %d, Applied: %d, Pending: %d, Failed: %d\n",
		summary.Total, summary.Applied, summary.Pending, summary.Failed)
	return nil
}

// RunValidate validates the migration set without applying anything.
func (c *CLI) RunValidate(ctx context.Context, target string) error {
	fmt.Fprintln(c.output, "Validating migrations...")

	res := c.runner.Run(ctx, RunOptions{DryRun: true, Target: target})
	if err := c.report(res); err != nil {
		return fmt.Errorf("validation failed")
	}
	return nil
}

// RunReset deletes all tracking records. Refused in production; requires
// explicit confirmation elsewhere.
func (c *CLI) RunReset(ctx context.Context, confirm bool) error {
	if c.environment == "production" {
		return fmt.Errorf("reset is not permitted in production")
	}
	if !confirm {
		return fmt.Errorf("reset requires --confirm")
	}

	deleted, err := c.records.Reset(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.output, "Removed %d migration record(s).\n", deleted)
	return nil
}

// RunBackup takes a backup and prints the outcome.
func (c *CLI) RunBackup(ctx context.Context) error {
	if c.backup == nil {
		return fmt.Errorf("backup tooling is not configured")
	}

	fmt.Fprintln(c.output, "Creating backup...")
	res, err := c.backup.CreateBackup(ctx, nil, nil)
	if err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}

	fmt.Fprintf(c.output, "Backup written to %s (%d bytes, %d collection(s)).\n",
		res.Path, res.SizeBytes, len(res.Collections))
	return nil
}

// RunRestore reinstates a prior backup after verifying it.
func (c *CLI) RunRestore(ctx context.Context, path string, confirm bool) error {
	if c.backup == nil {
		return fmt.Errorf("backup tooling is not configured")
	}
	if !confirm {
		return fmt.Errorf("restore requires --confirm")
	}

	if v := c.backup.VerifyBackup(path); !v.Valid {
		for _, e := range v.Errors {
			fmt.Fprintf(c.output, "Error: %s\n", e)
		}
		return fmt.Errorf("backup verification failed")
	}

	fmt.Fprintf(c.output, "Restoring from %s...\n", path)
	if _, err := c.backup.RestoreFromBackup(ctx, path); err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}

	fmt.Fprintln(c.output, "Restore complete.")
	return nil
}
