package migration

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DumpOptions describes one invocation of the external dump tool.
type DumpOptions struct {
	URI                string
	Database           string
	OutDir             string
	IncludeCollections []string
	ExcludeCollections []string
}

// RestoreOptions describes one invocation of the external restore tool.
type RestoreOptions struct {
	URI      string
	Database string
	Dir      string
	// Drop removes existing collections before restoring.
	Drop bool
}

// BackupToolClient is the narrow contract to the external dump/restore
// binaries. Injecting it keeps orchestration testable without invoking a
// real subprocess.
type BackupToolClient interface {
	Dump(ctx context.Context, opts DumpOptions) error
	Restore(ctx context.Context, opts RestoreOptions) error
}

// BackupResult describes a completed backup or restore attempt.
type BackupResult struct {
	Success     bool      `json:"success"`
	Path        string    `json:"path"`
	SizeBytes   int64     `json:"size_bytes"`
	Collections []string  `json:"collections,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// BackupVerification is the outcome of a post-hoc backup integrity check.
type BackupVerification struct {
	Valid       bool     `json:"valid"`
	Collections int      `json:"collections"`
	Errors      []string `json:"errors,omitempty"`
}

// MongoToolClient shells out to mongodump/mongorestore. Subprocess calls
// block until exit; a non-zero exit code is surfaced with captured standard
// error text.
type MongoToolClient struct {
	dumpBin    string
	restoreBin string
	timeout    time.Duration
	logger     *zap.Logger
}

// NewMongoToolClient creates a tool client. Empty binary paths fall back to
// mongodump/mongorestore on PATH; a zero timeout means none.
func NewMongoToolClient(dumpBin, restoreBin string, timeout time.Duration, logger *zap.Logger) *MongoToolClient {
	if dumpBin == "" {
		dumpBin = "mongodump"
	}
	if restoreBin == "" {
		restoreBin = "mongorestore"
	}
	return &MongoToolClient{
		dumpBin:    dumpBin,
		restoreBin: restoreBin,
		timeout:    timeout,
		logger:     logger.With(zap.String("component", "backup_tool")),
	}
}

// Dump snapshots the database into opts.OutDir, one file per collection
// under a database-named subdirectory. Include filters run one dump per
// collection; exclude filters pass through to the tool.
func (c *MongoToolClient) Dump(ctx context.Context, opts DumpOptions) error {
	base := []string{"--uri", opts.URI, "--db", opts.Database, "--out", opts.OutDir}

	if len(opts.IncludeCollections) > 0 {
		// The dump tool accepts a single --collection per invocation.
		for _, coll := range opts.IncludeCollections {
			args := append(append([]string{}, base...), "--collection", coll)
			if err := c.run(ctx, c.dumpBin, args); err != nil {
				return err
			}
		}
		return nil
	}

	args := append([]string{}, base...)
	for _, coll := range opts.ExcludeCollections {
		args = append(args, "--excludeCollection", coll)
	}
	return c.run(ctx, c.dumpBin, args)
}

// Restore reinstates a prior backup directory.
func (c *MongoToolClient) Restore(ctx context.Context, opts RestoreOptions) error {
	args := []string{"--uri", opts.URI, "--db", opts.Database}
	if opts.Drop {
		args = append(args, "--drop")
	}
	args = append(args, filepath.Join(opts.Dir, opts.Database))
	return c.run(ctx, c.restoreBin, args)
}

func (c *MongoToolClient) run(ctx context.Context, bin string, args []string) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	c.logger.Debug("running backup tool", zap.String("bin", bin))

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return NewError(ErrTool, fmt.Sprintf("%s failed: %s", filepath.Base(bin), msg)).WithCause(err)
	}
	return nil
}

// BackupManager orchestrates backup and restore around risky runs.
type BackupManager struct {
	tool      BackupToolClient
	uri       string
	database  string
	outputDir string
	logger    *zap.Logger
}

// NewBackupManager creates a backup manager writing under outputDir.
func NewBackupManager(tool BackupToolClient, uri, database, outputDir string, logger *zap.Logger) *BackupManager {
	if outputDir == "" {
		outputDir = "backups"
	}
	return &BackupManager{
		tool:      tool,
		uri:       uri,
		database:  database,
		outputDir: outputDir,
		logger:    logger.With(zap.String("component", "backup")),
	}
}

// CreateBackup dumps the database into a fresh timestamped directory and
// reports the resulting size and per-collection file list.
func (b *BackupManager) CreateBackup(ctx context.Context, include, exclude []string) (*BackupResult, error) {
	now := time.Now().UTC()
	dir := filepath.Join(b.outputDir, fmt.Sprintf("%s-%s", now.Format("20060102-150405"), uuid.NewString()[:8]))

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	err := b.tool.Dump(ctx, DumpOptions{
		URI:                b.uri,
		Database:           b.database,
		OutDir:             dir,
		IncludeCollections: include,
		ExcludeCollections: exclude,
	})
	if err != nil {
		return &BackupResult{Path: dir, Timestamp: now}, err
	}

	size, collections, err := b.inspect(dir)
	if err != nil {
		return &BackupResult{Path: dir, Timestamp: now}, err
	}

	b.logger.Info("backup created",
		zap.String("path", dir),
		zap.Int64("size_bytes", size),
		zap.Int("collections", len(collections)),
	)

	return &BackupResult{
		Success:     true,
		Path:        dir,
		SizeBytes:   size,
		Collections: collections,
		Timestamp:   now,
	}, nil
}

// RestoreFromBackup reinstates a prior backup, dropping existing
// collections first.
func (b *BackupManager) RestoreFromBackup(ctx context.Context, path string) (*BackupResult, error) {
	now := time.Now().UTC()

	if _, err := os.Stat(filepath.Join(path, b.database)); err != nil {
		return nil, fmt.Errorf("backup directory does not contain database %s: %w", b.database, err)
	}

	err := b.tool.Restore(ctx, RestoreOptions{
		URI:      b.uri,
		Database: b.database,
		Dir:      path,
		Drop:     true,
	})
	if err != nil {
		return &BackupResult{Path: path, Timestamp: now}, err
	}

	_, collections, inspectErr := b.inspect(path)
	if inspectErr != nil {
		collections = nil
	}

	b.logger.Info("backup restored", zap.String("path", path))
	return &BackupResult{
		Success:     true,
		Path:        path,
		Collections: collections,
		Timestamp:   now,
	}, nil
}

// VerifyBackup walks the backup's database subdirectory and counts
// non-empty collection files. Empty files or a missing directory are
// errors.
func (b *BackupManager) VerifyBackup(path string) *BackupVerification {
	v := &BackupVerification{Valid: true}

	dbDir := filepath.Join(path, b.database)
	entries, err := os.ReadDir(dbDir)
	if err != nil {
		v.Valid = false
		v.Errors = append(v.Errors, fmt.Sprintf("backup directory %s is missing or unreadable: %v", dbDir, err))
		return v
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".bson") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			v.Valid = false
			v.Errors = append(v.Errors, fmt.Sprintf("could not stat %s: %v", entry.Name(), err))
			continue
		}
		if info.Size() == 0 {
			v.Valid = false
			v.Errors = append(v.Errors, fmt.Sprintf("collection file %s is empty", entry.Name()))
			continue
		}
		v.Collections++
	}

	if v.Collections == 0 && len(v.Errors) == 0 {
		v.Valid = false
		v.Errors = append(v.Errors, "backup contains no collection files")
	}

	return v
}

// inspect walks the database subdirectory collecting collection names and
// total size.
func (b *BackupManager) inspect(dir string) (int64, []string, error) {
	dbDir := filepath.Join(dir, b.database)
	entries, err := os.ReadDir(dbDir)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to inspect backup: %w", err)
	}

	var size int64
	var collections []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		size += info.Size()
		if strings.HasSuffix(entry.Name(), ".bson") {
			collections = append(collections, strings.TrimSuffix(entry.Name(), ".bson"))
		}
	}

	return size, collections, nil
}

var _ BackupToolClient = (*MongoToolClient)(nil)
