package migration

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.uber.org/zap"
)

// Migration is the contract every migration unit satisfies. Units are
// immutable artifacts registered at compile time and re-discovered from the
// registry on every run; they are never persisted.
//
// ID returns the globally unique, ordered identifier in the form
// NNN_snake_case_description (three-digit zero-padded sequence).
// CreatedAt returns the calendar date the migration was written,
// formatted YYYY-MM-DD.
type Migration interface {
	ID() string
	Description() string
	Author() string
	CreatedAt() string

	// Up applies the migration. Failure is signalled either by a non-nil
	// error or by a Result with Success=false.
	Up(ctx context.Context, mc *Context) (*Result, error)

	// Down reverts the migration.
	Down(ctx context.Context, mc *Context) (*Result, error)
}

// Validatable is optionally implemented by migrations that can verify their
// own effect after running. A migration without it is treated as always
// valid. Validation failures never fail a run; the Runner downgrades them to
// warnings.
type Validatable interface {
	Validate(ctx context.Context, mc *Context) (bool, error)
}

// Context is the execution environment handed to a migration's Up, Down and
// Validate. It exposes the target database, the underlying client for
// session work, the operations toolbox and a scoped logger.
type Context struct {
	DB          *mongo.Database
	Client      *mongo.Client
	Ops         *Operations
	Logger      *zap.Logger
	Environment string
}

// Skip records one document excluded from a best-effort operation and why.
type Skip struct {
	DocumentID string `json:"document_id"`
	Reason     string `json:"reason"`
}

// Result is the ephemeral outcome of one Up or Down invocation, or of one
// operations-library primitive. It is never persisted directly; the Tracker
// folds it into a Record.
type Result struct {
	Success           bool          `json:"success"`
	DocumentsAffected int64         `json:"documents_affected"`
	Message           string        `json:"message"`
	ExecutionTime     time.Duration `json:"execution_time"`
	Err               error         `json:"-"`

	// Skipped lists documents a best-effort primitive excluded, with
	// reasons. Never silently dropped.
	Skipped []Skip `json:"skipped,omitempty"`
}

// Ok builds a successful result.
func Ok(affected int64, message string, elapsed time.Duration) *Result {
	return &Result{
		Success:           true,
		DocumentsAffected: affected,
		Message:           message,
		ExecutionTime:     elapsed,
	}
}

// Fail builds a failed result.
func Fail(err error, elapsed time.Duration) *Result {
	return &Result{
		Success:       false,
		Err:           err,
		ExecutionTime: elapsed,
	}
}

// ErrorMessage returns the result's error text, or "" on success.
func (r *Result) ErrorMessage() string {
	if r == nil {
		return ""
	}
	if r.Err != nil {
		return r.Err.Error()
	}
	if !r.Success && r.Message != "" {
		return r.Message
	}
	return ""
}

// Failed reports whether the result (or its absence) represents a failure.
func (r *Result) Failed() bool {
	return r == nil || !r.Success
}

// resultError converts an invocation outcome into a single error value.
func resultError(res *Result, err error) error {
	if err != nil {
		return err
	}
	if res == nil {
		return fmt.Errorf("migration returned no result")
	}
	if !res.Success {
		if res.Err != nil {
			return res.Err
		}
		return fmt.Errorf("migration reported failure: %s", res.Message)
	}
	return nil
}
