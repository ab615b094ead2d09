package migration

import (
	"errors"
	"fmt"
)

// ErrorCode classifies engine failures.
type ErrorCode string

const (
	// ErrValidation marks malformed metadata or a broken id sequence.
	ErrValidation ErrorCode = "VALIDATION"
	// ErrConnectivity marks an unreachable database.
	ErrConnectivity ErrorCode = "CONNECTIVITY"
	// ErrConcurrency marks another run already in progress.
	ErrConcurrency ErrorCode = "CONCURRENCY"
	// ErrResource marks insufficient disk space or similar.
	ErrResource ErrorCode = "RESOURCE"
	// ErrExecution marks a failed migration Up or Down.
	ErrExecution ErrorCode = "EXECUTION"
	// ErrTransaction marks a failed operation inside a transactional batch.
	ErrTransaction ErrorCode = "TRANSACTION"
	// ErrTool marks a backup/restore subprocess failure.
	ErrTool ErrorCode = "TOOL"
)

// Sentinel errors.
var (
	// ErrLockHeld is returned when the run lock is already held by another
	// process.
	ErrLockHeld = errors.New("migration lock is held by another process")

	// ErrRecordNotFound is returned when no tracking record exists for a
	// migration id.
	ErrRecordNotFound = errors.New("migration record not found")

	// ErrNotRegistered is returned when a target id is not in the registry.
	ErrNotRegistered = errors.New("migration is not registered")
)

// Error is a structured engine error carrying a classification code, the
// migration it concerns (when applicable) and the underlying cause.
type Error struct {
	Code        ErrorCode
	Message     string
	MigrationID string
	Cause       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.MigrationID != "" {
		msg = fmt.Sprintf("%s (migration %s)", msg, e.MigrationID)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause attaches the underlying cause.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithMigration attaches the migration id the error concerns.
func (e *Error) WithMigration(id string) *Error {
	e.MigrationID = id
	return e
}

// CodeOf extracts the classification code from an error, or "" when the
// error is not an engine Error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
