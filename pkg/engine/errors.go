package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrRunClosed is returned when a closed ScanRun is modified.
	ErrRunClosed = errors.New("scan run is closed")
	// ErrBackupUnavailable means the backup location cannot be written; mutation is refused.
	ErrBackupUnavailable = errors.New("backup location unavailable")
	// ErrAuditHalted is returned by audit writes after a failed chain verification.
	ErrAuditHalted = errors.New("audit log halted after integrity failure")
	// ErrToolTimeout marks a tool invocation that exceeded its timeout.
	ErrToolTimeout = errors.New("tool timed out")
)

// ParseError means a tool report could not be parsed at all.
type ParseError struct {
	Tool string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s report: %v", e.Tool, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ToolExecutionError means a scanner binary was missing or crashed.
type ToolExecutionError struct {
	Tool   string
	Stderr string
	Err    error
}

func (e *ToolExecutionError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("run %s: %v (stderr: %s)", e.Tool, e.Err, e.Stderr)
	}
	return fmt.Sprintf("run %s: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// FixApplicationError means a fix matched but the mutated content could not be written.
type FixApplicationError struct {
	FilePath string
	Pattern  string
	Err      error
}

func (e *FixApplicationError) Error() string {
	return fmt.Sprintf("apply %s to %s: %v", e.Pattern, e.FilePath, e.Err)
}

func (e *FixApplicationError) Unwrap() error { return e.Err }

// VerificationError means the triggering pattern still matched after a fix was applied.
type VerificationError struct {
	FilePath string
	Pattern  string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verify %s on %s: pattern still matches after apply", e.Pattern, e.FilePath)
}

// AuditIntegrityError reports the first audit entry whose hash link is broken.
type AuditIntegrityError struct {
	EntryID int64
	Reason  string
}

func (e *AuditIntegrityError) Error() string {
	return fmt.Sprintf("audit chain broken at entry %d: %s", e.EntryID, e.Reason)
}
