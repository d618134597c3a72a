package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ScanContext is threaded through every pipeline stage in place of global project state.
type ScanContext struct {
	ScanID string
	Root   string // absolute scan target; all finding paths are relative to it
	Actor  string
	Logger *zap.Logger
	Now    func() time.Time
}

// NewScanContext creates a context with a fresh scan id.
func NewScanContext(root, actor string, logger *zap.Logger) ScanContext {
	if logger == nil {
		logger = zap.NewNop()
	}
	return ScanContext{
		ScanID: uuid.New().String(),
		Root:   root,
		Actor:  actor,
		Logger: logger,
		Now:    func() time.Time { return time.Now().UTC() },
	}
}

// Log returns the context logger, never nil.
func (sc ScanContext) Log() *zap.Logger {
	if sc.Logger == nil {
		return zap.NewNop()
	}
	return sc.Logger
}

// Clock returns the current time from the context clock.
func (sc ScanContext) Clock() time.Time {
	if sc.Now == nil {
		return time.Now().UTC()
	}
	return sc.Now()
}

// InvocationStatus is the outcome of running one tool.
type InvocationStatus string

const (
	InvocationSuccess InvocationStatus = "SUCCESS"
	InvocationTimeout InvocationStatus = "TIMEOUT"
	InvocationFailed  InvocationStatus = "FAILED"
)

// ToolInvocation records how one tool contributed to a scan run.
type ToolInvocation struct {
	Tool     string           `json:"tool"`
	Status   InvocationStatus `json:"status"`
	Duration time.Duration    `json:"duration"`
	Error    string           `json:"error,omitempty"`
	RawCount int              `json:"raw_count"`
	Warnings []string         `json:"warnings,omitempty"`
}

// ScanRun is the record of one aggregation. It is immutable once closed.
type ScanRun struct {
	ID          string           `json:"id"`
	Target      string           `json:"target"`
	StartedAt   time.Time        `json:"started_at"`
	ClosedAt    time.Time        `json:"closed_at,omitempty"`
	Invocations []ToolInvocation `json:"invocations"`

	mu     sync.Mutex
	closed bool
}

// NewScanRun opens a run for the given context.
func NewScanRun(sc ScanContext) *ScanRun {
	return &ScanRun{
		ID:        sc.ScanID,
		Target:    sc.Root,
		StartedAt: sc.Clock(),
	}
}

// Record appends a tool invocation result.
func (r *ScanRun) Record(inv ToolInvocation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRunClosed
	}
	r.Invocations = append(r.Invocations, inv)
	return nil
}

// Close freezes the run. Closing twice is a no-op.
func (r *ScanRun) Close(at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.ClosedAt = at
}

// Closed reports whether the run has been closed.
func (r *ScanRun) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// MarkClosed is used when rehydrating a persisted run.
func (r *ScanRun) MarkClosed() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// Snapshot returns a copy of the invocations.
func (r *ScanRun) Snapshot() []ToolInvocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ToolInvocation, len(r.Invocations))
	copy(out, r.Invocations)
	return out
}
