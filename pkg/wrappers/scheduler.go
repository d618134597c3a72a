// Package wrappers runs scanner binaries as isolated subprocesses.
package wrappers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/user/gosec-agg/pkg/engine"
)

// DefaultToolTimeout bounds a single scanner run.
const DefaultToolTimeout = 120 * time.Second

// ToolResult is the outcome of one scanner invocation.
type ToolResult struct {
	Tool     string
	Status   engine.InvocationStatus
	Output   []byte
	Duration time.Duration
	Err      error
}

// Invocation converts the result to its ScanRun record.
func (r ToolResult) Invocation() engine.ToolInvocation {
	inv := engine.ToolInvocation{Tool: r.Tool, Status: r.Status, Duration: r.Duration}
	if r.Err != nil {
		inv.Error = r.Err.Error()
	}
	return inv
}

// Scheduler runs scanners concurrently with a bounded worker pool.
// A failing or slow tool never cancels its siblings.
type Scheduler struct {
	Workers int
	Timeout time.Duration
	Logger  *zap.Logger
}

// NewScheduler returns a scheduler. workers <= 0 means one worker per tool.
func NewScheduler(workers int, timeout time.Duration, logger *zap.Logger) *Scheduler {
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{Workers: workers, Timeout: timeout, Logger: logger.Named("scheduler")}
}

// Run executes every spec against target. After ctx is cancelled no new tool
// starts and in-flight tools are killed. Every spec gets a result; tools that
// never started are FAILED with the cancellation cause. ctx.Err() is returned
// alongside.
func (s *Scheduler) Run(ctx context.Context, target string, specs []ToolSpec) ([]ToolResult, error) {
	workers := s.Workers
	if workers <= 0 {
		workers = len(specs)
	}
	if workers <= 0 {
		return nil, nil
	}

	var g errgroup.Group
	g.SetLimit(workers)

	var mu sync.Mutex
	results := make([]ToolResult, 0, len(specs))

	for i, spec := range specs {
		if err := ctx.Err(); err != nil {
			mu.Lock()
			for _, rest := range specs[i:] {
				results = append(results, notStarted(rest, err))
			}
			mu.Unlock()
			break
		}
		g.Go(func() error {
			var res ToolResult
			// a slot may have freed up only after cancellation
			if err := ctx.Err(); err != nil {
				res = notStarted(spec, err)
			} else {
				res = s.runOne(ctx, target, spec)
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Tool < results[j].Tool })
	return results, ctx.Err()
}

func notStarted(spec ToolSpec, cause error) ToolResult {
	return ToolResult{
		Tool:   spec.Name,
		Status: engine.InvocationFailed,
		Err:    &engine.ToolExecutionError{Tool: spec.Name, Err: fmt.Errorf("not started: %w", cause)},
	}
}

func (s *Scheduler) runOne(ctx context.Context, target string, spec ToolSpec) (res ToolResult) {
	log := s.Logger.With(zap.String("tool", spec.Name))
	res.Tool = spec.Name
	start := time.Now()
	defer func() { res.Duration = time.Since(start) }()

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reportPath := ""
	if spec.ReportFromFile {
		f, err := os.CreateTemp("", spec.Name+"-report-*")
		if err != nil {
			res.Status = engine.InvocationFailed
			res.Err = &engine.ToolExecutionError{Tool: spec.Name, Err: fmt.Errorf("create report file: %w", err)}
			return res
		}
		reportPath = f.Name()
		f.Close()
		// some scanners refuse to overwrite an existing report
		os.Remove(reportPath)
		defer os.Remove(reportPath)
	}

	args, err := spec.RenderArgs(target, reportPath)
	if err != nil {
		res.Status = engine.InvocationFailed
		res.Err = &engine.ToolExecutionError{Tool: spec.Name, Err: err}
		return res
	}

	log.Debug("Starting scanner.", zap.String("binary", spec.Binary), zap.Strings("args", args))
	cmd := exec.CommandContext(tctx, spec.Binary, args...)
	cmd.WaitDelay = 2 * time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	switch {
	case errors.Is(tctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		res.Status = engine.InvocationTimeout
		res.Err = fmt.Errorf("%s after %s: %w", spec.Name, timeout, engine.ErrToolTimeout)
		log.Warn("Scanner timed out.", zap.Duration("timeout", timeout))
		return res
	case ctx.Err() != nil:
		res.Status = engine.InvocationFailed
		res.Err = &engine.ToolExecutionError{Tool: spec.Name, Err: ctx.Err()}
		return res
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) || !spec.okExit(exitErr.ExitCode()) {
			res.Status = engine.InvocationFailed
			res.Err = &engine.ToolExecutionError{Tool: spec.Name, Stderr: truncate(stderr.String(), 512), Err: runErr}
			log.Warn("Scanner failed.", zap.Error(res.Err))
			return res
		}
	}

	if spec.ReportFromFile {
		data, err := os.ReadFile(reportPath)
		if err != nil {
			res.Status = engine.InvocationFailed
			res.Err = &engine.ToolExecutionError{Tool: spec.Name, Stderr: truncate(stderr.String(), 512), Err: fmt.Errorf("read report: %w", err)}
			return res
		}
		res.Output = data
	} else {
		res.Output = stdout.Bytes()
	}
	res.Status = engine.InvocationSuccess
	log.Info("Scanner finished.", zap.Int("report_bytes", len(res.Output)), zap.Duration("duration", time.Since(start)))
	return res
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
