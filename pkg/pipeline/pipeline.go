// Package pipeline wires adapters, normalization, dedup, compliance,
// discrepancy detection, persistence and audit into one scan flow.
package pipeline

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/user/gosec-agg/pkg/adapters"
	"github.com/user/gosec-agg/pkg/audit"
	"github.com/user/gosec-agg/pkg/engine"
	"github.com/user/gosec-agg/pkg/wrappers"
)

// RunStore persists closed scan runs.
type RunStore interface {
	SaveScanRun(ctx context.Context, run *engine.ScanRun, findings []engine.Finding) error
}

// Auditor records pipeline events.
type Auditor interface {
	Append(ctx context.Context, actor, action string, payload any) (*audit.Entry, error)
}

// ToolOutput is one scanner report, either produced by the scheduler or read from disk.
type ToolOutput struct {
	Tool       string
	Data       []byte
	Invocation engine.ToolInvocation
}

// ReportFile names a pre-generated report.
type ReportFile struct {
	Tool string
	Path string
}

// Outcome is the result of one aggregation.
type Outcome struct {
	Run      *engine.ScanRun
	Findings []engine.Finding
	Warnings []string
}

// Pipeline holds the stages. Nil Compliance, Store and Audit are skipped.
type Pipeline struct {
	Adapters   *adapters.Registry
	Normalizer *engine.Normalizer
	Compliance *engine.ComplianceMapper
	Scheduler  *wrappers.Scheduler
	Store      RunStore
	Audit      Auditor
	Logger     *zap.Logger

	ContextLines int
}

// New returns a pipeline with the default adapters and normalizer.
func New(logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		Adapters:   adapters.DefaultRegistry(),
		Normalizer: engine.NewNormalizer(engine.DefaultBlockSize),
		Logger:     logger.Named("pipeline"),
	}
}

// Scan runs the given scanners against sc.Root and aggregates their reports.
// A cancelled ctx still aggregates and persists what completed; the
// cancellation error is returned alongside the outcome.
func (p *Pipeline) Scan(ctx context.Context, sc engine.ScanContext, specs []wrappers.ToolSpec) (*Outcome, error) {
	sched := p.Scheduler
	if sched == nil {
		sched = wrappers.NewScheduler(0, 0, p.Logger)
	}
	results, runErr := sched.Run(ctx, sc.Root, specs)

	outputs := make([]ToolOutput, 0, len(results))
	for _, r := range results {
		outputs = append(outputs, ToolOutput{Tool: r.Tool, Data: r.Output, Invocation: r.Invocation()})
	}
	// persistence must outlive a cancelled scan
	out, err := p.Aggregate(context.WithoutCancel(ctx), sc, outputs)
	if err != nil {
		return out, err
	}
	return out, runErr
}

// Ingest aggregates reports that were generated outside this process.
func (p *Pipeline) Ingest(ctx context.Context, sc engine.ScanContext, reports []ReportFile) (*Outcome, error) {
	outputs := make([]ToolOutput, 0, len(reports))
	for _, r := range reports {
		o := ToolOutput{Tool: r.Tool, Invocation: engine.ToolInvocation{Tool: r.Tool, Status: engine.InvocationSuccess}}
		data, err := os.ReadFile(r.Path)
		if err != nil {
			o.Invocation.Status = engine.InvocationFailed
			o.Invocation.Error = err.Error()
		}
		o.Data = data
		outputs = append(outputs, o)
	}
	return p.Aggregate(ctx, sc, outputs)
}

// Aggregate parses, normalizes, deduplicates and tags the outputs, then closes
// and persists the run. A report that cannot be parsed marks its tool FAILED
// and contributes nothing; other tools are unaffected.
func (p *Pipeline) Aggregate(ctx context.Context, sc engine.ScanContext, outputs []ToolOutput) (*Outcome, error) {
	log := p.Logger.With(zap.String("scan_id", sc.ScanID))
	run := engine.NewScanRun(sc)
	out := &Outcome{Run: run}

	var raws []engine.RawFinding
	for _, o := range outputs {
		inv := o.Invocation
		if inv.Tool == "" {
			inv.Tool = o.Tool
		}
		if inv.Status == "" {
			inv.Status = engine.InvocationSuccess
		}
		if inv.Status == engine.InvocationSuccess {
			found, warnings, err := p.Adapters.Parse(o.Tool, o.Data)
			if err != nil {
				inv.Status = engine.InvocationFailed
				inv.Error = err.Error()
				log.Warn("Discarding unparseable report.", zap.String("tool", o.Tool), zap.Error(err))
			} else {
				inv.RawCount = len(found)
				raws = append(raws, found...)
				for _, w := range warnings {
					inv.Warnings = append(inv.Warnings, w.String())
					out.Warnings = append(out.Warnings, w.String())
				}
			}
		}
		if err := run.Record(inv); err != nil {
			return out, err
		}
	}

	normalized, nwarn := p.Normalizer.Normalize(sc, raws)
	for _, w := range nwarn {
		out.Warnings = append(out.Warnings, w.String())
	}
	findings := engine.Dedup(normalized)
	if p.Compliance != nil {
		findings = p.Compliance.Apply(findings)
	}
	out.Findings = findings
	run.Close(sc.Clock())

	log.Info("Aggregation complete.",
		zap.Int("tools", len(outputs)),
		zap.Int("raw", len(raws)),
		zap.Int("findings", len(findings)),
		zap.Int("warnings", len(out.Warnings)))

	if p.Store != nil {
		if err := p.Store.SaveScanRun(ctx, run, findings); err != nil {
			return out, fmt.Errorf("persist scan run: %w", err)
		}
	}
	if p.Audit != nil {
		payload := map[string]any{
			"scan_id":  sc.ScanID,
			"target":   sc.Root,
			"tools":    run.Snapshot(),
			"findings": len(findings),
			"counts":   engine.CountBySeverity(findings),
		}
		if _, err := p.Audit.Append(ctx, sc.Actor, "scan.completed", payload); err != nil {
			return out, fmt.Errorf("audit scan: %w", err)
		}
	}
	return out, nil
}

// CheckGate compares a gate summary against findings and audits the verdict.
func (p *Pipeline) CheckGate(ctx context.Context, sc engine.ScanContext, gate engine.GateSummary, findings []engine.Finding) (*engine.DiscrepancyReport, error) {
	report, err := engine.DetectDiscrepancy(sc, gate, findings, engine.DiscrepancyOptions{ContextLines: p.ContextLines})
	if err != nil {
		return nil, err
	}
	if p.Audit != nil {
		payload := map[string]any{
			"scan_id":                  report.ScanID,
			"gate":                     report.Gate,
			"flag":                     report.Flag,
			"delta":                    report.Delta,
			"gate_correctness_failure": report.GateCorrectnessFailure,
			"missed":                   len(report.Missed),
		}
		if _, err := p.Audit.Append(ctx, sc.Actor, "gate.compared", payload); err != nil {
			return report, fmt.Errorf("audit gate comparison: %w", err)
		}
	}
	return report, nil
}

// FailedTools lists tools whose invocation did not succeed.
func (o *Outcome) FailedTools() []string {
	var out []string
	for _, inv := range o.Run.Snapshot() {
		if inv.Status != engine.InvocationSuccess {
			out = append(out, inv.Tool)
		}
	}
	return out
}
