package engine

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
)

// GateSummary is what an upstream CI gate claims to have found. It is untrusted.
type GateSummary struct {
	Gate                 string   `json:"gate,omitempty"`
	Passed               *bool    `json:"passed,omitempty"`
	Critical             int      `json:"critical"`
	High                 int      `json:"high"`
	Medium               int      `json:"medium"`
	Low                  int      `json:"low"`
	ReportedFingerprints []string `json:"reported_fingerprints,omitempty"`
}

// Counts returns the reported counts keyed by canonical severity.
func (g GateSummary) Counts() map[Severity]int {
	return map[Severity]int{
		SevCritical: g.Critical,
		SevHigh:     g.High,
		SevMedium:   g.Medium,
		SevLow:      g.Low,
	}
}

// Validate rejects summaries that cannot describe a real scan.
func (g GateSummary) Validate() error {
	for sev, n := range g.Counts() {
		if n < 0 {
			return fmt.Errorf("gate summary: negative %s count %d", sev, n)
		}
	}
	return nil
}

// DecodeGateSummary parses a gate summary. Keys are matched case-insensitively.
func DecodeGateSummary(r io.Reader) (GateSummary, error) {
	var g GateSummary
	dec := json.NewDecoder(r)
	if err := dec.Decode(&g); err != nil {
		return GateSummary{}, fmt.Errorf("decode gate summary: %w", err)
	}
	if err := g.Validate(); err != nil {
		return GateSummary{}, err
	}
	return g, nil
}

// DiscrepancyFlag is the overall verdict of a comparison.
type DiscrepancyFlag string

const (
	FlagMatch    DiscrepancyFlag = "MATCH"
	FlagMismatch DiscrepancyFlag = "MISMATCH"
)

// MissedFinding is a finding the gate did not account for, with its source window.
type MissedFinding struct {
	Finding      Finding        `json:"finding"`
	Context      *SourceContext `json:"context,omitempty"`
	ContextError string         `json:"context_error,omitempty"`
}

// DiscrepancyReport compares reported and actual counts.
type DiscrepancyReport struct {
	ScanID                 string           `json:"scan_id"`
	Gate                   string           `json:"gate,omitempty"`
	Reported               map[Severity]int `json:"reported"`
	Actual                 map[Severity]int `json:"actual"`
	Delta                  map[Severity]int `json:"delta"`
	Flag                   DiscrepancyFlag  `json:"flag"`
	GateCorrectnessFailure bool             `json:"gate_correctness_failure"`
	Missed                 []MissedFinding  `json:"missed"`
}

// DiscrepancyOptions tunes the detector.
type DiscrepancyOptions struct {
	ContextLines int
}

// DetectDiscrepancy computes actual - reported per severity. Any non-zero delta is a
// MISMATCH; a non-zero CRITICAL or HIGH delta is a gate-correctness failure.
func DetectDiscrepancy(sc ScanContext, gate GateSummary, findings []Finding, opts DiscrepancyOptions) (*DiscrepancyReport, error) {
	if err := gate.Validate(); err != nil {
		return nil, err
	}
	radius := opts.ContextLines
	if radius <= 0 {
		radius = DefaultContextLines
	}
	log := sc.Log().Named("discrepancy")

	report := &DiscrepancyReport{
		ScanID:   sc.ScanID,
		Gate:     gate.Gate,
		Reported: gate.Counts(),
		Actual:   CountBySeverity(findings),
		Delta:    make(map[Severity]int, len(Severities)),
		Flag:     FlagMatch,
		Missed:   []MissedFinding{},
	}
	for _, sev := range Severities {
		d := report.Actual[sev] - report.Reported[sev]
		report.Delta[sev] = d
		if d != 0 {
			report.Flag = FlagMismatch
			if sev == SevCritical || sev == SevHigh {
				report.GateCorrectnessFailure = true
			}
		}
	}

	reported := make(map[string]bool, len(gate.ReportedFingerprints))
	for _, fp := range gate.ReportedFingerprints {
		reported[strings.TrimSpace(fp)] = true
	}

	sorted := append([]Finding(nil), findings...)
	SortFindings(sorted)
	for _, f := range sorted {
		if f.Status == StatusSuppressed || report.Delta[f.Severity] <= 0 || reported[f.Fingerprint] {
			continue
		}
		mf := MissedFinding{Finding: f}
		ctxWin, err := ReadSourceContext(sc.Root, f.FilePath, f.Line, radius)
		if err != nil {
			mf.ContextError = err.Error()
			log.Debug("Source context unavailable.", zap.String("file", f.FilePath), zap.Error(err))
		} else {
			mf.Context = ctxWin
		}
		report.Missed = append(report.Missed, mf)
	}

	if report.GateCorrectnessFailure {
		log.Warn("Gate under-reported high-severity findings.",
			zap.String("gate", gate.Gate),
			zap.Int("critical_delta", report.Delta[SevCritical]),
			zap.Int("high_delta", report.Delta[SevHigh]))
	}
	return report, nil
}

// Render returns the human-readable report.
func (r *DiscrepancyReport) Render() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Gate Discrepancy Report (scan %s)\n", r.ScanID))
	if r.Gate != "" {
		sb.WriteString(fmt.Sprintf("Gate: %s\n", r.Gate))
	}
	sb.WriteString("--------------------------------------------------\n")
	sb.WriteString(fmt.Sprintf("%-10s %9s %7s %6s\n", "SEVERITY", "REPORTED", "ACTUAL", "DELTA"))
	for _, sev := range Severities {
		sb.WriteString(fmt.Sprintf("%-10s %9d %7d %+6d\n", sev, r.Reported[sev], r.Actual[sev], r.Delta[sev]))
	}
	sb.WriteString(fmt.Sprintf("\nResult: %s\n", r.Flag))
	if r.GateCorrectnessFailure {
		sb.WriteString("GATE CORRECTNESS FAILURE: the gate did not report every CRITICAL/HIGH finding.\n")
	}
	if len(r.Missed) > 0 {
		sb.WriteString(fmt.Sprintf("\nUnreported findings (%d):\n", len(r.Missed)))
		for _, m := range r.Missed {
			f := m.Finding
			sb.WriteString(fmt.Sprintf("\n[%s] %s %s:%d (%s)\n", f.Severity, f.RuleID, f.FilePath, f.Line, strings.Join(f.Tools, ", ")))
			sb.WriteString(fmt.Sprintf("  %s\n", f.Message))
			if m.Context != nil {
				sb.WriteString(m.Context.Render())
			} else if m.ContextError != "" {
				sb.WriteString(fmt.Sprintf("  (source unavailable: %s)\n", m.ContextError))
			}
		}
	}
	return sb.String()
}
