// Package report renders scan results as JSON, SARIF 2.1.0 or plain text.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/user/gosec-agg/pkg/engine"
)

// Format is an output format name.
type Format string

const (
	FormatText  Format = "text"
	FormatJSON  Format = "json"
	FormatSARIF Format = "sarif"
)

// ParseFormat accepts a format name in any case. Empty means text.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatText, nil
	case FormatText, FormatJSON, FormatSARIF:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, json or sarif)", s)
	}
}

// Bundle is everything one command may report.
type Bundle struct {
	Run         *engine.ScanRun            `json:"scan_run,omitempty"`
	Findings    []engine.Finding           `json:"findings"`
	Warnings    []string                   `json:"warnings,omitempty"`
	Discrepancy *engine.DiscrepancyReport  `json:"discrepancy,omitempty"`
	Actions     []engine.RemediationAction `json:"remediation_actions,omitempty"`
	Diff        *engine.SnapshotDiff       `json:"diff,omitempty"`
}

// Write renders b to w in the given format.
func Write(w io.Writer, format Format, b Bundle) error {
	if b.Findings == nil {
		b.Findings = []engine.Finding{}
	}
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(b)
	case FormatSARIF:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(BuildSARIF(b.Findings, ToolName, Version))
	case FormatText, "":
		_, err := io.WriteString(w, Text(b))
		return err
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
