package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/user/gosec-agg/pkg/engine"
)

// Text renders the human-readable form of a bundle.
func Text(b Bundle) string {
	var sb strings.Builder
	if b.Run != nil {
		sb.WriteString(fmt.Sprintf("Scan %s of %s\n", b.Run.ID, b.Run.Target))
		for _, inv := range b.Run.Snapshot() {
			line := fmt.Sprintf("  %-9s %-8s %4d raw  %s", inv.Tool, inv.Status, inv.RawCount, inv.Duration.Round(time.Millisecond))
			if inv.Error != "" {
				line += "  " + inv.Error
			}
			sb.WriteString(line + "\n")
		}
		sb.WriteString("\n")
	}

	counts := engine.CountBySeverity(b.Findings)
	parts := make([]string, 0, len(engine.Severities))
	for _, s := range engine.Severities {
		parts = append(parts, fmt.Sprintf("%s=%d", s, counts[s]))
	}
	sb.WriteString("Severity: " + strings.Join(parts, " ") + "\n\n")

	g := engine.NewUnifiedGraph()
	g.Findings = b.Findings
	sb.WriteString(g.GetReport())

	if len(b.Warnings) > 0 {
		sb.WriteString(fmt.Sprintf("Warnings (%d):\n", len(b.Warnings)))
		for _, w := range b.Warnings {
			sb.WriteString("  " + w + "\n")
		}
		sb.WriteString("\n")
	}
	if b.Discrepancy != nil {
		sb.WriteString(b.Discrepancy.Render())
		sb.WriteString("\n")
	}
	if len(b.Actions) > 0 {
		sb.WriteString(Actions(b.Actions))
	}
	if b.Diff != nil {
		sb.WriteString(fmt.Sprintf("Baseline comparison: %d new, %d fixed, %d unchanged\n",
			len(b.Diff.New), len(b.Diff.Fixed), len(b.Diff.Unchanged)))
		for _, f := range b.Diff.New {
			sb.WriteString(fmt.Sprintf("  + [%s] %s %s:%d\n", f.Severity, f.RuleID, f.FilePath, f.Line))
		}
		for _, f := range b.Diff.Fixed {
			sb.WriteString(fmt.Sprintf("  - [%s] %s %s:%d\n", f.Severity, f.RuleID, f.FilePath, f.Line))
		}
	}
	return sb.String()
}

// Actions lists remediation actions, one block per action.
func Actions(actions []engine.RemediationAction) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Remediation (%d actions):\n", len(actions)))
	for _, a := range actions {
		sb.WriteString(fmt.Sprintf("  [%s] %s %s (%s)\n", a.Result, a.FindingID, a.FilePath, a.Pattern))
		if a.Description != "" {
			sb.WriteString("    " + a.Description + "\n")
		}
		if a.Error != "" {
			sb.WriteString("    error: " + a.Error + "\n")
		}
		if a.BackupPath != "" {
			sb.WriteString("    backup: " + a.BackupPath + "\n")
		}
	}
	return sb.String()
}
