package engine

import (
	"fmt"
	"strings"
)

// SeverityTable maps one tool's severity vocabulary to the canonical scale.
type SeverityTable map[string]Severity

// toolSeverityTables is the authoritative mapping. Tools use 3-, 4- and 5-level scales,
// and some emit no severity at all; their adapters substitute a fixed token.
var toolSeverityTables = map[string]SeverityTable{
	// gitleaks reports no severity; every leaked secret is treated as critical.
	"gitleaks": {"SECRET": SevCritical},
	// trivy: 5 levels. UNKNOWN falls back to MEDIUM with a warning.
	"trivy": {"CRITICAL": SevCritical, "HIGH": SevHigh, "MEDIUM": SevMedium, "LOW": SevLow},
	// semgrep: legacy 3 levels plus the newer 4-level names.
	"semgrep": {
		"ERROR": SevHigh, "WARNING": SevMedium, "INFO": SevLow,
		"CRITICAL": SevCritical, "HIGH": SevHigh, "MEDIUM": SevMedium, "LOW": SevLow,
	},
	// kics: 5 levels plus TRACE.
	"kics": {
		"CRITICAL": SevCritical, "HIGH": SevHigh, "MEDIUM": SevMedium,
		"LOW": SevLow, "INFO": SevLow, "TRACE": SevLow,
	},
	"gosec":  {"HIGH": SevHigh, "MEDIUM": SevMedium, "LOW": SevLow},
	"bandit": {"HIGH": SevHigh, "MEDIUM": SevMedium, "LOW": SevLow},
	// nikto reports no severity.
	"nikto": {"FINDING": SevMedium},
	"lynis": {"WARNING": SevMedium, "SUGGESTION": SevLow},
	// nmap severities come from the adapter's port-risk heuristic.
	"nmap": {"HIGH": SevHigh, "MEDIUM": SevMedium, "LOW": SevLow},
}

// NormalizeWarning describes a severity that had to fall back to MEDIUM.
type NormalizeWarning struct {
	Tool        string
	RuleID      string
	RawSeverity string
}

func (w NormalizeWarning) String() string {
	return fmt.Sprintf("%s rule %q: unknown severity %q normalized to MEDIUM", w.Tool, w.RuleID, w.RawSeverity)
}

// MapSeverity maps a raw tool severity. ok is false when the MEDIUM fallback was used.
func MapSeverity(tool, raw string) (sev Severity, ok bool) {
	table, found := toolSeverityTables[strings.ToLower(tool)]
	if !found {
		return SevMedium, false
	}
	sev, found = table[strings.ToUpper(strings.TrimSpace(raw))]
	if !found {
		return SevMedium, false
	}
	return sev, true
}

// SeverityTableFor returns a copy of a tool's table, or nil if the tool is unknown.
func SeverityTableFor(tool string) SeverityTable {
	table, ok := toolSeverityTables[strings.ToLower(tool)]
	if !ok {
		return nil
	}
	out := make(SeverityTable, len(table))
	for k, v := range table {
		out[k] = v
	}
	return out
}
