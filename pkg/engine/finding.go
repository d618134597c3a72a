package engine

import (
	"sort"
	"strings"
)

// Severity is the canonical 4-level severity scale.
type Severity string

const (
	SevCritical Severity = "CRITICAL"
	SevHigh     Severity = "HIGH"
	SevMedium   Severity = "MEDIUM"
	SevLow      Severity = "LOW"
)

// Severities lists the canonical scale from most to least severe.
var Severities = []Severity{SevCritical, SevHigh, SevMedium, SevLow}

// Rank orders severities so that max() is meaningful. Unknown values rank lowest.
func (s Severity) Rank() int {
	switch s {
	case SevCritical:
		return 4
	case SevHigh:
		return 3
	case SevMedium:
		return 2
	case SevLow:
		return 1
	default:
		return 0
	}
}

// ParseSeverity accepts a canonical severity name in any case.
func ParseSeverity(s string) (Severity, bool) {
	sev := Severity(strings.ToUpper(strings.TrimSpace(s)))
	if sev.Rank() == 0 {
		return "", false
	}
	return sev, true
}

// Status is the lifecycle state of a Finding.
type Status string

const (
	StatusOpen            Status = "OPEN"
	StatusFixed           Status = "FIXED"
	StatusSuppressed      Status = "SUPPRESSED"
	StatusSkippedConflict Status = "SKIPPED_CONFLICT"
)

// RawFinding is what an adapter extracts from one entry of a tool report.
type RawFinding struct {
	Tool        string `json:"tool"`
	RuleID      string `json:"rule_id"`
	RawSeverity string `json:"raw_severity"`
	FilePath    string `json:"file_path,omitempty"`
	Line        int    `json:"line,omitempty"`
	Message     string `json:"message"`
	Resource    string `json:"resource,omitempty"` // host, image or package when there is no file
}

// SourceRef records one raw report that contributed to a Finding.
type SourceRef struct {
	Tool        string   `json:"tool"`
	RuleID      string   `json:"rule_id"`
	RawSeverity string   `json:"raw_severity"`
	Severity    Severity `json:"severity"`
	Line        int      `json:"line,omitempty"`
	Message     string   `json:"message"`
}

// Finding represents a normalized security finding from one or more tools
type Finding struct {
	ID             string      `json:"id"`
	ScanID         string      `json:"scan_id,omitempty"`
	Fingerprint    string      `json:"fingerprint"`
	FilePath       string      `json:"file_path"`
	Line           int         `json:"line,omitempty"`
	Category       Category    `json:"category"`
	RuleID         string      `json:"rule_id"`
	Severity       Severity    `json:"severity"`
	Message        string      `json:"message"`
	Tools          []string    `json:"contributing_tools"`
	ComplianceTags []string    `json:"compliance_tags"`
	Status         Status      `json:"status"`
	Sources        []SourceRef `json:"sources"`
}

// HasTool reports whether tool contributed to the finding.
func (f Finding) HasTool(tool string) bool {
	for _, t := range f.Tools {
		if strings.EqualFold(t, tool) {
			return true
		}
	}
	return false
}

// FindingIDFromFingerprint derives the stable finding id.
func FindingIDFromFingerprint(fp string) string {
	if len(fp) > 16 {
		fp = fp[:16]
	}
	return "F-" + fp
}

// SortFindings orders findings by severity desc, then path, line and fingerprint.
func SortFindings(fs []Finding) {
	sort.SliceStable(fs, func(i, j int) bool {
		a, b := fs[i], fs[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Fingerprint < b.Fingerprint
	})
}

// CountBySeverity tallies non-suppressed findings per canonical severity.
func CountBySeverity(fs []Finding) map[Severity]int {
	counts := make(map[Severity]int, len(Severities))
	for _, s := range Severities {
		counts[s] = 0
	}
	for _, f := range fs {
		if f.Status == StatusSuppressed {
			continue
		}
		counts[f.Severity]++
	}
	return counts
}

func unionSorted(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		set[s] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
