package engine

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// UnifiedGraph holds the deduplicated findings of one scan run
type UnifiedGraph struct {
	Findings []Finding
	mu       sync.RWMutex
}

// NewUnifiedGraph creates a new graph instance
func NewUnifiedGraph() *UnifiedGraph {
	return &UnifiedGraph{
		Findings: make([]Finding, 0),
	}
}

// AddFindings merges new findings into the graph by fingerprint.
func (g *UnifiedGraph) AddFindings(newFindings []Finding) {
	g.mu.Lock()
	defer g.mu.Unlock()

	merged := make([]Finding, 0, len(g.Findings)+len(newFindings))
	merged = append(merged, g.Findings...)
	merged = append(merged, newFindings...)
	g.Findings = Dedup(merged)
}

// List returns a copy of the current findings.
func (g *UnifiedGraph) List() []Finding {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Finding, len(g.Findings))
	copy(out, g.Findings)
	return out
}

// Dedup groups findings sharing a fingerprint into one finding per group.
//
// Severity is the max over the group, tools and compliance tags are unions, and
// sources are concatenated so no raw report is lost. Message, rule and line come
// from the highest-severity contributor; ties go to the alphabetically first tool.
// Dedup(Dedup(x)) equals Dedup(x).
func Dedup(findings []Finding) []Finding {
	groups := make(map[string][]Finding)
	order := make([]string, 0)
	for _, f := range findings {
		if _, seen := groups[f.Fingerprint]; !seen {
			order = append(order, f.Fingerprint)
		}
		groups[f.Fingerprint] = append(groups[f.Fingerprint], f)
	}

	out := make([]Finding, 0, len(order))
	for _, fp := range order {
		out = append(out, mergeGroup(groups[fp]))
	}
	SortFindings(out)
	return out
}

func mergeGroup(group []Finding) Finding {
	lead := group[0]
	for _, f := range group[1:] {
		if outranks(f, lead) {
			lead = f
		}
	}

	merged := lead
	merged.ID = FindingIDFromFingerprint(lead.Fingerprint)
	merged.Tools = nil
	merged.ComplianceTags = nil
	merged.Sources = nil
	for _, f := range group {
		merged.Tools = unionSorted(merged.Tools, f.Tools)
		merged.ComplianceTags = unionSorted(merged.ComplianceTags, f.ComplianceTags)
		merged.Sources = append(merged.Sources, f.Sources...)
		if f.Severity.Rank() > merged.Severity.Rank() {
			merged.Severity = f.Severity
		}
		merged.Status = mergeStatus(merged.Status, f.Status)
	}
	sortSources(merged.Sources)
	return merged
}

// outranks reports whether a should supply the representative fields over b.
func outranks(a, b Finding) bool {
	if a.Severity.Rank() != b.Severity.Rank() {
		return a.Severity.Rank() > b.Severity.Rank()
	}
	return leadTool(a) < leadTool(b)
}

func leadTool(f Finding) string {
	if len(f.Tools) == 0 {
		return ""
	}
	tools := append([]string(nil), f.Tools...)
	sort.Strings(tools)
	return tools[0]
}

// mergeStatus keeps the least-resolved state: an issue still open in any
// contributor stays open.
func mergeStatus(a, b Status) Status {
	rank := func(s Status) int {
		switch s {
		case StatusOpen, "":
			return 3
		case StatusSkippedConflict:
			return 2
		case StatusFixed:
			return 1
		default:
			return 0
		}
	}
	if rank(b) > rank(a) {
		if b == "" {
			return StatusOpen
		}
		return b
	}
	if a == "" {
		return StatusOpen
	}
	return a
}

func sortSources(s []SourceRef) {
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].Tool != s[j].Tool {
			return s[i].Tool < s[j].Tool
		}
		if s[i].Line != s[j].Line {
			return s[i].Line < s[j].Line
		}
		if s[i].RuleID != s[j].RuleID {
			return s[i].RuleID < s[j].RuleID
		}
		return s[i].Message < s[j].Message
	})
}

// SourceCount returns the number of raw findings referenced across all findings.
func SourceCount(fs []Finding) int {
	n := 0
	for _, f := range fs {
		n += len(f.Sources)
	}
	return n
}

// GetReport returns a text summary of the graph
func (g *UnifiedGraph) GetReport() string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Unified Findings (%d findings, %d raw reports):\n", len(g.Findings), SourceCount(g.Findings)))
	sb.WriteString("--------------------------------------------------\n")

	for _, f := range g.Findings {
		sb.WriteString(fmt.Sprintf("[%s] %s %s (%s)\n", f.Severity, f.ID, f.Category, strings.Join(f.Tools, ", ")))
		if f.Line > 0 {
			sb.WriteString(fmt.Sprintf("  Location: %s:%d\n", f.FilePath, f.Line))
		} else {
			sb.WriteString(fmt.Sprintf("  Location: %s\n", f.FilePath))
		}
		sb.WriteString(fmt.Sprintf("  Rule: %s\n", f.RuleID))
		sb.WriteString(fmt.Sprintf("  Message: %s\n", f.Message))
		if len(f.ComplianceTags) > 0 {
			sb.WriteString(fmt.Sprintf("  Compliance: %s\n", strings.Join(f.ComplianceTags, ", ")))
		}
		if f.Status != StatusOpen {
			sb.WriteString(fmt.Sprintf("  Status: %s\n", f.Status))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
