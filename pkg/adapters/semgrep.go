package adapters

import (
	"encoding/json"

	"github.com/user/gosec-agg/pkg/engine"
)

// SemgrepAdapter parses `semgrep --json`.
type SemgrepAdapter struct{}

type semgrepReport struct {
	Results []json.RawMessage `json:"results"`
}

type semgrepResult struct {
	CheckID string `json:"check_id"`
	Path    string `json:"path"`
	Start   struct {
		Line int `json:"line"`
	} `json:"start"`
	Extra struct {
		Message  string `json:"message"`
		Severity string `json:"severity"` // INFO|WARNING|ERROR
	} `json:"extra"`
}

func (SemgrepAdapter) Tool() string { return "semgrep" }

func (a SemgrepAdapter) Parse(raw []byte) ([]engine.RawFinding, []ParseWarning, error) {
	var doc semgrepReport
	if err := decodeEntries(raw, &doc); err != nil {
		return nil, nil, err
	}

	out := make([]engine.RawFinding, 0, len(doc.Results))
	var warnings []ParseWarning
	for i, e := range doc.Results {
		var r semgrepResult
		if err := json.Unmarshal(e, &r); err != nil {
			warnings = append(warnings, ParseWarning{Tool: a.Tool(), Index: i, Reason: err.Error()})
			continue
		}
		if r.CheckID == "" || r.Path == "" {
			warnings = append(warnings, ParseWarning{Tool: a.Tool(), Index: i, Reason: "missing check_id or path"})
			continue
		}
		out = append(out, engine.RawFinding{
			Tool:        a.Tool(),
			RuleID:      r.CheckID,
			RawSeverity: r.Extra.Severity,
			FilePath:    cleanPath(r.Path),
			Line:        safeLine(r.Start.Line),
			Message:     firstNonEmpty(r.Extra.Message, r.CheckID),
		})
	}
	return out, warnings, nil
}
