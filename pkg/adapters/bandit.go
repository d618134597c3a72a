package adapters

import (
	"encoding/json"

	"github.com/user/gosec-agg/pkg/engine"
)

// BanditAdapter parses `bandit -f json`.
type BanditAdapter struct{}

type banditResult struct {
	TestID        string `json:"test_id"`
	TestName      string `json:"test_name"`
	IssueText     string `json:"issue_text"`
	Filename      string `json:"filename"`
	LineNumber    int    `json:"line_number"`
	IssueSeverity string `json:"issue_severity"`
}

type banditReport struct {
	Results []json.RawMessage `json:"results"`
}

func (BanditAdapter) Tool() string { return "bandit" }

func (a BanditAdapter) Parse(raw []byte) ([]engine.RawFinding, []ParseWarning, error) {
	var doc banditReport
	if err := decodeEntries(raw, &doc); err != nil {
		return nil, nil, err
	}
	var out []engine.RawFinding
	var warnings []ParseWarning
	for i, e := range doc.Results {
		var r banditResult
		if err := json.Unmarshal(e, &r); err != nil {
			warnings = append(warnings, ParseWarning{Tool: a.Tool(), Index: i, Reason: err.Error()})
			continue
		}
		if r.TestID == "" || r.Filename == "" {
			warnings = append(warnings, ParseWarning{Tool: a.Tool(), Index: i, Reason: "missing test_id or filename"})
			continue
		}
		out = append(out, engine.RawFinding{
			Tool:        a.Tool(),
			RuleID:      r.TestID,
			RawSeverity: r.IssueSeverity,
			FilePath:    cleanPath(r.Filename),
			Line:        safeLine(r.LineNumber),
			Message:     firstNonEmpty(r.IssueText, r.TestName),
		})
	}
	return out, warnings, nil
}
