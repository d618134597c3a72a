package adapters

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/user/gosec-agg/pkg/engine"
)

// GitleaksAdapter parses `gitleaks detect --report-format json`.
type GitleaksAdapter struct{}

type gitleaksFinding struct {
	Description string `json:"Description"`
	File        string `json:"File"`
	StartLine   int    `json:"StartLine"`
	Secret      string `json:"Secret"`
	RuleID      string `json:"RuleID"`
	Match       string `json:"Match"`
}

func (GitleaksAdapter) Tool() string { return "gitleaks" }

func (a GitleaksAdapter) Parse(raw []byte) ([]engine.RawFinding, []ParseWarning, error) {
	// gitleaks writes an empty file when nothing leaked
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil, nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, nil, err
	}

	var out []engine.RawFinding
	var warnings []ParseWarning
	for i, e := range entries {
		var gl gitleaksFinding
		if err := json.Unmarshal(e, &gl); err != nil {
			warnings = append(warnings, ParseWarning{Tool: a.Tool(), Index: i, Reason: err.Error()})
			continue
		}
		if gl.File == "" || gl.RuleID == "" {
			warnings = append(warnings, ParseWarning{Tool: a.Tool(), Index: i, Reason: "missing File or RuleID"})
			continue
		}
		// The matched secret is never copied into the finding.
		out = append(out, engine.RawFinding{
			Tool:        a.Tool(),
			RuleID:      gl.RuleID,
			RawSeverity: "SECRET",
			FilePath:    cleanPath(gl.File),
			Line:        safeLine(gl.StartLine),
			Message:     fmt.Sprintf("%s (rule %s)", firstNonEmpty(gl.Description, "Hardcoded secret"), gl.RuleID),
		})
	}
	return out, warnings, nil
}
