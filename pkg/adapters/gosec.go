package adapters

import (
	"encoding/json"
	"fmt"

	"github.com/user/gosec-agg/pkg/engine"
)

// GosecAdapter parses `gosec -fmt=json`.
type GosecAdapter struct{}

type gosecIssue struct {
	RuleID   string   `json:"rule_id"`
	Details  string   `json:"details"`
	File     string   `json:"file"`
	Line     flexLine `json:"line"`
	Severity string   `json:"severity"`
	Cwe      struct {
		ID string `json:"id"`
	} `json:"cwe"`
}

type gosecOut struct {
	Issues []json.RawMessage `json:"Issues"`
}

func (GosecAdapter) Tool() string { return "gosec" }

func (a GosecAdapter) Parse(raw []byte) ([]engine.RawFinding, []ParseWarning, error) {
	var o gosecOut
	if err := decodeEntries(raw, &o); err != nil {
		return nil, nil, err
	}
	var out []engine.RawFinding
	var warnings []ParseWarning
	for i, e := range o.Issues {
		var is gosecIssue
		if err := json.Unmarshal(e, &is); err != nil {
			warnings = append(warnings, ParseWarning{Tool: a.Tool(), Index: i, Reason: err.Error()})
			continue
		}
		if is.RuleID == "" || is.File == "" {
			warnings = append(warnings, ParseWarning{Tool: a.Tool(), Index: i, Reason: "missing rule_id or file"})
			continue
		}
		msg := is.Details
		if is.Cwe.ID != "" {
			msg = fmt.Sprintf("%s (CWE-%s)", msg, is.Cwe.ID)
		}
		out = append(out, engine.RawFinding{
			Tool:        a.Tool(),
			RuleID:      is.RuleID,
			RawSeverity: is.Severity,
			FilePath:    cleanPath(is.File),
			Line:        safeLine(int(is.Line)),
			Message:     msg,
		})
	}
	return out, warnings, nil
}
