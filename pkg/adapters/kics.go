package adapters

import (
	"encoding/json"
	"strings"

	"github.com/user/gosec-agg/pkg/engine"
)

// KICSAdapter parses KICS results.json.
type KICSAdapter struct{}

type kicsQuery struct {
	QueryName   string `json:"query_name"`
	QueryID     string `json:"query_id"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	Files       []struct {
		FileName string `json:"file_name"`
		Line     int    `json:"line"`
	} `json:"files"`
}

type kicsReport struct {
	Queries []json.RawMessage `json:"queries"`
}

// Some older builds export "Queries" capitalised.
type kicsReportUpper struct {
	Queries []json.RawMessage `json:"Queries"`
}

func (KICSAdapter) Tool() string { return "kics" }

func (a KICSAdapter) Parse(raw []byte) ([]engine.RawFinding, []ParseWarning, error) {
	var doc kicsReport
	if err := decodeEntries(raw, &doc); err != nil {
		return nil, nil, err
	}
	if len(doc.Queries) == 0 {
		var up kicsReportUpper
		if err := json.Unmarshal(raw, &up); err == nil && len(up.Queries) > 0 {
			doc.Queries = up.Queries
		}
	}

	out := make([]engine.RawFinding, 0, 32)
	var warnings []ParseWarning
	for i, e := range doc.Queries {
		var q kicsQuery
		if err := json.Unmarshal(e, &q); err != nil {
			warnings = append(warnings, ParseWarning{Tool: a.Tool(), Index: i, Reason: err.Error()})
			continue
		}
		if q.QueryID == "" {
			warnings = append(warnings, ParseWarning{Tool: a.Tool(), Index: i, Reason: "missing query_id"})
			continue
		}
		msg := firstNonEmpty(q.QueryName, q.Description)
		for _, f := range q.Files {
			// paths from the container look like ../../scan/x or /scan/x
			fp := cleanPath(f.FileName)
			fp = strings.TrimPrefix(fp, "/scan/")
			fp = strings.TrimPrefix(fp, "scan/")
			out = append(out, engine.RawFinding{
				Tool:        a.Tool(),
				RuleID:      q.QueryID,
				RawSeverity: q.Severity,
				FilePath:    fp,
				Line:        safeLine(f.Line),
				Message:     msg,
			})
		}
	}
	return out, warnings, nil
}
