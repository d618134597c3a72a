package adapters

import (
	"encoding/json"
	"fmt"

	"github.com/user/gosec-agg/pkg/engine"
)

// TrivyAdapter parses `trivy fs|config|image -f json`.
type TrivyAdapter struct{}

type trivyReport struct {
	Results []struct {
		Target            string            `json:"Target"`
		Vulnerabilities   []json.RawMessage `json:"Vulnerabilities"`
		Misconfigurations []json.RawMessage `json:"Misconfigurations"`
		Secrets           []json.RawMessage `json:"Secrets"`
	} `json:"Results"`
}

type trivyVuln struct {
	VulnerabilityID  string `json:"VulnerabilityID"`
	PkgName          string `json:"PkgName"`
	InstalledVersion string `json:"InstalledVersion"`
	FixedVersion     string `json:"FixedVersion"`
	Title            string `json:"Title"`
	Severity         string `json:"Severity"`
}

type trivyMisconfig struct {
	ID            string `json:"ID"`
	Title         string `json:"Title"`
	Description   string `json:"Description"`
	Message       string `json:"Message"`
	Severity      string `json:"Severity"`
	CauseMetadata struct {
		StartLine int `json:"StartLine"`
	} `json:"CauseMetadata"`
}

type trivySecret struct {
	RuleID    string `json:"RuleID"`
	Title     string `json:"Title"`
	Severity  string `json:"Severity"`
	StartLine int    `json:"StartLine"`
}

func (TrivyAdapter) Tool() string { return "trivy" }

func (a TrivyAdapter) Parse(raw []byte) ([]engine.RawFinding, []ParseWarning, error) {
	var doc trivyReport
	if err := decodeEntries(raw, &doc); err != nil {
		return nil, nil, err
	}

	var out []engine.RawFinding
	var warnings []ParseWarning
	idx := 0
	warn := func(reason string) {
		warnings = append(warnings, ParseWarning{Tool: a.Tool(), Index: idx, Reason: reason})
	}
	for _, r := range doc.Results {
		target := cleanPath(r.Target)
		for _, e := range r.Vulnerabilities {
			var v trivyVuln
			if err := json.Unmarshal(e, &v); err != nil || v.VulnerabilityID == "" {
				warn(reasonOf(err, "missing VulnerabilityID"))
				idx++
				continue
			}
			msg := fmt.Sprintf("%s in %s %s", v.VulnerabilityID, v.PkgName, v.InstalledVersion)
			if v.Title != "" {
				msg += ": " + v.Title
			}
			if v.FixedVersion != "" {
				msg += " (fixed in " + v.FixedVersion + ")"
			}
			out = append(out, engine.RawFinding{
				Tool:        a.Tool(),
				RuleID:      v.VulnerabilityID,
				RawSeverity: v.Severity,
				FilePath:    target,
				Message:     msg,
				Resource:    fmt.Sprintf("%s@%s/%s", v.PkgName, v.InstalledVersion, v.VulnerabilityID),
			})
			idx++
		}
		for _, e := range r.Misconfigurations {
			var m trivyMisconfig
			if err := json.Unmarshal(e, &m); err != nil || m.ID == "" {
				warn(reasonOf(err, "missing ID"))
				idx++
				continue
			}
			out = append(out, engine.RawFinding{
				Tool:        a.Tool(),
				RuleID:      m.ID,
				RawSeverity: m.Severity,
				FilePath:    target,
				Line:        safeLine(m.CauseMetadata.StartLine),
				Message:     firstNonEmpty(m.Message, m.Title, m.Description),
			})
			idx++
		}
		for _, e := range r.Secrets {
			var s trivySecret
			if err := json.Unmarshal(e, &s); err != nil || s.RuleID == "" {
				warn(reasonOf(err, "missing RuleID"))
				idx++
				continue
			}
			out = append(out, engine.RawFinding{
				Tool:        a.Tool(),
				RuleID:      s.RuleID,
				RawSeverity: s.Severity,
				FilePath:    target,
				Line:        safeLine(s.StartLine),
				Message:     firstNonEmpty(s.Title, "Secret detected"),
			})
			idx++
		}
	}
	return out, warnings, nil
}

func reasonOf(err error, fallback string) string {
	if err != nil {
		return err.Error()
	}
	return fallback
}
