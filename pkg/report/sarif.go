package report

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/user/gosec-agg/pkg/engine"
)

const (
	// ToolName is the SARIF driver name.
	ToolName     = "gosec-agg"
	sarifVersion = "2.1.0"
	sarifSchema  = "https://json.schemastore.org/sarif-2.1.0.json"
)

// Version is stamped into SARIF output.
var Version = "dev"

type Log struct {
	Version string `json:"version"`
	Schema  string `json:"$schema"`
	Runs    []*Run `json:"runs"`
}

type Run struct {
	Tool    *Tool     `json:"tool"`
	Results []*Result `json:"results"`
}

type Tool struct {
	Driver *ToolComponent `json:"driver"`
}

type ToolComponent struct {
	Name    string                 `json:"name"`
	Version *string                `json:"version,omitempty"`
	Rules   []*ReportingDescriptor `json:"rules,omitempty"`
}

type ReportingDescriptor struct {
	ID               string                    `json:"id"`
	ShortDescription *MultiformatMessageString `json:"shortDescription,omitempty"`
	Properties       PropertyBag               `json:"properties,omitempty"`
}

type Result struct {
	RuleID              string            `json:"ruleId"`
	Message             *Message          `json:"message"`
	Level               Level             `json:"level,omitempty"`
	Locations           []*Location       `json:"locations,omitempty"`
	PartialFingerprints map[string]string `json:"partialFingerprints,omitempty"`
	Properties          PropertyBag       `json:"properties,omitempty"`
}

type Location struct {
	PhysicalLocation *PhysicalLocation `json:"physicalLocation,omitempty"`
}

type PhysicalLocation struct {
	ArtifactLocation *ArtifactLocation `json:"artifactLocation,omitempty"`
	Region           *Region           `json:"region,omitempty"`
}

type ArtifactLocation struct {
	URI string `json:"uri"`
}

type Region struct {
	StartLine int `json:"startLine"`
}

type Message struct {
	Text string `json:"text"`
}

type MultiformatMessageString struct {
	Text string `json:"text"`
}

type PropertyBag map[string]interface{}

type Level string

const (
	LevelError   Level = "error"
	LevelWarning Level = "warning"
	LevelNote    Level = "note"
)

// BuildSARIF converts findings into a single-run SARIF log. Suppressed findings are omitted.
func BuildSARIF(findings []engine.Finding, name, version string) *Log {
	rules := map[string]*ReportingDescriptor{}
	results := make([]*Result, 0, len(findings))
	for _, f := range findings {
		if f.Status == engine.StatusSuppressed {
			continue
		}
		ruleID := f.RuleID
		if ruleID == "" {
			ruleID = string(f.Category)
		}
		if _, ok := rules[ruleID]; !ok {
			rules[ruleID] = &ReportingDescriptor{
				ID:               ruleID,
				ShortDescription: &MultiformatMessageString{Text: f.Message},
				Properties:       PropertyBag{"category": string(f.Category)},
			}
		}

		r := &Result{
			RuleID:              ruleID,
			Message:             &Message{Text: strings.TrimSpace(f.Message)},
			Level:               sevToLevel(f.Severity),
			PartialFingerprints: map[string]string{"gosecAgg/v1": f.Fingerprint},
			Properties: PropertyBag{
				"severity":           string(f.Severity),
				"contributing_tools": f.Tools,
				"status":             string(f.Status),
			},
		}
		if len(f.ComplianceTags) > 0 {
			r.Properties["compliance_tags"] = f.ComplianceTags
		}
		if uri := toURI(f.FilePath); uri != "" {
			loc := &PhysicalLocation{ArtifactLocation: &ArtifactLocation{URI: uri}}
			if f.Line > 0 {
				loc.Region = &Region{StartLine: f.Line}
			}
			r.Locations = []*Location{{PhysicalLocation: loc}}
		}
		results = append(results, r)
	}

	ids := make([]string, 0, len(rules))
	for id := range rules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	driver := &ToolComponent{Name: name}
	if version != "" {
		driver.Version = &version
	}
	for _, id := range ids {
		driver.Rules = append(driver.Rules, rules[id])
	}

	return &Log{
		Version: sarifVersion,
		Schema:  sarifSchema,
		Runs:    []*Run{{Tool: &Tool{Driver: driver}, Results: results}},
	}
}

func sevToLevel(s engine.Severity) Level {
	switch s {
	case engine.SevCritical, engine.SevHigh:
		return LevelError
	case engine.SevMedium:
		return LevelWarning
	default:
		return LevelNote
	}
}

func toURI(p string) string {
	p = filepath.ToSlash(strings.TrimSpace(p))
	for strings.HasPrefix(p, "../") {
		p = strings.TrimPrefix(p, "../")
	}
	return strings.TrimPrefix(p, "./")
}
