package wrappers

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"text/template"
)

// ToolSpec describes how to invoke one scanner binary.
//
// Args are text/template strings rendered with {{.Target}} and {{.Report}}.
// When ReportFromFile is set the scanner writes its report to {{.Report}},
// otherwise the report is read from stdout.
type ToolSpec struct {
	Name           string   `mapstructure:"name" yaml:"name"`
	Binary         string   `mapstructure:"binary" yaml:"binary"`
	Args           []string `mapstructure:"args" yaml:"args"`
	ReportFromFile bool     `mapstructure:"report_from_file" yaml:"report_from_file"`
	// OKExitCodes lists non-zero exit codes that mean "findings present".
	OKExitCodes []int `mapstructure:"ok_exit_codes" yaml:"ok_exit_codes"`
}

// defaultSpecs mirror the command lines each scanner needs for machine-readable output.
var defaultSpecs = map[string]ToolSpec{
	"gitleaks": {
		Binary:         "gitleaks",
		Args:           []string{"detect", "--source", "{{.Target}}", "--report-format", "json", "--report-path", "{{.Report}}", "--no-banner"},
		ReportFromFile: true,
		OKExitCodes:    []int{1},
	},
	"trivy": {
		Binary: "trivy",
		Args:   []string{"fs", "--format", "json", "--quiet", "--scanners", "vuln,misconfig,secret", "{{.Target}}"},
	},
	"semgrep": {
		Binary:      "semgrep",
		Args:        []string{"scan", "--json", "--quiet", "--config", "auto", "{{.Target}}"},
		OKExitCodes: []int{1},
	},
	"kics": {
		Binary:         "kics",
		Args:           []string{"scan", "-p", "{{.Target}}", "--report-formats", "json", "-o", "{{.Report}}", "--no-progress"},
		ReportFromFile: true,
		OKExitCodes:    []int{20, 30, 40, 50, 60},
	},
	"gosec": {
		Binary:      "gosec",
		Args:        []string{"-fmt=json", "-quiet", "{{.Target}}/..."},
		OKExitCodes: []int{1},
	},
	"bandit": {
		Binary:      "bandit",
		Args:        []string{"-r", "-f", "json", "-q", "{{.Target}}"},
		OKExitCodes: []int{1},
	},
	"nikto": {
		Binary:         "nikto",
		Args:           []string{"-h", "{{.Target}}", "-o", "{{.Report}}", "-Format", "json"},
		ReportFromFile: true,
		OKExitCodes:    []int{1},
	},
	"lynis": {
		Binary:         "lynis",
		Args:           []string{"audit", "system", "--quick", "--no-colors", "--report-file", "{{.Report}}"},
		ReportFromFile: true,
		OKExitCodes:    []int{1},
	},
	"nmap": {
		Binary:         "nmap",
		Args:           []string{"-F", "{{.Target}}", "-oX", "{{.Report}}"},
		ReportFromFile: true,
	},
}

// DefaultToolSpec returns the built-in invocation for tool.
func DefaultToolSpec(tool string) (ToolSpec, bool) {
	spec, ok := defaultSpecs[strings.ToLower(tool)]
	if !ok {
		return ToolSpec{}, false
	}
	spec.Name = strings.ToLower(tool)
	spec.Args = append([]string(nil), spec.Args...)
	spec.OKExitCodes = append([]int(nil), spec.OKExitCodes...)
	return spec, true
}

// KnownTools lists the tools with a built-in invocation.
func KnownTools() []string {
	out := make([]string, 0, len(defaultSpecs))
	for k := range defaultSpecs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Merge overlays the non-empty fields of override onto s.
func (s ToolSpec) Merge(override ToolSpec) ToolSpec {
	if override.Binary != "" {
		s.Binary = override.Binary
	}
	if len(override.Args) > 0 {
		s.Args = append([]string(nil), override.Args...)
		s.ReportFromFile = override.ReportFromFile
	}
	if len(override.OKExitCodes) > 0 {
		s.OKExitCodes = append([]int(nil), override.OKExitCodes...)
	}
	return s
}

// RenderArgs expands the argument templates.
func (s ToolSpec) RenderArgs(target, report string) ([]string, error) {
	vars := struct{ Target, Report string }{target, report}
	out := make([]string, 0, len(s.Args))
	for i, a := range s.Args {
		if !strings.Contains(a, "{{") {
			out = append(out, a)
			continue
		}
		t, err := template.New(fmt.Sprintf("%s-arg-%d", s.Name, i)).Option("missingkey=error").Parse(a)
		if err != nil {
			return nil, fmt.Errorf("failed to parse argument template %q: %w", a, err)
		}
		var buf bytes.Buffer
		if err := t.Execute(&buf, vars); err != nil {
			return nil, fmt.Errorf("failed to render argument template %q: %w", a, err)
		}
		out = append(out, buf.String())
	}
	return out, nil
}

func (s ToolSpec) okExit(code int) bool {
	for _, c := range s.OKExitCodes {
		if c == code {
			return true
		}
	}
	return false
}
