package remediation

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"text/template"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/user/gosec-agg/pkg/engine"
)

// PatternTemplate is a YAML-defined line strategy.
//
//	id: flask-debug
//	name: Flask debug mode
//	tool: semgrep
//	category: debug
//	match: 'app\.run\((.*)debug=True'
//	replace: 'app.run(${1}debug=False'
//	description: 'Disabled Flask debug mode ({{.RuleID}} at {{.FilePath}}:{{.Line}})'
//	standard: CIS-16.10
type PatternTemplate struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Tool        string `yaml:"tool"`
	Category    string `yaml:"category"`
	Match       string `yaml:"match"`
	Replace     string `yaml:"replace"`
	Description string `yaml:"description"`
	Standard    string `yaml:"standard"`
	Window      int    `yaml:"window"`
}

// templateStrategy renders its description from the finding.
type templateStrategy struct {
	*LineStrategy
	tmpl PatternTemplate
}

func (s *templateStrategy) Apply(f engine.Finding, content []byte) ([]byte, string, error) {
	out, desc, err := s.LineStrategy.Apply(f, content)
	if err != nil {
		return nil, "", err
	}
	if s.tmpl.Description != "" {
		rendered, rerr := renderString(s.tmpl.ID, s.tmpl.Description, f)
		if rerr != nil {
			return nil, "", rerr
		}
		desc = rendered
	}
	return out, desc, nil
}

// LoadTemplates reads YAML templates from dir and registers them in r.
func LoadTemplates(dir string, r *Registry, logger *zap.Logger) ([]PatternTemplate, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var loaded []PatternTemplate
	for _, entry := range entries {
		if entry.IsDir() || (filepath.Ext(entry.Name()) != ".yaml" && filepath.Ext(entry.Name()) != ".yml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		var t PatternTemplate
		if err := yaml.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", entry.Name(), err)
		}
		if t.ID == "" || t.Match == "" || t.Category == "" {
			return nil, fmt.Errorf("template %s: id, category and match are required", entry.Name())
		}
		if _, err := template.New(t.ID).Parse(t.Description); err != nil {
			return nil, fmt.Errorf("template %s: invalid description: %w", t.ID, err)
		}
		ls, err := NewLineStrategy(t.ID, engine.Category(t.Category), t.Match, t.Replace, t.Description, t.Window)
		if err != nil {
			return nil, err
		}
		tool := t.Tool
		if tool == "" {
			tool = AnyTool
		}
		r.Register(tool, engine.Category(t.Category), &templateStrategy{LineStrategy: ls, tmpl: t})
		loaded = append(loaded, t)
		logger.Info("Loaded remediation template.", zap.String("id", t.ID), zap.String("tool", tool), zap.String("category", t.Category))
	}
	sort.Slice(loaded, func(i, j int) bool { return loaded[i].ID < loaded[j].ID })
	return loaded, nil
}

// ListTemplates returns "id: name" lines for the given templates.
func ListTemplates(ts []PatternTemplate) []string {
	var list []string
	for _, t := range ts {
		list = append(list, fmt.Sprintf("%s: %s", t.ID, t.Name))
	}
	return list
}

func renderString(name, tmplStr string, data any) (string, error) {
	t, err := template.New(name).Parse(tmplStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", name, err)
	}
	return buf.String(), nil
}
