// Package remediation applies reversible, verified source fixes for findings.
package remediation

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/user/gosec-agg/pkg/engine"
)

// FixStrategy knows how to repair one kind of finding.
type FixStrategy interface {
	Name() string
	// Applicable reports whether the triggering pattern is present in content.
	Applicable(f engine.Finding, content []byte) bool
	// Apply returns the fixed content and a human-readable description.
	Apply(f engine.Finding, content []byte) ([]byte, string, error)
}

// AnyTool is the registry wildcard for strategies that apply regardless of the reporting tool.
const AnyTool = "*"

type registryKey struct {
	tool     string
	category engine.Category
}

// Registry maps (tool, category) to strategies.
type Registry struct {
	mu         sync.RWMutex
	strategies map[registryKey][]FixStrategy
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[registryKey][]FixStrategy)}
}

// DefaultRegistry returns a registry holding the built-in strategies.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, b := range builtins() {
		r.Register(AnyTool, b.category, b)
	}
	return r
}

// Register adds s for (tool, category). Use AnyTool to match every tool.
func (r *Registry) Register(tool string, category engine.Category, s FixStrategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := registryKey{tool: strings.ToLower(tool), category: category}
	r.strategies[k] = append(r.strategies[k], s)
}

// Candidates lists the strategies registered for the finding's tools and
// category, tool-specific ones first.
func (r *Registry) Candidates(f engine.Finding) []FixStrategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []FixStrategy
	seen := make(map[string]bool)
	add := func(list []FixStrategy) {
		for _, s := range list {
			if !seen[s.Name()] {
				seen[s.Name()] = true
				out = append(out, s)
			}
		}
	}
	tools := append([]string(nil), f.Tools...)
	sort.Strings(tools)
	for _, t := range tools {
		add(r.strategies[registryKey{tool: strings.ToLower(t), category: f.Category}])
	}
	add(r.strategies[registryKey{tool: AnyTool, category: f.Category}])
	return out
}

// Resolve returns the first candidate applicable to content.
func (r *Registry) Resolve(f engine.Finding, content []byte) (FixStrategy, bool) {
	for _, s := range r.Candidates(f) {
		if s.Applicable(f, content) {
			return s, true
		}
	}
	return nil, false
}

// Names lists every registered strategy name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := make(map[string]bool)
	for _, list := range r.strategies {
		for _, s := range list {
			set[s.Name()] = true
		}
	}
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// DefaultWindow is how many lines around the finding a line strategy inspects.
const DefaultWindow = 2

// LineStrategy rewrites regex matches on the lines near a finding.
type LineStrategy struct {
	ID          string
	category    engine.Category
	Match       *regexp.Regexp
	Replace     string
	Description string
	// Window is the number of lines inspected on each side of the finding line.
	// Findings without a line are matched against the whole file.
	Window int
}

// NewLineStrategy compiles a line strategy.
func NewLineStrategy(id string, category engine.Category, match, replace, description string, window int) (*LineStrategy, error) {
	re, err := regexp.Compile(match)
	if err != nil {
		return nil, fmt.Errorf("strategy %s: invalid match pattern: %w", id, err)
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &LineStrategy{ID: id, category: category, Match: re, Replace: replace, Description: description, Window: window}, nil
}

func (s *LineStrategy) Name() string { return s.ID }

// Category is the bucket this strategy repairs.
func (s *LineStrategy) Category() engine.Category { return s.category }

func (s *LineStrategy) Applicable(f engine.Finding, content []byte) bool {
	lines := splitLines(content)
	lo, hi := s.bounds(f, len(lines))
	for i := lo; i < hi; i++ {
		if s.Match.MatchString(lines[i]) {
			return true
		}
	}
	return false
}

func (s *LineStrategy) Apply(f engine.Finding, content []byte) ([]byte, string, error) {
	lines := splitLines(content)
	lo, hi := s.bounds(f, len(lines))
	changed := 0
	for i := lo; i < hi; i++ {
		if s.Match.MatchString(lines[i]) {
			lines[i] = s.Match.ReplaceAllString(lines[i], s.Replace)
			changed++
		}
	}
	if changed == 0 {
		return nil, "", fmt.Errorf("pattern %s not found near %s:%d", s.ID, f.FilePath, f.Line)
	}
	desc := s.Description
	if desc == "" {
		desc = "Applied " + s.ID
	}
	return []byte(strings.Join(lines, "\n")), fmt.Sprintf("%s (%d line(s) changed)", desc, changed), nil
}

// bounds returns the [lo, hi) line indexes inspected for f.
func (s *LineStrategy) bounds(f engine.Finding, n int) (int, int) {
	if f.Line <= 0 {
		return 0, n
	}
	lo := f.Line - 1 - s.Window
	hi := f.Line + s.Window
	if lo < 0 {
		lo = 0
	}
	if hi > n {
		hi = n
	}
	return lo, hi
}

// splitLines keeps line endings recoverable: joining with "\n" restores the input.
func splitLines(content []byte) []string {
	return strings.Split(string(content), "\n")
}
