package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// RuleRef points a control at one tool rule.
type RuleRef struct {
	Tool   string `yaml:"tool"`
	RuleID string `yaml:"rule_id"`
}

// Control represents a single compliance control
type Control struct {
	ID          string    `yaml:"id"`
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Rules       []RuleRef `yaml:"rules"`
}

// Profile represents a compliance standard (e.g., PCI-DSS)
type Profile struct {
	Standard    string    `yaml:"standard"`
	Description string    `yaml:"description"`
	Controls    []Control `yaml:"controls"`
}

// defaultControls is the built-in (tool, rule_id) -> controls table.
var defaultControls = map[string][]string{
	"gosec/G101":     {"CIS-16.4", "PCI-DSS-8.2.1", "SOC2-CC6.1"},
	"gosec/G401":     {"PCI-DSS-4.2.1", "SOC2-CC6.7"},
	"gosec/G402":     {"PCI-DSS-4.2.1", "SOC2-CC6.7"},
	"gosec/G204":     {"PCI-DSS-6.2.4"},
	"bandit/B105":    {"CIS-16.4", "PCI-DSS-8.2.1"},
	"bandit/B303":    {"PCI-DSS-4.2.1"},
	"bandit/B324":    {"PCI-DSS-4.2.1"},
	"bandit/B201":    {"CIS-16.10", "SOC2-CC8.1"},
	"bandit/B506":    {"PCI-DSS-6.2.4"},
	"bandit/B602":    {"PCI-DSS-6.2.4"},
	"kics/*":         {"CIS-4.1"},
	"trivy/KSV017":   {"CIS-5.2.1", "PCI-DSS-2.2.1"},
	"trivy/DS002":    {"CIS-4.1"},
	"lynis/SSH-7408": {"CIS-5.2", "PCI-DSS-2.2.1"},
}

// ComplianceMapper attaches control ids to findings. A miss leaves tags empty.
type ComplianceMapper struct {
	Profiles map[string]Profile

	mu     sync.RWMutex
	table  map[string][]string
	warned map[string]bool
	logger *zap.Logger
}

// NewComplianceMapper creates a mapper seeded with the built-in table.
func NewComplianceMapper(logger *zap.Logger) *ComplianceMapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &ComplianceMapper{
		Profiles: make(map[string]Profile),
		table:    make(map[string][]string, len(defaultControls)),
		warned:   make(map[string]bool),
		logger:   logger.Named("compliance"),
	}
	for k, v := range defaultControls {
		m.table[k] = append([]string(nil), v...)
	}
	return m
}

// LoadProfiles reads YAML profiles from a directory
func (m *ComplianceMapper) LoadProfiles(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if !entry.IsDir() && (filepath.Ext(entry.Name()) == ".yaml" || filepath.Ext(entry.Name()) == ".yml") {
			path := filepath.Join(dir, entry.Name())
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}

			var p Profile
			if err := yaml.Unmarshal(data, &p); err != nil {
				return fmt.Errorf("failed to parse %s: %w", entry.Name(), err)
			}
			m.AddProfile(p)
			m.logger.Info("Loaded compliance profile.", zap.String("standard", p.Standard), zap.Int("controls", len(p.Controls)))
		}
	}
	return nil
}

// AddProfile registers every rule reference of a profile.
func (m *ComplianceMapper) AddProfile(p Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Profiles[p.Standard] = p
	for _, c := range p.Controls {
		for _, r := range c.Rules {
			key := ruleKey(r.Tool, r.RuleID)
			m.table[key] = unionSorted(m.table[key], []string{c.ID})
		}
	}
}

// ListStandards returns the names of loaded standards
func (m *ComplianceMapper) ListStandards() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.Profiles))
	for k := range m.Profiles {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Lookup returns the controls for a tool rule, falling back to the tool wildcard.
// Unknown rules return nil and emit one WARN per rule.
func (m *ComplianceMapper) Lookup(tool, ruleID string) []string {
	m.mu.RLock()
	ids, ok := m.table[ruleKey(tool, ruleID)]
	if !ok {
		ids, ok = m.table[ruleKey(tool, "*")]
	}
	m.mu.RUnlock()
	if ok {
		return append([]string(nil), ids...)
	}

	key := ruleKey(tool, ruleID)
	m.mu.Lock()
	if !m.warned[key] {
		m.warned[key] = true
		m.logger.Warn("No compliance mapping for rule.", zap.String("tool", tool), zap.String("rule_id", ruleID))
	}
	m.mu.Unlock()
	return nil
}

// Apply sets each finding's tags to the union of its sources' controls.
func (m *ComplianceMapper) Apply(findings []Finding) []Finding {
	out := make([]Finding, len(findings))
	for i, f := range findings {
		tags := append([]string(nil), f.ComplianceTags...)
		for _, s := range f.Sources {
			tags = unionSorted(tags, m.Lookup(s.Tool, s.RuleID))
		}
		if tags == nil {
			tags = []string{}
		}
		f.ComplianceTags = tags
		out[i] = f
	}
	return out
}

func ruleKey(tool, ruleID string) string {
	return strings.ToLower(strings.TrimSpace(tool)) + "/" + strings.ToUpper(strings.TrimSpace(ruleID))
}
