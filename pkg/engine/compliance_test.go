package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const pciProfile = `standard: PCI-DSS-LITE
description: Subset used in tests
controls:
  - id: PCI-6.2.4
    name: Injection prevention
    description: Software is protected against injection attacks
    rules:
      - tool: semgrep
        rule_id: python.flask.security.injection.tainted-sql-string
      - tool: gosec
        rule_id: G201
`

func TestComplianceMapper_LookupBuiltinAndWildcard(t *testing.T) {
	m := NewComplianceMapper(nil)
	assert.Equal(t, []string{"PCI-DSS-4.2.1", "SOC2-CC6.7"}, m.Lookup("gosec", "g402"))
	assert.Equal(t, []string{"CIS-4.1"}, m.Lookup("KICS", "any-query-id"))
}

func TestComplianceMapper_MissWarnsOnce(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	m := NewComplianceMapper(zap.New(core))

	assert.Nil(t, m.Lookup("semgrep", "unmapped.rule"))
	assert.Nil(t, m.Lookup("semgrep", "unmapped.rule"))
	assert.Equal(t, 1, logs.FilterMessage("No compliance mapping for rule.").Len())
}

func TestComplianceMapper_LoadProfiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pci.yaml"), []byte(pciProfile), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644))

	m := NewComplianceMapper(zap.NewNop())
	require.NoError(t, m.LoadProfiles(dir))
	assert.Equal(t, []string{"PCI-DSS-LITE"}, m.ListStandards())
	assert.Equal(t, []string{"PCI-6.2.4"}, m.Lookup("semgrep", "python.flask.security.injection.tainted-sql-string"))
	assert.Equal(t, []string{"PCI-6.2.4"}, m.Lookup("gosec", "G201"))
}

func TestComplianceMapper_LoadProfilesRejectsBadYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yml"), []byte("controls: [unterminated"), 0o644))
	assert.Error(t, NewComplianceMapper(nil).LoadProfiles(dir))
}

func TestComplianceMapper_ApplyUnionsSources(t *testing.T) {
	m := NewComplianceMapper(zap.NewNop())
	out := m.Apply([]Finding{
		{Sources: []SourceRef{{Tool: "gosec", RuleID: "G401"}, {Tool: "bandit", RuleID: "B303"}}},
		{Sources: []SourceRef{{Tool: "semgrep", RuleID: "nothing"}}},
	})
	assert.Equal(t, []string{"PCI-DSS-4.2.1", "SOC2-CC6.7"}, out[0].ComplianceTags)
	assert.NotNil(t, out[1].ComplianceTags)
	assert.Empty(t, out[1].ComplianceTags)
}
