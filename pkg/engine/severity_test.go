package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapSeverity(t *testing.T) {
	tests := []struct {
		tool, raw string
		want      Severity
		ok        bool
	}{
		{"gitleaks", "SECRET", SevCritical, true},
		{"trivy", "critical", SevCritical, true},
		{"trivy", "UNKNOWN", SevMedium, false},
		{"semgrep", "ERROR", SevHigh, true},
		{"semgrep", "WARNING", SevMedium, true},
		{"semgrep", "INFO", SevLow, true},
		{"kics", "TRACE", SevLow, true},
		{"gosec", "HIGH", SevHigh, true},
		{"bandit", "UNDEFINED", SevMedium, false},
		{"nikto", "FINDING", SevMedium, true},
		{"lynis", "SUGGESTION", SevLow, true},
		{"unheard-of", "HIGH", SevMedium, false},
	}
	for _, tt := range tests {
		t.Run(tt.tool+"/"+tt.raw, func(t *testing.T) {
			got, ok := MapSeverity(tt.tool, tt.raw)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestSeverityTableFor_ReturnsCopy(t *testing.T) {
	table := SeverityTableFor("semgrep")
	table["ERROR"] = SevLow
	got, _ := MapSeverity("semgrep", "ERROR")
	assert.Equal(t, SevHigh, got)
	assert.Nil(t, SeverityTableFor("nope"))
}

func TestParseSeverity(t *testing.T) {
	sev, ok := ParseSeverity(" high ")
	assert.True(t, ok)
	assert.Equal(t, SevHigh, sev)
	_, ok = ParseSeverity("severe")
	assert.False(t, ok)
	assert.Greater(t, SevCritical.Rank(), SevHigh.Rank())
	assert.Greater(t, SevLow.Rank(), Severity("").Rank())
}

func TestCategorize(t *testing.T) {
	assert.Equal(t, CatSecrets, Categorize("gitleaks", "aws-access-token", "AWS key"))
	assert.Equal(t, CatTLS, Categorize("gosec", "G402", "TLS InsecureSkipVerify set true."))
	assert.Equal(t, CatCrypto, Categorize("semgrep", "python.lang.security.insecure-hash-algorithms.insecure-hash-algorithm-md5", "Detected MD5 hash algorithm"))
	assert.Equal(t, CatContainerPrivilege, Categorize("kics", "privileged-container", "Container is privileged"))
	assert.Equal(t, CatIaCMisconfig, Categorize("kics", "a227ec01", "Healthcheck Not Set"))
	assert.Equal(t, CatWebMisconfig, Categorize("nikto", "999957", "The anti-clickjacking X-Frame-Options header is not present."))
	assert.Equal(t, CatGeneral, Categorize("semgrep", "style.rule", "Prefer early return"))
}
