package engine

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildFindings(root string, counts map[Severity]int) []Finding {
	var out []Finding
	for _, sev := range Severities {
		for i := 0; i < counts[sev]; i++ {
			line := (i + 1) * 10
			fp := Fingerprint(string(sev)+".py", CatGeneral, line, DefaultBlockSize)
			out = append(out, Finding{
				ID: FindingIDFromFingerprint(fp), Fingerprint: fp, FilePath: string(sev) + ".py", Line: line,
				Severity: sev, Tools: []string{"semgrep"}, Status: StatusOpen, RuleID: "r",
			})
		}
	}
	return out
}

func TestDetectDiscrepancy_HighUnderReported(t *testing.T) {
	sc := testContext(t, t.TempDir())
	findings := buildFindings(sc.Root, map[Severity]int{SevHigh: 2, SevMedium: 25, SevLow: 16})
	gate := GateSummary{Gate: "ci", Critical: 0, High: 0, Medium: 25, Low: 16}

	rep, err := DetectDiscrepancy(sc, gate, findings, DiscrepancyOptions{})
	require.NoError(t, err)

	assert.Equal(t, 0, rep.Delta[SevCritical])
	assert.Equal(t, 2, rep.Delta[SevHigh])
	assert.Equal(t, 0, rep.Delta[SevMedium])
	assert.Equal(t, 0, rep.Delta[SevLow])
	assert.Equal(t, FlagMismatch, rep.Flag)
	assert.True(t, rep.GateCorrectnessFailure)
	require.Len(t, rep.Missed, 2)
	for _, m := range rep.Missed {
		assert.Equal(t, SevHigh, m.Finding.Severity)
		assert.NotEmpty(t, m.ContextError, "files do not exist on disk")
	}
	assert.Contains(t, rep.Render(), "GATE CORRECTNESS FAILURE")
}

func TestDetectDiscrepancy_Match(t *testing.T) {
	sc := testContext(t, t.TempDir())
	findings := buildFindings(sc.Root, map[Severity]int{SevCritical: 1, SevLow: 3})
	rep, err := DetectDiscrepancy(sc, GateSummary{Critical: 1, Low: 3}, findings, DiscrepancyOptions{})
	require.NoError(t, err)
	assert.Equal(t, FlagMatch, rep.Flag)
	assert.False(t, rep.GateCorrectnessFailure)
	assert.Empty(t, rep.Missed)
}

func TestDetectDiscrepancy_OverReportIsMismatchOnly(t *testing.T) {
	sc := testContext(t, t.TempDir())
	rep, err := DetectDiscrepancy(sc, GateSummary{Medium: 4}, buildFindings(sc.Root, map[Severity]int{SevMedium: 1}), DiscrepancyOptions{})
	require.NoError(t, err)
	assert.Equal(t, -3, rep.Delta[SevMedium])
	assert.Equal(t, FlagMismatch, rep.Flag)
	assert.False(t, rep.GateCorrectnessFailure)
	assert.Empty(t, rep.Missed)
}

func TestDetectDiscrepancy_SkipsReportedFingerprintsAndSuppressed(t *testing.T) {
	sc := testContext(t, t.TempDir())
	findings := buildFindings(sc.Root, map[Severity]int{SevCritical: 3})
	findings[2].Status = StatusSuppressed
	gate := GateSummary{ReportedFingerprints: []string{findings[0].Fingerprint}}

	rep, err := DetectDiscrepancy(sc, gate, findings, DiscrepancyOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Delta[SevCritical])
	require.Len(t, rep.Missed, 1)
	assert.Equal(t, findings[1].Fingerprint, rep.Missed[0].Finding.Fingerprint)
}

func TestDetectDiscrepancy_AttachesSourceContext(t *testing.T) {
	root := t.TempDir()
	var lines []string
	for i := 1; i <= 20; i++ {
		lines = append(lines, "line"+string(rune('a'+i-1)))
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "svc.go"), []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	sc := testContext(t, root)
	f := Finding{Fingerprint: "x", FilePath: "svc.go", Line: 10, Severity: SevCritical, Status: StatusOpen, Tools: []string{"gosec"}}

	rep, err := DetectDiscrepancy(sc, GateSummary{}, []Finding{f}, DiscrepancyOptions{ContextLines: 3})
	require.NoError(t, err)
	require.Len(t, rep.Missed, 1)
	ctx := rep.Missed[0].Context
	require.NotNil(t, ctx)
	require.Len(t, ctx.Lines, 7)
	assert.Equal(t, 7, ctx.Lines[0].Number)
	assert.Equal(t, 13, ctx.Lines[6].Number)
	assert.True(t, ctx.Lines[3].Marked)
	assert.Contains(t, ctx.Render(), ">> 10 | linej")
}

func TestReadSourceContext_ClampsAtFileStart(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("one\ntwo\nthree\n"), 0o644))
	ctx, err := ReadSourceContext(root, "a.txt", 1, 3)
	require.NoError(t, err)
	require.Len(t, ctx.Lines, 3)
	assert.True(t, ctx.Lines[0].Marked)

	_, err = ReadSourceContext(root, "a.txt", 9, 3)
	assert.Error(t, err)
}

func TestDecodeGateSummary(t *testing.T) {
	g, err := DecodeGateSummary(strings.NewReader(`{"gate":"ci","CRITICAL":1,"High":2,"medium":3,"low":4}`))
	require.NoError(t, err)
	assert.Equal(t, GateSummary{Gate: "ci", Critical: 1, High: 2, Medium: 3, Low: 4}, g)

	_, err = DecodeGateSummary(strings.NewReader(`{"high":-1}`))
	assert.Error(t, err)
	_, err = DecodeGateSummary(strings.NewReader(`not json`))
	assert.Error(t, err)
}
