package engine

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapFinding(path string, line int, sev Severity) Finding {
	fp := Fingerprint(path, CatGeneral, line, DefaultBlockSize)
	return Finding{
		ID: FindingIDFromFingerprint(fp), Fingerprint: fp, FilePath: path, Line: line,
		Severity: sev, Tools: []string{"semgrep"}, Status: StatusOpen, Category: CatGeneral,
	}
}

func TestSnapshotOperations(t *testing.T) {
	baseline := NewUnifiedGraph()
	baseline.AddFindings([]Finding{
		snapFinding("asset1.go", 1, SevMedium), // unchanged
		snapFinding("asset2.go", 1, SevMedium), // fixed
	})

	path := filepath.Join(t.TempDir(), "snap", "baseline.json")
	require.NoError(t, baseline.SaveSnapshot(path))

	current := NewUnifiedGraph()
	current.AddFindings([]Finding{
		snapFinding("asset1.go", 2, SevMedium),
		snapFinding("asset3.go", 9, SevHigh), // new
	})

	loaded := NewUnifiedGraph()
	require.NoError(t, loaded.LoadSnapshot(path))
	require.Len(t, loaded.List(), 2)

	diff := current.CompareSnapshot(loaded)
	require.Len(t, diff.Unchanged, 1)
	assert.Equal(t, "asset1.go", diff.Unchanged[0].FilePath)
	require.Len(t, diff.New, 1)
	assert.Equal(t, "asset3.go", diff.New[0].FilePath)
	require.Len(t, diff.Fixed, 1)
	assert.Equal(t, "asset2.go", diff.Fixed[0].FilePath)
}

func TestLoadSnapshot_Errors(t *testing.T) {
	g := NewUnifiedGraph()
	assert.Error(t, g.LoadSnapshot(filepath.Join(t.TempDir(), "missing.json")))
}
