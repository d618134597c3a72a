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

func testContext(t *testing.T, root string) ScanContext {
	t.Helper()
	sc := NewScanContext(root, "tester", zap.NewNop())
	sc.ScanID = "scan-test"
	return sc
}

func TestFingerprint_SameBlockCollides(t *testing.T) {
	a := Fingerprint("src/app.go", CatCrypto, 10, DefaultBlockSize)
	b := Fingerprint("src/app.go", CatCrypto, 12, DefaultBlockSize)
	c := Fingerprint("src/app.go", CatCrypto, 15, DefaultBlockSize)
	d := Fingerprint("src/app.go", CatTLS, 10, DefaultBlockSize)
	e := Fingerprint("src/other.go", CatCrypto, 10, DefaultBlockSize)

	assert.Equal(t, a, b, "lines 10 and 12 share a block")
	assert.NotEqual(t, a, c, "line 15 starts a new block")
	assert.NotEqual(t, a, d)
	assert.NotEqual(t, a, e)
	assert.Len(t, a, 64)
}

func TestRelativePath(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))
	target := filepath.Join(root, "src", "app.go")
	require.NoError(t, os.WriteFile(target, []byte("package app\n"), 0o644))
	require.NoError(t, os.Symlink(filepath.Join(root, "src"), filepath.Join(root, "link")))

	assert.Equal(t, "src/app.go", RelativePath(root, target))
	assert.Equal(t, "src/app.go", RelativePath(root, "./src/app.go"))
	assert.Equal(t, "src/app.go", RelativePath(root, "link/app.go"))
	assert.Equal(t, "", RelativePath(root, "  "))
	assert.Equal(t, "missing/file.py", RelativePath(root, "./missing/file.py"))
}

func TestNormalize_MapsSeverityAndFingerprint(t *testing.T) {
	sc := testContext(t, t.TempDir())
	n := NewNormalizer(0)
	assert.Equal(t, DefaultBlockSize, n.BlockSize)

	findings, warnings := n.Normalize(sc, []RawFinding{
		{Tool: "semgrep", RuleID: "python.lang.security.insecure-hash", RawSeverity: "ERROR", FilePath: "app.py", Line: 10, Message: "md5 used"},
		{Tool: "Bandit", RuleID: "B303", RawSeverity: "MEDIUM", FilePath: "./app.py", Line: 12, Message: "Use of insecure MD5 hash function."},
	})
	require.Len(t, findings, 2)
	assert.Empty(t, warnings)

	assert.Equal(t, SevHigh, findings[0].Severity)
	assert.Equal(t, SevMedium, findings[1].Severity)
	assert.Equal(t, CatCrypto, findings[0].Category)
	assert.Equal(t, CatCrypto, findings[1].Category)
	assert.Equal(t, findings[0].Fingerprint, findings[1].Fingerprint)
	assert.Equal(t, []string{"bandit"}, findings[1].Tools)
	assert.Equal(t, "scan-test", findings[0].ScanID)
	assert.Equal(t, StatusOpen, findings[0].Status)
	require.Len(t, findings[0].Sources, 1)
	assert.Equal(t, "ERROR", findings[0].Sources[0].RawSeverity)
}

func TestNormalize_UnknownSeverityDefaultsToMediumWithWarning(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	sc := NewScanContext(t.TempDir(), "tester", zap.New(core))

	findings, warnings := NewNormalizer(5).Normalize(sc, []RawFinding{
		{Tool: "trivy", RuleID: "CVE-2024-0001", RawSeverity: "UNKNOWN", Resource: "alpine:3.18", Message: "CVE-2024-0001 in openssl"},
	})
	require.Len(t, findings, 1)
	assert.Equal(t, SevMedium, findings[0].Severity)
	assert.Equal(t, "alpine:3.18", findings[0].FilePath)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].String(), "UNKNOWN")
	assert.Equal(t, 1, logs.FilterMessage("Unknown severity, defaulting to MEDIUM.").Len())
}
