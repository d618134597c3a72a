package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/user/gosec-agg/pkg/engine"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "nested", "state.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func closedRun(t *testing.T, id string, at time.Time) *engine.ScanRun {
	t.Helper()
	sc := engine.NewScanContext("/repo", "ci", nil)
	sc.ScanID = id
	sc.Now = func() time.Time { return at }
	run := engine.NewScanRun(sc)
	require.NoError(t, run.Record(engine.ToolInvocation{Tool: "gosec", Status: engine.InvocationSuccess, RawCount: 2}))
	run.Close(at.Add(time.Second))
	return run
}

func TestSaveAndLoadScanRun(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	findings := []engine.Finding{
		{ID: "F-1", Fingerprint: "fp1", FilePath: "a.go", Line: 3, Severity: engine.SevLow, Status: engine.StatusOpen, Tools: []string{"gosec"}},
		{ID: "F-2", Fingerprint: "fp2", FilePath: "b.go", Line: 9, Severity: engine.SevCritical, Status: engine.StatusOpen, Tools: []string{"semgrep"}},
	}
	require.NoError(t, db.SaveScanRun(ctx, closedRun(t, "scan-1", at), findings))

	run, err := db.LoadScanRun(ctx, "scan-1")
	require.NoError(t, err)
	assert.True(t, run.Closed())
	assert.Equal(t, at, run.StartedAt)
	require.Len(t, run.Invocations, 1)
	assert.Equal(t, 2, run.Invocations[0].RawCount)

	loaded, err := db.LoadFindings(ctx, "scan-1")
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "F-2", loaded[0].ID, "critical first")
	assert.Equal(t, "scan-1", loaded[0].ScanID)

	require.NoError(t, db.UpdateFindingStatus(ctx, "scan-1", "F-2", engine.StatusFixed))
	loaded, err = db.LoadFindings(ctx, "scan-1")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusFixed, loaded[0].Status)

	err = db.UpdateFindingStatus(ctx, "scan-1", "F-404", engine.StatusFixed)
	assert.True(t, errors.Is(err, ErrNotFound))

	latest, err := db.LatestScanID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "scan-1", latest)
}

func TestSaveScanRun_RejectsOpenRunAndDuplicates(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	open := engine.NewScanRun(engine.NewScanContext("/repo", "ci", nil))
	assert.Error(t, db.SaveScanRun(ctx, open, nil))

	run := closedRun(t, "dup", time.Now())
	require.NoError(t, db.SaveScanRun(ctx, run, nil))
	assert.Error(t, db.SaveScanRun(ctx, run, nil))

	_, err := db.SQL().ExecContext(ctx, `UPDATE scan_runs SET target = 'x' WHERE id = 'dup'`)
	assert.Error(t, err, "closed runs cannot be modified")
}

func TestLoadScanRun_NotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := db.LoadScanRun(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = db.LatestScanID(context.Background())
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestActions_InsertOnly(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	require.NoError(t, db.SaveScanRun(ctx, closedRun(t, "scan-a", time.Now()), nil))

	a := engine.RemediationAction{
		ID: "A-1", ScanID: "scan-a", FindingID: "F-1", Pattern: "tls-insecure-skip-verify",
		FilePath: "net.go", Result: engine.ResultSuccess, ComplianceTags: []string{"PCI-DSS-4.2.1"},
		Timestamp: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, db.SaveAction(ctx, a))
	assert.Error(t, db.SaveAction(ctx, a), "ids are unique")

	actions, err := db.LoadActions(ctx, "scan-a")
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, a, actions[0])

	_, err = db.SQL().ExecContext(ctx, `UPDATE remediation_actions SET result = 'FAILED'`)
	assert.Error(t, err)
	_, err = db.SQL().ExecContext(ctx, `DELETE FROM remediation_actions`)
	assert.Error(t, err)
}
