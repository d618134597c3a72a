package wrappers

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/user/gosec-agg/pkg/engine"
)

func shSpec(name, script string) ToolSpec {
	return ToolSpec{Name: name, Binary: "sh", Args: []string{"-c", script}}
}

func TestScheduler_CollectsStdoutAndStatuses(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewScheduler(2, 5*time.Second, zaptest.NewLogger(t))
	results, err := s.Run(context.Background(), t.TempDir(), []ToolSpec{
		shSpec("alpha", `echo '{"results":[]}'`),
		shSpec("beta", `echo boom >&2; exit 3`),
		{Name: "gamma", Binary: "definitely-not-a-scanner-binary"},
		{Name: "delta", Binary: "sh", Args: []string{"-c", "echo found; exit 1"}, OKExitCodes: []int{1}},
	})
	require.NoError(t, err)
	require.Len(t, results, 4)

	byTool := map[string]ToolResult{}
	for _, r := range results {
		byTool[r.Tool] = r
	}
	assert.Equal(t, engine.InvocationSuccess, byTool["alpha"].Status)
	assert.JSONEq(t, `{"results":[]}`, string(byTool["alpha"].Output))

	assert.Equal(t, engine.InvocationFailed, byTool["beta"].Status)
	var execErr *engine.ToolExecutionError
	require.True(t, errors.As(byTool["beta"].Err, &execErr))
	assert.Contains(t, execErr.Stderr, "boom")

	assert.Equal(t, engine.InvocationFailed, byTool["gamma"].Status)
	assert.Equal(t, engine.InvocationSuccess, byTool["delta"].Status)
	assert.Equal(t, "found\n", string(byTool["delta"].Output))
}

func TestScheduler_TimeoutDoesNotAffectSiblings(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewScheduler(0, 200*time.Millisecond, zaptest.NewLogger(t))
	results, err := s.Run(context.Background(), ".", []ToolSpec{
		{Name: "slow", Binary: "sleep", Args: []string{"5"}},
		shSpec("fast", "echo ok"),
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "fast", results[0].Tool)
	assert.Equal(t, engine.InvocationSuccess, results[0].Status)
	assert.Equal(t, engine.InvocationTimeout, results[1].Status)
	assert.ErrorIs(t, results[1].Err, engine.ErrToolTimeout)
	assert.Less(t, results[1].Duration, 4*time.Second)
}

func TestScheduler_ReportFromFile(t *testing.T) {
	s := NewScheduler(1, 5*time.Second, nil)
	results, err := s.Run(context.Background(), "target-dir", []ToolSpec{{
		Name:           "filetool",
		Binary:         "sh",
		Args:           []string{"-c", `printf '%s' "$1" > "$2"`, "sh", "{{.Target}}", "{{.Report}}"},
		ReportFromFile: true,
	}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, engine.InvocationSuccess, results[0].Status)
	assert.Equal(t, "target-dir", string(results[0].Output))
}

func TestScheduler_CancelledBeforeStartRunsNothing(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	marker := filepath.Join(t.TempDir(), "ran")
	results, err := NewScheduler(1, time.Second, nil).Run(ctx, ".", []ToolSpec{shSpec("x", "touch "+marker)})
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 1)
	assert.Equal(t, "x", results[0].Tool)
	assert.Equal(t, engine.InvocationFailed, results[0].Status)
	assert.ErrorIs(t, results[0].Err, context.Canceled)
	_, statErr := os.Stat(marker)
	assert.True(t, os.IsNotExist(statErr))
}

func TestScheduler_CancelKeepsCompletedResults(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	s := NewScheduler(1, 10*time.Second, nil)

	done := make(chan struct{})
	var results []ToolResult
	var err error
	go func() {
		defer close(done)
		results, err = s.Run(ctx, ".", []ToolSpec{
			shSpec("a-first", "echo one"),
			{Name: "b-hang", Binary: "sleep", Args: []string{"5"}},
			shSpec("c-never", "echo three"),
		})
	}()

	time.Sleep(500 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}

	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 3, "every configured tool is accounted for")
	assert.Equal(t, "a-first", results[0].Tool)
	assert.Equal(t, engine.InvocationSuccess, results[0].Status)
	assert.Equal(t, "b-hang", results[1].Tool)
	assert.Equal(t, engine.InvocationFailed, results[1].Status)
	assert.Equal(t, "c-never", results[2].Tool)
	assert.Equal(t, engine.InvocationFailed, results[2].Status)
	assert.ErrorIs(t, results[2].Err, context.Canceled)
	assert.Contains(t, results[2].Err.Error(), "not started")
}

func TestToolSpec_DefaultsAndMerge(t *testing.T) {
	spec, ok := DefaultToolSpec("Gitleaks")
	require.True(t, ok)
	assert.Equal(t, "gitleaks", spec.Name)
	args, err := spec.RenderArgs("/src", "/tmp/r.json")
	require.NoError(t, err)
	assert.Contains(t, args, "/src")
	assert.Contains(t, args, "/tmp/r.json")

	merged := spec.Merge(ToolSpec{Binary: "/opt/gitleaks"})
	assert.Equal(t, "/opt/gitleaks", merged.Binary)
	assert.Equal(t, spec.Args, merged.Args)

	_, ok = DefaultToolSpec("nope")
	assert.False(t, ok)
	assert.Len(t, KnownTools(), 9)

	_, err = ToolSpec{Name: "bad", Args: []string{"{{.Missing"}}.RenderArgs("a", "b")
	assert.Error(t, err)
}
