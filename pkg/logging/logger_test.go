package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/user/gosec-agg/pkg/config"
)

func TestInitialize_JSON(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	var buf bytes.Buffer
	Initialize(config.LoggerConfig{Level: "warn", Format: "json", ServiceName: "gosec-agg"}, zapcore.AddSync(&buf))
	Get().Info("dropped")
	Get().Named("audit").Warn("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "gosec-agg.audit", entry["logger"])
	assert.Equal(t, "kept", entry["msg"])
}

func TestInitialize_OnlyOnce(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	var first, second bytes.Buffer
	Initialize(config.LoggerConfig{Level: "info", Format: "console"}, zapcore.AddSync(&first))
	Initialize(config.LoggerConfig{Level: "info", Format: "console"}, zapcore.AddSync(&second))
	Get().Info("hello")
	assert.Contains(t, first.String(), "hello")
	assert.Empty(t, second.String())
}

func TestInitialize_FileSink(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	logFile := filepath.Join(t.TempDir(), "agg.log")
	var console bytes.Buffer
	Initialize(config.LoggerConfig{Level: "debug", Format: "console", LogFile: logFile, MaxSize: 1}, zapcore.AddSync(&console))
	Get().Debug("to both")
	Sync()

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"to both"`)
	assert.Contains(t, console.String(), "to both")
}

func TestGet_BeforeInitialize(t *testing.T) {
	ResetForTest()
	assert.NotNil(t, Get())
}
