// internal/observability/logger_test.go
package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/pagelens/internal/config"
)

// bufferSink is an in-memory WriteSyncer for asserting on console output.
type bufferSink struct {
	bytes.Buffer
}

func (b *bufferSink) Sync() error { return nil }

func newSink(t *testing.T) *bufferSink {
	t.Helper()
	ResetForTest()
	t.Cleanup(ResetForTest)
	return &bufferSink{}
}

func TestInitialize(t *testing.T) {
	t.Run("console format colorizes the level", func(t *testing.T) {
		sink := newSink(t)
		Initialize(config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "pagelens",
			Colors:      config.ColorConfig{Info: "green"},
		}, sink)

		GetLogger().Named("session").Info("browser ready")

		out := sink.String()
		assert.Contains(t, out, colorGreen+"INFO"+colorReset)
		assert.Contains(t, out, "pagelens.session.")
		assert.Contains(t, out, "browser ready")
	})

	t.Run("unknown color falls back to plain label", func(t *testing.T) {
		sink := newSink(t)
		Initialize(config.LoggerConfig{
			Level:  "info",
			Format: "console",
			Colors: config.ColorConfig{Warn: "chartreuse"},
		}, sink)

		GetLogger().Warn("plain")

		assert.Contains(t, sink.String(), "WARN")
		assert.NotContains(t, sink.String(), colorReset)
	})

	t.Run("json format emits structured lines", func(t *testing.T) {
		sink := newSink(t)
		Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "JSONTest"}, sink)

		GetLogger().Warn("capture finished", zap.String("mode", "viewport"))

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(sink.Bytes(), &entry), "log output should be valid JSON")
		assert.Equal(t, "WARN", entry["level"])
		assert.Equal(t, "JSONTest", entry["logger"])
		assert.Equal(t, "capture finished", entry["msg"])
		assert.Equal(t, "viewport", entry["mode"])
	})

	t.Run("level filtering", func(t *testing.T) {
		sink := newSink(t)
		Initialize(config.LoggerConfig{Level: "warn", Format: "json"}, sink)

		GetLogger().Info("dropped")
		GetLogger().Error("kept")

		assert.NotContains(t, sink.String(), "dropped")
		assert.Contains(t, sink.String(), "kept")
	})

	t.Run("writes json to the log file", func(t *testing.T) {
		sink := newSink(t)
		logPath := filepath.Join(t.TempDir(), "pagelens.log")
		Initialize(config.LoggerConfig{
			Level:   "debug",
			Format:  "console",
			LogFile: logPath,
			MaxSize: 1,
		}, sink)

		GetLogger().Error("goes to both sinks")
		Sync()

		content, err := os.ReadFile(logPath)
		require.NoError(t, err)
		line := strings.TrimSpace(string(content))
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry), "file output is always JSON")
		assert.Equal(t, "goes to both sinks", entry["msg"])
		assert.Contains(t, sink.String(), "goes to both sinks")
	})

	t.Run("only the first call takes effect", func(t *testing.T) {
		sink := newSink(t)
		Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "First"}, sink)
		first := GetLogger()

		Initialize(config.LoggerConfig{Level: "debug", Format: "json", ServiceName: "Second"}, sink)
		second := GetLogger()

		assert.Same(t, first, second)
		second.Info("test")
		assert.Contains(t, sink.String(), "First")
		assert.NotContains(t, sink.String(), "Second")
	})
}

func TestGetLogger(t *testing.T) {
	t.Run("fallback before initialization", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		assert.NotNil(t, GetLogger())
	})

	t.Run("returns the stored logger", func(t *testing.T) {
		sink := newSink(t)
		Initialize(config.LoggerConfig{Level: "info"}, zapcore.AddSync(sink))
		assert.Same(t, globalLogger.Load(), GetLogger())
	})
}

func TestIsBenignSyncError(t *testing.T) {
	assert.True(t, isBenignSyncError(errors.New("sync /dev/stderr: invalid argument")))
	assert.True(t, isBenignSyncError(errors.New("sync /dev/stdout: inappropriate ioctl for device")))
	assert.False(t, isBenignSyncError(errors.New("disk full")))
}
